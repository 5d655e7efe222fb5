package middleware

import (
	"context"
	"net/http"
	"strings"

	"ledgerlink/internal/shared/auth"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	EmailKey  contextKey = "email"
)

// Auth validates the JWT from the access_token cookie or Authorization
// header and injects the user ID into the request context. Requests
// without a valid token get 401.
func Auth(jwt *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFromRequest(jwt, r)
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth injects the user ID when a valid token is present but
// lets unauthenticated requests through. Used on the bank redirect
// callback, where the browser session may have expired mid-flow; the
// handler decides how to respond when no user is attached.
func OptionalAuth(jwt *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := claimsFromRequest(jwt, r); ok {
				ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
				ctx = context.WithValue(ctx, EmailKey, claims.Email)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromRequest(jwt *auth.JWT, r *http.Request) (*auth.JWTClaims, bool) {
	token := extractToken(r)
	if token == "" {
		return nil, false
	}

	claims, err := jwt.Validate(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

// UserIDFromContext returns the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
