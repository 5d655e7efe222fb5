package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// linkCallbackPath is exempt from CORS origin checks: the bank's OAuth
// redirect arrives from the institution's origin, which we cannot know
// in advance.
const linkCallbackPath = "/api/link/callback"

// CORS restricts cross-origin requests to the configured allowed hosts.
// With an empty list every origin is allowed (development mode).
func CORS(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if strings.HasPrefix(r.URL.Path, linkCallbackPath) || len(allowedHosts) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" {
				if !isOriginAllowed(origin, allowedHosts) {
					http.Error(w, "Origin not allowed", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowedHosts []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	originHost := strings.ToLower(u.Host)
	originHostname := strings.ToLower(u.Hostname())

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		allowedHostname := allowed
		if idx := strings.Index(allowed, ":"); idx != -1 {
			allowedHostname = allowed[:idx]
		}

		if originHost == allowed || originHostname == allowedHostname {
			return true
		}
	}

	return false
}
