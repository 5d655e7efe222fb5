package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS sets Strict-Transport-Security: one year, subdomains included.
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// SecureCookies forces Secure, HttpOnly and SameSite=Strict onto every
// Set-Cookie header the wrapped handler emits. The session cookie carries the
// user's access token, so a missing flag is never acceptable.
func SecureCookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&secureCookieWriter{ResponseWriter: w}, r)
	})
}

type secureCookieWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *secureCookieWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// WriteHeader hardens any pending Set-Cookie headers just before they are
// flushed to the client.
func (w *secureCookieWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.ResponseWriter.Header()
	if cookies := header["Set-Cookie"]; len(cookies) > 0 {
		header.Del("Set-Cookie")
		for _, cookie := range cookies {
			header.Add("Set-Cookie", hardenCookie(cookie))
		}
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// hardenCookie appends Secure, HttpOnly and SameSite=Strict unless the cookie
// already carries them.
func hardenCookie(cookie string) string {
	parts := strings.Split(cookie, ";")

	var hasSecure, hasHTTPOnly, hasSameSite bool
	for i, p := range parts {
		p = strings.TrimSpace(p)
		parts[i] = p

		switch {
		case strings.EqualFold(p, "secure"):
			hasSecure = true
		case strings.EqualFold(p, "httponly"):
			hasHTTPOnly = true
		case len(p) >= len("samesite") && strings.EqualFold(p[:len("samesite")], "samesite"):
			hasSameSite = true
		}
	}

	if !hasSecure {
		parts = append(parts, "Secure")
	}
	if !hasHTTPOnly {
		parts = append(parts, "HttpOnly")
	}
	if !hasSameSite {
		parts = append(parts, "SameSite=Strict")
	}
	return strings.Join(parts, "; ")
}

// RequireHTTPS redirects plain-HTTP requests to HTTPS. Only for deployments
// where this process terminates TLS itself; behind a TLS-terminating proxy
// the X-Forwarded-Proto header marks the request as already secure.
func RequireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secure := r.TLS != nil ||
			r.Header.Get("X-Forwarded-Proto") == "https" ||
			r.URL.Scheme == "https"
		if !secure {
			http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsHostAllowed validates a host against the allowed hosts list, ignoring
// ports on either side. Guards the HTTP→HTTPS redirect against host-header
// poisoning. An empty list allows everything.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	host = strings.ToLower(strings.TrimSpace(host))
	bare := stripPort(host)

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if host == allowed || bare == stripPort(allowed) {
			return true
		}
	}
	return false
}

// stripPort removes a trailing port and any surrounding IPv6 brackets.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
