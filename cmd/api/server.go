package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"ledgerlink/internal/interfaces/scheduler"
	"ledgerlink/internal/shared/config"
	"ledgerlink/internal/shared/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Handler      http.Handler
	Addr         string
	TLSEnabled   bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
	AllowedHosts []string
}

// NewServerConfigFromConfig creates ServerConfig from application config.
func NewServerConfigFromConfig(handler http.Handler, cfg *config.Config) ServerConfig {
	return ServerConfig{
		Handler:      handler,
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		TLSEnabled:   cfg.TLS.Enabled,
		CertPath:     cfg.TLS.CertPath,
		KeyPath:      cfg.TLS.KeyPath,
		RedirectHTTP: cfg.TLS.RedirectHTTP,
		AllowedHosts: cfg.Server.AllowedHosts,
	}
}

// StartServers starts the API server and, when TLS with redirect is on, a
// plain-HTTP listener on :80 that bounces everything to HTTPS. Returns both
// servers; the redirect server is nil when not enabled.
func StartServers(scfg ServerConfig) (*http.Server, *http.Server) {
	srv := &http.Server{
		Addr:         scfg.Addr,
		Handler:      scfg.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectSrv *http.Server
	if scfg.TLSEnabled && scfg.RedirectHTTP {
		redirectSrv = newRedirectServer(scfg.AllowedHosts)
		go func() {
			log.Println("HTTP redirect server starting on :80")
			if err := redirectSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP redirect server error: %v", err)
			}
		}()
	}

	go func() {
		var err error
		if scfg.TLSEnabled {
			log.Printf("HTTPS server starting on %s", scfg.Addr)
			err = srv.ListenAndServeTLS(scfg.CertPath, scfg.KeyPath)
		} else {
			log.Printf("HTTP server starting on %s", scfg.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	return srv, redirectSrv
}

// GracefulShutdown stops the scheduler first, so no refresh job is submitted
// to a dying server, then drains both listeners within the timeout.
func GracefulShutdown(srv, redirectSrv *http.Server, sched *scheduler.Scheduler, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if sched != nil {
		sched.Shutdown(timeout)
	}

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down HTTP redirect server: %v", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down main server: %v", err)
	}

	log.Println("Server stopped")
}

// newRedirectServer answers every request with a permanent redirect to the
// HTTPS origin. The host is validated against the allow list so a forged Host
// or X-Forwarded-Host header can't steer clients elsewhere.
func newRedirectServer(allowedHosts []string) *http.Server {
	redirect := func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}

		if !middleware.IsHostAllowed(host, allowedHosts) {
			http.Error(w, "Invalid host", http.StatusBadRequest)
			return
		}

		// Drop a trailing :port, leaving bracketed IPv6 hosts intact.
		if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
			host = host[:idx]
		}

		http.Redirect(w, r, "https://"+host+r.RequestURI, http.StatusMovedPermanently)
	}

	return &http.Server{
		Addr:         ":80",
		Handler:      http.HandlerFunc(redirect),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
