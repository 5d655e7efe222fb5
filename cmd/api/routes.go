package main

import (
	"log"
	"net/http"

	"ledgerlink/internal/shared/config"
	"ledgerlink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", HandleHealth)

	authMiddleware := middleware.Auth(deps.JWT)
	optionalAuth := middleware.OptionalAuth(deps.JWT)

	// Link lifecycle
	mux.Handle("POST /api/link/token", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleCreateToken)))
	mux.Handle("POST /api/link/opened", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleOpened)))
	mux.Handle("POST /api/link/exchange", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleExchange)))
	mux.Handle("POST /api/link/exit", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleExit)))
	mux.Handle("GET /api/link/items", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleListItems)))
	mux.Handle("POST /api/link/{itemId}/refresh", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleRefresh)))
	mux.Handle("DELETE /api/link/{itemId}", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleDisconnect)))
	mux.Handle("POST /api/link/webhook-test", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleWebhookTest)))

	// The oauth redirect callback tolerates an expired session: the handler
	// answers UNAUTHENTICATED_CALLBACK instead of a bare 401.
	mux.Handle("POST /api/link/callback", optionalAuth(http.HandlerFunc(deps.LinkHandler.HandleCallback)))

	// Derived summary
	mux.Handle("GET /api/summary", authMiddleware(http.HandlerFunc(deps.SummaryHandler.HandleGetSummary)))

	// Push notification device registration
	mux.Handle("POST /api/notifications/register-device", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))

	// OpenTelemetry middleware when telemetry is enabled
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}

// HandleHealth reports process liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
