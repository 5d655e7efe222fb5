package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/shared/middleware"
)

// LinkHandler exposes the bank-link lifecycle over HTTP
type LinkHandler struct {
	linkService *link.Service
	production  bool
}

// NewLinkHandler creates a new link handler. production gates the sandbox
// webhook self-test endpoint.
func NewLinkHandler(linkService *link.Service, production bool) *LinkHandler {
	return &LinkHandler{linkService: linkService, production: production}
}

// HTTP request/response types (transport layer concerns)
type LinkTokenResponse struct {
	LinkToken string `json:"linkToken"`
}

type ExchangeRequest struct {
	PublicToken      string `json:"publicToken"`
	InstitutionName  string `json:"institutionName"`
	OAuthStateID     string `json:"oauthStateId,omitempty"`
	RequiresRedirect bool   `json:"requiresRedirect,omitempty"`
}

type CallbackRequest struct {
	OAuthStateID  string           `json:"oauthStateId"`
	CachedPayload *ExchangeRequest `json:"cachedPayload,omitempty"`
}

type ExitRequest struct {
	ErrorCode string `json:"errorCode,omitempty"`
}

type LinkResultResponse struct {
	Success         bool   `json:"success"`
	Pending         bool   `json:"pending,omitempty"`
	ItemID          string `json:"itemId,omitempty"`
	InstitutionName string `json:"institutionName,omitempty"`
}

type ItemResponse struct {
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
	Status          string `json:"status"`
	LinkedAt        string `json:"linkedAt"`
	LastRefreshedAt string `json:"lastRefreshedAt,omitempty"`
}

type WebhookTestRequest struct {
	ItemID string `json:"itemId"`
	Type   string `json:"type"`
	Code   string `json:"code"`
}

// HandleCreateToken issues a hosted-link token and opens a fresh attempt
func (h *LinkHandler) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	attempt, err := h.linkService.CreateLinkToken(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LinkTokenResponse{LinkToken: attempt.LinkToken})
}

// HandleOpened records that the hosted UI was presented. Best-effort: a
// failure here never blocks the client.
func (h *LinkHandler) HandleOpened(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.linkService.MarkOpened(r.Context(), userID); err != nil {
		log.Printf("User %d: Failed to mark link opened: %v", userID, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleExchange is the direct (non-redirect) completion path: the hosted UI
// reported a public token and the exchange runs now, unless the institution
// requires an external redirect, in which case the payload is cached and the
// callback finishes the job.
func (h *LinkHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON.")
		return
	}
	if req.PublicToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "publicToken is required.")
		return
	}

	payload := link.SuccessPayload{
		PublicToken:     req.PublicToken,
		InstitutionName: req.InstitutionName,
		OAuthStateID:    req.OAuthStateID,
	}
	result, err := h.linkService.CompleteSuccess(r.Context(), userID, payload, req.RequiresRedirect)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(result))
}

// HandleCallback resolves the return from the bank's external OAuth login.
// Auth is optional on this route: an expired session gets a structured
// UNAUTHENTICATED_CALLBACK telling the client the attempt is still pending.
func (h *LinkHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticatedCallback(w)
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON.")
		return
	}

	var cached *link.SuccessPayload
	if req.CachedPayload != nil {
		cached = &link.SuccessPayload{
			PublicToken:     req.CachedPayload.PublicToken,
			InstitutionName: req.CachedPayload.InstitutionName,
			OAuthStateID:    req.CachedPayload.OAuthStateID,
		}
	}

	result, err := h.linkService.Reconcile(r.Context(), userID, req.OAuthStateID, cached)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(result))
}

// HandleExit records that the user abandoned the hosted UI or it errored out
func (h *LinkHandler) HandleExit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Body is optional on exit
	var req ExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON.")
		return
	}

	if err := h.linkService.Abort(r.Context(), userID, req.ErrorCode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleListItems returns the user's linked institution connections
func (h *LinkHandler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	items, err := h.linkService.ListItems(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp := ItemResponse{
			ItemID:          item.ID,
			InstitutionName: item.InstitutionName,
			Status:          string(item.Status),
			LinkedAt:        item.LinkedAt.Format(time.RFC3339),
		}
		if item.LastRefreshedAt != nil {
			resp.LastRefreshedAt = item.LastRefreshedAt.Format(time.RFC3339)
		}
		response = append(response, resp)
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleRefresh pulls fresh account data for one linked item
func (h *LinkHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := r.PathValue("itemId")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Item ID is required.")
		return
	}

	accounts, err := h.linkService.Refresh(r.Context(), userID, itemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// HandleDisconnect revokes a linked item. Soft delete: history stays queryable.
func (h *LinkHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := r.PathValue("itemId")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Item ID is required.")
		return
	}

	if err := h.linkService.Disconnect(r.Context(), userID, itemID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleWebhookTest fires a sandbox webhook for one of the user's items.
// Disabled in production.
func (h *LinkHandler) HandleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if h.production {
		writeError(w, http.StatusForbidden, "SANDBOX_ONLY", "Webhook self-test is disabled in production.")
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req WebhookTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON.")
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "itemId is required.")
		return
	}

	if err := h.linkService.FireTestWebhook(r.Context(), userID, req.ItemID, req.Type, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func toResultResponse(result *link.Result) LinkResultResponse {
	return LinkResultResponse{
		Success:         !result.Pending,
		Pending:         result.Pending,
		ItemID:          result.ItemID,
		InstitutionName: result.InstitutionName,
	}
}
