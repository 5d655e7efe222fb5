package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/infrastructure/provider"
)

// ErrorResponse is the envelope for every failed request: a stable machine
// code plus a human-readable message with guidance. Raw provider payloads
// and credentials never appear here.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

// writeDomainError translates domain and provider errors into the stable
// error taxonomy. Anything unrecognized is logged and reported as internal.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, link.ErrMissingCallbackState):
		writeError(w, http.StatusBadRequest, "MISSING_CALLBACK_STATE",
			"The callback is missing its state identifier. Return to the app and restart the bank link.")
	case errors.Is(err, link.ErrNoActiveAttempt):
		writeError(w, http.StatusNotFound, "NO_ACTIVE_ATTEMPT",
			"No link attempt is in progress. Start a new bank link from the app.")
	case errors.Is(err, link.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND",
			"This bank connection does not exist.")
	case errors.Is(err, link.ErrAttemptInProgress):
		writeError(w, http.StatusConflict, "EXCHANGE_IN_PROGRESS",
			"This bank link is still being finalized. Try again in a moment.")
	case errors.Is(err, link.ErrBankLinkFailed):
		writeError(w, http.StatusUnprocessableEntity, "BANK_LINK_FAILED",
			"The bank declined the connection. Start a new link attempt.")
	case errors.Is(err, provider.ErrRejected):
		writeError(w, http.StatusBadRequest, "PROVIDER_REJECTED",
			"The bank provider rejected the request. Reconnect this bank from the app.")
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE",
			"The bank provider is temporarily unavailable. Try again shortly.")
	default:
		log.Printf("Unhandled error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Something went wrong. If this keeps happening, contact support.")
	}
}

// writeUnauthenticatedCallback covers the session expiring during the bank's
// external redirect. The attempt survives (it is keyed by user, not session),
// so the client only needs to re-authenticate and retry the callback.
func writeUnauthenticatedCallback(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED_CALLBACK",
		"Your session expired during the bank login. Sign in again and retry — the bank link is still pending.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
