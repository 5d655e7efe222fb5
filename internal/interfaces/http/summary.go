package http

import (
	"log"
	"net/http"

	"ledgerlink/internal/domain/summary"
	"ledgerlink/internal/shared/middleware"
)

// SummaryHandler serves the derived monthly financial summary
type SummaryHandler struct {
	engine *summary.Engine
}

func NewSummaryHandler(engine *summary.Engine) *SummaryHandler {
	return &SummaryHandler{engine: engine}
}

// HandleGetSummary computes current and previous month totals for the
// authenticated user. Fresh computation per request; nothing is persisted.
func (h *SummaryHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.engine.Compute(r.Context(), userID)
	if err != nil {
		log.Printf("Error computing summary for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to compute the monthly summary. Try again later.")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
