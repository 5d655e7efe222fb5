package http

import (
	"encoding/json"
	"log"
	"net/http"

	"ledgerlink/internal/domain/notification"
	"ledgerlink/internal/shared/middleware"
)

type NotificationHandler struct {
	notificationService *notification.Service
}

func NewNotificationHandler(notificationService *notification.Service) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

type RegisterDeviceRequest struct {
	Token string `json:"token"`
}

const maxNotificationBodySize = 1 << 20 // 1 MiB

// HandleRegisterDevice handles POST /api/notifications/register-device
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBodySize)
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON.")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required.")
		return
	}

	if err := h.notificationService.RegisterDevice(r.Context(), userID, req.Token); err != nil {
		log.Printf("Error registering device for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register device.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}
