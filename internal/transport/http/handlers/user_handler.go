package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/service"
	"github.com/nkresic/strand/internal/transport/http/middleware"
)

type UserHandler struct {
	userService     *service.UserService
	presenceService *service.PresenceService
}

func NewUserHandler(userService *service.UserService, presenceService *service.PresenceService) *UserHandler {
	return &UserHandler{userService: userService, presenceService: presenceService}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.userService.Get(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR me: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.UpdateSettingsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	user, err := h.userService.UpdateSettings(r.Context(), userID, input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, "INVALID_SETTINGS", "Unknown visibility value")
		} else {
			log.Printf("ERROR update settings: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Heartbeat keeps the caller marked online; clients hit it periodically when
// they have no WebSocket connection open.
func (h *UserHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.presenceService.Heartbeat(r.Context(), userID); err != nil {
		log.Printf("ERROR heartbeat: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) Presence(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	user, err := h.userService.Get(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		} else {
			log.Printf("ERROR presence: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	online, err := h.presenceService.IsOnline(r.Context(), targetID)
	if err != nil {
		log.Printf("ERROR presence: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	resp := map[string]any{
		"user_id": user.ID,
		"online":  online,
	}
	// last_seen only matters while offline, and only when the user shares it.
	if !online && user.Privacy.LastSeen == domain.VisibilityEveryone {
		resp["last_seen_at"] = user.LastSeenAt
	}

	writeJSON(w, http.StatusOK, resp)
}
