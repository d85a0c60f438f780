package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// UsersHandler serves preference reads and writes.
type UsersHandler struct {
	users  interfaces.UserService
	logger arbor.ILogger
}

// NewUsersHandler creates a new UsersHandler
func NewUsersHandler(users interfaces.UserService, logger arbor.ILogger) *UsersHandler {
	return &UsersHandler{
		users:  users,
		logger: logger,
	}
}

// GetPreferencesHandler handles GET /users/{userId}/preferences
func (h *UsersHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	userID := preferencesUserID(r.URL.Path)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	pref, err := h.users.GetPreference(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load preference")
		WriteServiceError(w, err, "Failed to load preference")
		return
	}
	if pref == nil {
		WriteError(w, http.StatusNotFound, "No preference saved for user")
		return
	}

	WriteJSON(w, http.StatusOK, pref)
}

// PutPreferencesHandler handles PUT /users/{userId}/preferences. The
// path user ID always wins over one in the body.
func (h *UsersHandler) PutPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	userID := preferencesUserID(r.URL.Path)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	var pref models.UserPreference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	pref.UserID = userID

	if err := h.users.PutPreference(r.Context(), &pref); err != nil {
		WriteServiceError(w, err, "Failed to save preference")
		return
	}

	WriteJSON(w, http.StatusOK, &pref)
}

// preferencesUserID extracts the user ID from
// /users/{userId}/preferences.
func preferencesUserID(path string) string {
	id := extractIDFromPath(path, "/users/")
	id = strings.TrimSuffix(id, "/preferences")
	return strings.TrimSuffix(id, "/")
}
