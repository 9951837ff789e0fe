package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/preference"
)

// PreferenceHandler handles the per-user preference endpoints.
type PreferenceHandler struct {
	prefs  *preference.Store
	logger *zap.Logger
}

func NewPreferenceHandler(prefs *preference.Store, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, logger: logger}
}

// Get handles GET /users/{userId}/preferences
//
// @Summary  Get a user's notification preferences (created lazily)
// @Tags     preferences
// @Produce  json
// @Param    userId  path      string  true  "User ID"
// @Success  200     {object}  domain.Preferences
// @Router   /users/{userId}/preferences [get]
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	p, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Update handles PUT /users/{userId}/preferences
//
// @Summary  Partially update a user's notification preferences
// @Tags     preferences
// @Accept   json
// @Produce  json
// @Param    userId  path      string                    true  "User ID"
// @Param    body    body      domain.PreferencesUpdate  true  "Fields to overwrite"
// @Success  200     {object}  domain.Preferences
// @Failure  400     {object}  map[string]any
// @Router   /users/{userId}/preferences [put]
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var update domain.PreferencesUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.prefs.Update(r.Context(), userID, &update)
	if err != nil {
		h.logger.Warn("update preferences failed",
			zap.String("user_id", userID), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
