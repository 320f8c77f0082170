package api

import (
	"net/http"

	"github.com/snarg/vox-engine/internal/database"
)

type PrefsHandler struct {
	store Store
}

// Get returns the caller's preferences, falling back to defaults when the
// user has never saved any.
func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.store.GetPreferences(r.Context(), UserID(r))
	if err != nil {
		WriteFault(w, err)
		return
	}
	if prefs == nil {
		prefs = database.DefaultPreferences(UserID(r))
	}
	WriteJSON(w, http.StatusOK, prefs)
}

// Put replaces the caller's preferences. Validation lives on the store type.
func (h *PrefsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var prefs database.Preferences
	if err := DecodeJSON(r, &prefs); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	prefs.UserID = UserID(r)
	if err := h.store.UpsertPreferences(r.Context(), &prefs); err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, prefs)
}
