package api

import "net/http"

type TranscriptsHandler struct {
	store Store
}

// List returns the caller's transcripts, newest first.
func (h *TranscriptsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	transcripts, err := h.store.ListTranscripts(r.Context(), UserID(r), p.Limit, p.Offset)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, transcripts)
}
