package api

import (
	"net/http"

	"github.com/snarg/vox-engine/internal/database"
)

type JobsHandler struct {
	store Store
}

// List returns the caller's transcription jobs. Daily summary jobs are
// internal bookkeeping and never appear here (the store query filters them).
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.store.JobsByUser(r.Context(), UserID(r), p.Limit, p.Offset)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Get returns one of the caller's transcription jobs. Foreign and internal
// jobs both read as absent.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := PathUUID(r, "job_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if job.UserID != UserID(r) || job.Kind != database.JobTranscription {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
