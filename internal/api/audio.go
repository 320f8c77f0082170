package api

import (
	"net/http"
	"strings"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/storage"
)

type AudioHandler struct {
	store Store
	reg   Registrar
	blobs storage.BlobStore
}

type registerAudioRequest struct {
	BlobKey    string            `json:"blob_key"`
	SizeBytes  int64             `json:"size_bytes"`
	RecordedAt database.FlexTime `json:"recorded_at"`
}

// Register records an uploaded blob and enqueues transcription.
func (h *AudioHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAudioRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	userID := UserID(r)
	if req.BlobKey != "" && !strings.HasPrefix(req.BlobKey, "audio/"+userID+"/") {
		WriteError(w, http.StatusForbidden, "blob_key outside caller's namespace")
		return
	}

	file, job, err := h.reg.RegisterAudio(r.Context(), userID, req.BlobKey, req.SizeBytes, req.RecordedAt.Time)
	if err != nil {
		WriteFault(w, err)
		return
	}
	// job is nil when the blob was already queued; the registration still
	// succeeds.
	resp := struct {
		*database.AudioFile
		JobID string `json:"job_id,omitempty"`
	}{AudioFile: file}
	if job != nil {
		resp.JobID = job.JobID.String()
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// List returns the caller's audio objects.
func (h *AudioHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := h.store.ListAudioFiles(r.Context(), UserID(r), p.Limit, p.Offset)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, files)
}

// Get returns one audio object. A file owned by someone else is a 403, not a
// 404: the ID space is unguessable UUIDs, so existence is not a secret.
func (h *AudioHandler) Get(w http.ResponseWriter, r *http.Request) {
	fileID, err := PathUUID(r, "file_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, err := h.store.GetAudioFileByID(r.Context(), fileID)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if file.UserID != UserID(r) {
		WriteError(w, http.StatusForbidden, "not the owner")
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// Delete soft-deletes the metadata row.
func (h *AudioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID, err := PathUUID(r, "file_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.DeleteAudioFile(r.Context(), UserID(r), fileID); err != nil {
		WriteFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Presign returns a time-limited direct-upload URL for a key inside the
// caller's namespace.
func (h *AudioHandler) Presign(w http.ResponseWriter, r *http.Request) {
	key, ok := QueryString(r, "key")
	if !ok {
		WriteError(w, http.StatusBadRequest, "key is required")
		return
	}
	if !strings.HasPrefix(key, "audio/"+UserID(r)+"/") {
		WriteError(w, http.StatusForbidden, "key outside caller's namespace")
		return
	}

	url, err := h.blobs.SignForUpload(r.Context(), key)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if url == "" {
		WriteError(w, http.StatusNotImplemented, "presigned uploads not supported by this storage backend")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"url": url, "key": key})
}
