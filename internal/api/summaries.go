package api

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/keyvault"
)

type SummariesHandler struct {
	store Store
	keys  keyvault.Vault
}

// key fetches the caller's decryption key. Without a provisioned key the
// caller cannot have any summaries, so the read paths treat that as empty.
func (h *SummariesHandler) key(r *http.Request) ([]byte, error) {
	return h.keys.GetKey(r.Context(), UserID(r))
}

// List returns the caller's summaries, newest first, decrypted.
func (h *SummariesHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.key(r)
	if fault.Is(err, fault.NotFound) {
		WriteJSON(w, http.StatusOK, []database.DailySummary{})
		return
	}
	if err != nil {
		WriteFault(w, err)
		return
	}
	summaries, err := h.store.ListSummaries(r.Context(), key, UserID(r), p.Limit)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// Get returns the decrypted summary for one date (YYYY-MM-DD).
func (h *SummariesHandler) Get(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	key, err := h.key(r)
	if fault.Is(err, fault.NotFound) {
		WriteError(w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		WriteFault(w, err)
		return
	}
	summary, err := h.store.GetSummary(r.Context(), key, UserID(r), date)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// Delete removes one summary, ownership-checked by the store.
func (h *SummariesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.DeleteSummary(r.Context(), UserID(r), id); err != nil {
		WriteFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export streams the caller's summaries as JSON or CSV.
func (h *SummariesHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		WriteError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var summaries []database.DailySummary
	key, err := h.key(r)
	if err != nil && !fault.Is(err, fault.NotFound) {
		WriteFault(w, err)
		return
	}
	if err == nil {
		summaries, err = h.store.ListSummaries(r.Context(), key, UserID(r), p.Limit)
		if err != nil {
			WriteFault(w, err)
			return
		}
	}
	if summaries == nil {
		summaries = []database.DailySummary{}
	}

	if format == "json" {
		w.Header().Set("Content-Disposition", `attachment; filename="summaries.json"`)
		WriteJSON(w, http.StatusOK, summaries)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="summaries.csv"`)
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "family", "business", "misc"})
	for _, s := range summaries {
		cw.Write([]string{
			s.SummaryDate,
			strings.Join(s.Body.Family, "; "),
			strings.Join(s.Body.Business, "; "),
			strings.Join(s.Body.Misc, "; "),
		})
	}
	cw.Flush()
}
