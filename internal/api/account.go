package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/keyvault"
)

type AccountHandler struct {
	accounts Accounts
	keys     keyvault.Vault
}

// Key returns the caller's symmetric key, base64-encoded, provisioning one on
// first access. Clients that encrypt before upload need this; nothing else
// ever hands key material over the wire.
func (h *AccountHandler) Key(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	key, err := h.keys.GetKey(r.Context(), userID)
	if fault.Is(err, fault.NotFound) {
		if err := h.keys.CreateKey(r.Context(), userID); err != nil && !fault.Is(err, fault.Conflict) {
			WriteFault(w, err)
			return
		}
		key, err = h.keys.GetKey(r.Context(), userID)
		if err != nil {
			WriteFault(w, err)
			return
		}
	} else if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"key": base64.StdEncoding.EncodeToString(key),
	})
}

// Credit returns the caller's balance. A user who has never been granted
// credit reads as a zero account rather than a 404.
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Account(r.Context(), UserID(r))
	if fault.Is(err, fault.NotFound) {
		acct = &database.CreditAccount{UserID: UserID(r), UpdatedAt: time.Now().UTC()}
	} else if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, acct)
}

// Costs returns per-service usage totals, optionally scoped to ?month=YYYY-MM.
func (h *AccountHandler) Costs(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	totals, err := h.accounts.Summary(r.Context(), UserID(r), month)
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, totals)
}
