package keyvault

import (
	"context"
	"sync"

	"github.com/snarg/vox-engine/internal/fault"
)

// MemoryVault keeps keys in process memory. Dev and test only — keys do not
// survive a restart.
type MemoryVault struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{keys: make(map[string][]byte)}
}

func (v *MemoryVault) GetKey(ctx context.Context, userID string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.keys[userID]
	if !ok {
		return nil, fault.New(fault.NotFound, "no key provisioned for user")
	}
	out := make([]byte, len(key))
	copy(out, key)
	return validateKey(out)
}

func (v *MemoryVault) CreateKey(ctx context.Context, userID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[userID]; ok {
		return fault.New(fault.Conflict, "key already provisioned for user")
	}
	key, err := newKey()
	if err != nil {
		return err
	}
	v.keys[userID] = key
	return nil
}

// SetKey installs a known key. Test helper.
func (v *MemoryVault) SetKey(userID string, key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[userID] = key
}
