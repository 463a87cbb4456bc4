package txbuilder

import (
	"sort"
	"sync"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// PendingStore holds drafts by reference.
type PendingStore interface {
	// PutDraft stores a draft under its reference.
	PutDraft(d *Draft) error
	// ClaimDraft atomically removes and returns a draft. Of several
	// concurrent claims for one reference exactly one succeeds; the others
	// get TX_NOT_FOUND.
	ClaimDraft(reference string) (*Draft, error)
}

// ActionStore holds finalized actions by txid.
type ActionStore interface {
	SaveAction(a *Action) error
	GetAction(txid string) (*Action, error)
	// ListActions returns every action ordered by creation time.
	ListActions() ([]Action, error)
	UpdateActionStatus(txid string, status ActionStatus) error
}

// MemoryStore implements PendingStore and ActionStore in memory.
type MemoryStore struct {
	mu      sync.Mutex
	drafts  map[string]*Draft
	actions map[string]*Action
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:  make(map[string]*Draft),
		actions: make(map[string]*Action),
	}
}

// PutDraft implements PendingStore.
func (m *MemoryStore) PutDraft(d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.Reference] = d
	return nil
}

// ClaimDraft implements PendingStore.
func (m *MemoryStore) ClaimDraft(reference string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[reference]
	if !ok {
		return nil, walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"reference": reference})
	}
	delete(m.drafts, reference)
	return d, nil
}

// SaveAction implements ActionStore.
func (m *MemoryStore) SaveAction(a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.actions[a.Txid] = &cp
	return nil
}

// GetAction implements ActionStore.
func (m *MemoryStore) GetAction(txid string) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[txid]
	if !ok {
		return nil, walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"txid": txid})
	}
	cp := *a
	return &cp, nil
}

// ListActions implements ActionStore.
func (m *MemoryStore) ListActions() ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Action, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Txid < out[j].Txid
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateActionStatus implements ActionStore.
func (m *MemoryStore) UpdateActionStatus(txid string, status ActionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[txid]
	if !ok {
		return walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"txid": txid})
	}
	a.Status = status
	return nil
}
