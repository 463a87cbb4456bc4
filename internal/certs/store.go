package certs

import (
	"sort"
	"sync"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Store persists acquired certificates.
type Store interface {
	GetCertificate(key Key) (*Certificate, error)
	// InsertCertificate stores c unless its key is taken, in which case the
	// stored certificate is returned with inserted=false.
	InsertCertificate(c *Certificate) (stored *Certificate, inserted bool, err error)
	DeleteCertificate(key Key) error
	// ListCertificates returns every certificate ordered by acquisition.
	ListCertificates() ([]Certificate, error)
}

func notFound(key Key) error {
	return walleterr.WithContext(walleterr.ErrCertificateNotFound, map[string]string{
		"type":         key.Type,
		"serialNumber": key.SerialNumber,
		"certifier":    key.Certifier,
	})
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	certs map[Key]Certificate
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{certs: make(map[Key]Certificate)}
}

// GetCertificate implements Store.
func (m *MemoryStore) GetCertificate(key Key) (*Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certs[key]
	if !ok {
		return nil, notFound(key)
	}
	out := c.clone()
	return &out, nil
}

// InsertCertificate implements Store.
func (m *MemoryStore) InsertCertificate(c *Certificate) (*Certificate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.Key()
	if existing, ok := m.certs[key]; ok {
		out := existing.clone()
		return &out, false, nil
	}
	m.certs[key] = c.clone()
	out := c.clone()
	return &out, true, nil
}

// DeleteCertificate implements Store.
func (m *MemoryStore) DeleteCertificate(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.certs[key]; !ok {
		return notFound(key)
	}
	delete(m.certs, key)
	return nil
}

// ListCertificates implements Store.
func (m *MemoryStore) ListCertificates() ([]Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Certificate, 0, len(m.certs))
	for _, c := range m.certs {
		out = append(out, c.clone())
	}
	SortByAcquisition(out)
	return out, nil
}

// SortByAcquisition orders certificates by AcquiredAt, then key.
func SortByAcquisition(certs []Certificate) {
	sort.Slice(certs, func(i, j int) bool {
		if !certs[i].AcquiredAt.Equal(certs[j].AcquiredAt) {
			return certs[i].AcquiredAt.Before(certs[j].AcquiredAt)
		}
		return certs[i].Key().String() < certs[j].Key().String()
	})
}
