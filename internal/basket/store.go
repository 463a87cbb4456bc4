package basket

import (
	"sort"
	"sync"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Store persists basket outputs. Implementations must apply SaveOutputs and
// DeleteOutputs atomically: either every output is written or none is.
type Store interface {
	// Baskets returns every basket name holding at least one output.
	Baskets() ([]string, error)
	// Outputs returns the outputs of a basket ordered by Seq.
	Outputs(basket string) ([]Output, error)
	// SaveOutputs inserts or replaces outputs keyed by (basket, outpoint).
	SaveOutputs(outputs []Output) error
	// DeleteOutputs removes outputs keyed by (basket, outpoint). Missing
	// outputs yield OUTPUT_NOT_FOUND and nothing is removed.
	DeleteOutputs(outputs []Output) error
	// Locate returns the stored outputs for outpoints in any basket.
	// Untracked outpoints are omitted.
	Locate(outpoints []Outpoint) ([]Output, error)
	// MaxSeq returns the highest Seq stored.
	MaxSeq() (uint64, error)
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	baskets map[string]map[Outpoint]Output
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baskets: make(map[string]map[Outpoint]Output)}
}

// Baskets implements Store.
func (m *MemoryStore) Baskets() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.baskets))
	for name, outs := range m.baskets {
		if len(outs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Outputs implements Store.
func (m *MemoryStore) Outputs(basket string) ([]Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outs := make([]Output, 0, len(m.baskets[basket]))
	for _, o := range m.baskets[basket] {
		outs = append(outs, cloneOutput(o))
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].Seq < outs[j].Seq })
	return outs, nil
}

// SaveOutputs implements Store.
func (m *MemoryStore) SaveOutputs(outputs []Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range outputs {
		b, ok := m.baskets[o.Basket]
		if !ok {
			b = make(map[Outpoint]Output)
			m.baskets[o.Basket] = b
		}
		b[o.Outpoint] = cloneOutput(o)
	}
	return nil
}

// DeleteOutputs implements Store.
func (m *MemoryStore) DeleteOutputs(outputs []Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range outputs {
		if _, ok := m.baskets[o.Basket][o.Outpoint]; !ok {
			return walleterr.WithContext(walleterr.ErrOutputNotFound, map[string]string{
				"basket":   o.Basket,
				"outpoint": o.Outpoint.String(),
			})
		}
	}
	for _, o := range outputs {
		delete(m.baskets[o.Basket], o.Outpoint)
		if len(m.baskets[o.Basket]) == 0 {
			delete(m.baskets, o.Basket)
		}
	}
	return nil
}

// Locate implements Store.
func (m *MemoryStore) Locate(outpoints []Outpoint) ([]Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []Output
	for _, op := range outpoints {
		for _, b := range m.baskets {
			if o, ok := b[op]; ok {
				found = append(found, cloneOutput(o))
			}
		}
	}
	return found, nil
}

// MaxSeq implements Store.
func (m *MemoryStore) MaxSeq() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxSeq uint64
	for _, b := range m.baskets {
		for _, o := range b {
			if o.Seq > maxSeq {
				maxSeq = o.Seq
			}
		}
	}
	return maxSeq, nil
}

func cloneOutput(o Output) Output {
	o.LockingScript = append([]byte(nil), o.LockingScript...)
	o.Tags = append([]string(nil), o.Tags...)
	return o
}
