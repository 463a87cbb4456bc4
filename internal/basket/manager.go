package basket

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/agnivade/levenshtein"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// maxSuggestionDistance bounds "did you mean" hints for unknown baskets.
const maxSuggestionDistance = 3

// Manager serializes mutations per basket and applies them to a Store.
type Manager struct {
	store  Store
	logger LogWriter
	seq    atomic.Uint64

	// placeMu serializes inserts so an outpoint lands in one basket only.
	placeMu sync.Mutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Config holds dependencies for the basket manager.
type Config struct {
	Store  Store
	Logger LogWriter
}

// NewManager creates a Manager. A nil Store selects a MemoryStore.
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		store:  cfg.Store,
		logger: cfg.Logger,
		locks:  make(map[string]*sync.Mutex),
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}

	maxSeq, err := m.store.MaxSeq()
	if err != nil {
		return nil, walleterr.Wrap(err, "loading basket sequence")
	}
	m.seq.Store(maxSeq)
	return m, nil
}

// AddOutput adds one output to an application basket.
func (m *Manager) AddOutput(basket string, out Output) error {
	out.Basket = basket
	return m.AddOutputs([]Output{out})
}

// AddOutputs adds a batch of outputs to application baskets. The batch is
// validated up front and written all-or-nothing.
func (m *Manager) AddOutputs(outputs []Output) error {
	return m.addOutputs(outputs, false)
}

// AddOutputsInternal is AddOutputs for wallet-internal callers, which may
// also write to the default basket.
func (m *Manager) AddOutputsInternal(outputs []Output) error {
	return m.addOutputs(outputs, true)
}

func (m *Manager) addOutputs(outputs []Output, internal bool) error {
	if len(outputs) == 0 {
		return nil
	}

	prepared := make([]Output, 0, len(outputs))
	names := make([]string, 0, len(outputs))
	outpoints := make([]Outpoint, 0, len(outputs))
	seen := make(map[Outpoint]struct{}, len(outputs))
	for _, o := range outputs {
		if err := validateBasketName(o.Basket, internal); err != nil {
			return err
		}
		tags, err := NormalizeTags(o.Tags)
		if err != nil {
			return err
		}
		if o.Outpoint.Txid == "" {
			return walleterr.Wrap(walleterr.ErrInvalidInput, "output outpoint is required")
		}
		if _, dup := seen[o.Outpoint]; dup {
			return walleterr.WithContext(walleterr.ErrInvalidInput, map[string]string{
				"outpoint": o.Outpoint.String(),
				"reason":   "duplicate outpoint in batch",
			})
		}
		seen[o.Outpoint] = struct{}{}
		o.Tags = tags
		prepared = append(prepared, o)
		names = append(names, o.Basket)
		outpoints = append(outpoints, o.Outpoint)
	}

	m.placeMu.Lock()
	defer m.placeMu.Unlock()

	tracked, err := m.store.Locate(outpoints)
	if err != nil {
		return walleterr.Wrap(err, "locating outputs")
	}
	for _, o := range tracked {
		names = append(names, o.Basket)
	}
	unlock := m.lockBaskets(names...)
	defer unlock()

	// Re-read under the basket locks: spendability may have moved since.
	tracked, err = m.store.Locate(outpoints)
	if err != nil {
		return walleterr.Wrap(err, "locating outputs")
	}
	existing := make(map[Outpoint]Output, len(tracked))
	for _, o := range tracked {
		existing[o.Outpoint] = o
	}

	for i := range prepared {
		prev, ok := existing[prepared[i].Outpoint]
		if !ok {
			prepared[i].Seq = m.seq.Add(1)
			continue
		}
		if prev.Basket != prepared[i].Basket {
			return walleterr.WithContext(walleterr.ErrInvalidInput, map[string]string{
				"outpoint": prev.Outpoint.String(),
				"basket":   prev.Basket,
				"reason":   "output already tracked in another basket",
			})
		}
		// Replacing an output keeps its position and spent state.
		prepared[i].Seq = prev.Seq
		prepared[i].Spendable = prev.Spendable
	}

	if err := m.store.SaveOutputs(prepared); err != nil {
		return walleterr.Wrap(err, "saving outputs")
	}
	m.logger.Debug("basket: stored %d output(s)", len(prepared))
	return nil
}

// Locate returns the tracked outputs for outpoints, whichever basket holds
// them. Untracked outpoints are omitted.
func (m *Manager) Locate(outpoints []Outpoint) ([]Output, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}
	outs, err := m.store.Locate(outpoints)
	if err != nil {
		return nil, walleterr.Wrap(err, "locating outputs")
	}
	return outs, nil
}

// RemoveOutput deletes an output from a basket (relinquish).
func (m *Manager) RemoveOutput(basket string, outpoint Outpoint) error {
	if err := validateBasketName(basket, true); err != nil {
		return err
	}
	return m.RemoveOutputs([]Output{{Basket: basket, Outpoint: outpoint}})
}

// RemoveOutputs deletes outputs keyed by (Basket, Outpoint) all-or-nothing.
func (m *Manager) RemoveOutputs(outputs []Output) error {
	if len(outputs) == 0 {
		return nil
	}
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		names = append(names, o.Basket)
	}
	unlock := m.lockBaskets(names...)
	defer unlock()

	return m.store.DeleteOutputs(outputs)
}

// ListOutputs returns a page of outputs matching q. An unknown basket is an
// empty result.
func (m *Manager) ListOutputs(q Query) (*ListResult, error) {
	if err := validateBasketName(q.Basket, true); err != nil {
		return nil, err
	}
	mode, err := ParseQueryMode(string(q.TagQueryMode))
	if err != nil {
		return nil, err
	}
	tags, err := NormalizeTags(q.Tags)
	if err != nil {
		return nil, err
	}
	limit, err := ValidatePage(q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}

	unlock := m.lockBaskets(q.Basket)
	outs, err := m.store.Outputs(q.Basket)
	unlock()
	if err != nil {
		return nil, walleterr.Wrap(err, "listing outputs")
	}
	if len(outs) == 0 {
		m.suggestBasket(q.Basket)
	}

	filtered := outs[:0]
	for _, o := range outs {
		if !o.Spendable && !q.IncludeSpent {
			continue
		}
		if !MatchSet(o.Tags, tags, mode) {
			continue
		}
		filtered = append(filtered, o)
	}

	result := &ListResult{TotalOutputs: len(filtered), Outputs: []Output{}}
	if q.Offset < len(filtered) {
		end := q.Offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		result.Outputs = filtered[q.Offset:end]
	}
	return result, nil
}

// GetSpendableOutputs selects spendable outputs in basket order until their
// sum reaches amount. The selection is not reserved; use ReserveSpendable to
// fund a transaction.
func (m *Manager) GetSpendableOutputs(basket string, amount uint64) ([]Output, error) {
	if err := validateSelection(basket, amount); err != nil {
		return nil, err
	}

	unlock := m.lockBaskets(basket)
	outs, err := m.store.Outputs(basket)
	unlock()
	if err != nil {
		return nil, walleterr.Wrap(err, "reading basket")
	}
	return selectSpendable(basket, outs, amount)
}

// ReserveSpendable selects spendable outputs like GetSpendableOutputs and
// marks them spent under the same basket lock, so concurrent callers never
// receive the same output. Release a reservation with MarkAsSpendable.
func (m *Manager) ReserveSpendable(basket string, amount uint64) ([]Output, error) {
	if err := validateSelection(basket, amount); err != nil {
		return nil, err
	}

	unlock := m.lockBaskets(basket)
	defer unlock()

	outs, err := m.store.Outputs(basket)
	if err != nil {
		return nil, walleterr.Wrap(err, "reading basket")
	}
	selected, err := selectSpendable(basket, outs, amount)
	if err != nil {
		return nil, err
	}

	reserved := make([]Output, len(selected))
	for i, o := range selected {
		o.Spendable = false
		reserved[i] = o
	}
	if err := m.store.SaveOutputs(reserved); err != nil {
		return nil, walleterr.Wrap(err, "reserving outputs")
	}
	m.logger.Debug("basket: reserved %d output(s) from %q", len(reserved), basket)
	return selected, nil
}

func validateSelection(basket string, amount uint64) error {
	if err := validateBasketName(basket, true); err != nil {
		return err
	}
	if amount == 0 {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "amount must be greater than zero")
	}
	return nil
}

func selectSpendable(basket string, outs []Output, amount uint64) ([]Output, error) {
	var selected []Output
	var total uint64
	for _, o := range outs {
		if !o.Spendable {
			continue
		}
		selected = append(selected, o)
		total += o.Satoshis
		if total >= amount {
			return selected, nil
		}
	}

	return nil, walleterr.WithContext(walleterr.ErrInsufficientFunds, map[string]string{
		"basket":    basket,
		"requested": strconv.FormatUint(amount, 10),
		"available": strconv.FormatUint(total, 10),
	})
}

// MarkAsSpent flips every matching output in any basket to unspendable.
// Unknown or already spent outpoints are ignored. The outputs that changed
// are returned so callers can undo the change.
func (m *Manager) MarkAsSpent(outpoints []Outpoint) ([]Output, error) {
	return m.setSpendable(outpoints, false)
}

// MarkAsSpendable is the inverse of MarkAsSpent.
func (m *Manager) MarkAsSpendable(outpoints []Outpoint) ([]Output, error) {
	return m.setSpendable(outpoints, true)
}

func (m *Manager) setSpendable(outpoints []Outpoint, spendable bool) ([]Output, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}

	located, err := m.store.Locate(outpoints)
	if err != nil {
		return nil, walleterr.Wrap(err, "locating outputs")
	}
	if len(located) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(located))
	for _, o := range located {
		names = append(names, o.Basket)
	}
	unlock := m.lockBaskets(names...)
	defer unlock()

	if located, err = m.store.Locate(outpoints); err != nil {
		return nil, walleterr.Wrap(err, "locating outputs")
	}
	var changed []Output
	for _, o := range located {
		if o.Spendable != spendable {
			o.Spendable = spendable
			changed = append(changed, o)
		}
	}

	if len(changed) == 0 {
		return nil, nil
	}
	if err := m.store.SaveOutputs(changed); err != nil {
		return nil, walleterr.Wrap(err, "updating outputs")
	}
	return changed, nil
}

// Baskets returns every basket currently holding outputs.
func (m *Manager) Baskets() ([]string, error) {
	return m.store.Baskets()
}

// Balance sums the spendable satoshis of a basket.
func (m *Manager) Balance(basket string) (uint64, error) {
	unlock := m.lockBaskets(basket)
	outs, err := m.store.Outputs(basket)
	unlock()
	if err != nil {
		return 0, walleterr.Wrap(err, "reading basket")
	}
	var total uint64
	for _, o := range outs {
		if o.Spendable {
			total += o.Satoshis
		}
	}
	return total, nil
}

// lockBaskets locks each named basket in sorted order and returns the
// matching unlock function.
func (m *Manager) lockBaskets(names ...string) func() {
	sorted := uniqueSorted(names)

	m.locksMu.Lock()
	mus := make([]*sync.Mutex, len(sorted))
	for i, name := range sorted {
		mu, ok := m.locks[name]
		if !ok {
			mu = &sync.Mutex{}
			m.locks[name] = mu
		}
		mus[i] = mu
	}
	m.locksMu.Unlock()

	for _, mu := range mus {
		mu.Lock()
	}
	return func() {
		for i := len(mus) - 1; i >= 0; i-- {
			mus[i].Unlock()
		}
	}
}

func (m *Manager) suggestBasket(name string) {
	names, err := m.store.Baskets()
	if err != nil || len(names) == 0 {
		return
	}
	best, bestDist := "", math.MaxInt
	for _, n := range names {
		if d := levenshtein.ComputeDistance(name, n); d < bestDist {
			best, bestDist = n, d
		}
	}
	if bestDist <= maxSuggestionDistance {
		m.logger.Debug("basket: %q is empty, did you mean %q?", name, best)
	}
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
