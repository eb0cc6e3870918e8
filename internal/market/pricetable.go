package market

import (
	"sync"

	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// SimulatedPrice is one symbol's synthetic quote. Price is always positive;
// Change and ChangePercent describe the move since the previous tick.
type SimulatedPrice struct {
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// PriceTable holds the shared per-symbol simulated prices. It is
// single-writer: only the Simulator mutates it, and a whole tick's batch
// becomes visible at once, so readers never observe a partially updated
// tick. Entries for symbols no longer referenced stay in place and simply
// stop updating.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]SimulatedPrice
}

func NewPriceTable() *PriceTable {
	return &PriceTable{prices: map[string]SimulatedPrice{}}
}

// Get returns the current price entry for a symbol.
func (t *PriceTable) Get(symbol string) (SimulatedPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[universe.Normalize(symbol)]
	return p, ok
}

// Price returns just the price, zero when the symbol is unknown.
func (t *PriceTable) Price(symbol string) float64 {
	p, _ := t.Get(symbol)
	return p.Price
}

// Snapshot copies the whole table for readers.
func (t *PriceTable) Snapshot() map[string]SimulatedPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]SimulatedPrice, len(t.prices))
	for sym, p := range t.prices {
		out[sym] = p
	}
	return out
}

// apply installs one tick's batch atomically from the readers' point of view.
// Only the simulator calls this.
func (t *PriceTable) apply(batch map[string]SimulatedPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, p := range batch {
		t.prices[sym] = p
	}
}

// SeedPrice derives a deterministic starting price from the symbol's bytes,
// mapped into the 50-500 band. The same symbol always boots at the same price
// without any persisted state.
func SeedPrice(symbol string) float64 {
	var h uint32
	for _, c := range universe.Normalize(symbol) {
		h = h*31 + uint32(c)
	}
	return 50 + float64(h%45000)/100
}
