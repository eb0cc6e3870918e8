package alerts

import (
	"time"

	"github.com/google/uuid"

	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// PriceAlert is a user-armed threshold on one symbol. Triggering is
// edge-triggered: an alert fires on the tick where the price crosses the
// target, not on every tick the condition holds. A triggered alert stays
// inactive until the user re-arms it.
type PriceAlert struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Target      float64    `json:"target"`
	Active      bool       `json:"active"`
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// New arms a fresh alert. The symbol is normalized so it matches the price
// table regardless of how the user typed it.
func New(symbol string, target float64) PriceAlert {
	return PriceAlert{
		ID:     uuid.NewString(),
		Symbol: universe.Normalize(symbol),
		Target: target,
		Active: true,
	}
}

// Rearm clears the triggered state so the alert can fire again.
func (a *PriceAlert) Rearm() {
	a.Active = true
	a.Triggered = false
	a.TriggeredAt = nil
}

// Crossed reports whether a price move from old to new crossed target in
// either direction. Touching the target counts; re-triggering requires the
// price to leave and re-cross.
func Crossed(old, new, target float64) bool {
	return (new >= target && old < target) || (new <= target && old > target)
}

// Triggering is one alert that fired during a tick.
type Triggering struct {
	Alert    PriceAlert
	OldPrice float64
	NewPrice float64
}

// Scan checks every active alert against a tick's old/new prices and returns
// the alerts that fired, already marked triggered. Symbols with no price
// movement recorded this tick are skipped.
func Scan(active []PriceAlert, oldPrices, newPrices map[string]float64, now time.Time) []Triggering {
	var fired []Triggering
	for _, a := range active {
		if !a.Active || a.Triggered {
			continue
		}
		// Price maps are keyed by normalized symbols; alerts loaded from
		// older state files may not be.
		sym := universe.Normalize(a.Symbol)
		oldPrice, okOld := oldPrices[sym]
		newPrice, okNew := newPrices[sym]
		if !okOld || !okNew {
			continue
		}
		if !Crossed(oldPrice, newPrice, a.Target) {
			continue
		}
		a.Triggered = true
		a.Active = false
		at := now
		a.TriggeredAt = &at
		fired = append(fired, Triggering{Alert: a, OldPrice: oldPrice, NewPrice: newPrice})
	}
	return fired
}
