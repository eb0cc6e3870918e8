package market

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wealthdesk/wealthdesk/internal/alerts"
	"github.com/wealthdesk/wealthdesk/internal/observ"
)

// Store is the slice of the data collaborator the simulator needs.
type Store interface {
	SimulationSymbols() []string
	ActiveAlerts() []alerts.PriceAlert
	BatchUpdateHoldingValues(prices map[string]float64, at time.Time) error
	UpsertAlertStatus(a alerts.PriceAlert) error
}

// Config tunes the tick cadence and the per-tick drift distribution.
type Config struct {
	TickInterval   time.Duration
	DriftCenter    float64 // midpoint of the per-tick return, slightly negative
	DriftAmplitude float64 // uniform half-width around the midpoint
	PriceFloor     float64 // epsilon keeping prices positive
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 3 * time.Second
	}
	if c.DriftAmplitude <= 0 {
		c.DriftAmplitude = 0.02
	}
	if c.DriftCenter == 0 {
		c.DriftCenter = -0.001
	}
	if c.PriceFloor <= 0 {
		c.PriceFloor = 0.01
	}
}

// Simulator drives the shared price table. One cron entry ticks every symbol
// synchronously, so all prices within a tick are mutually consistent; the
// simulator is the table's only writer.
type Simulator struct {
	table  *PriceTable
	store  Store
	cfg    Config
	random *rand.Rand
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	started bool

	// tickMu serializes Tick: cron launches every activation in its own
	// goroutine, and the table tolerates exactly one writer.
	tickMu sync.Mutex
}

func NewSimulator(table *PriceTable, store Store, cfg Config) *Simulator {
	cfg.defaults()
	return &Simulator{
		table:  table,
		store:  store,
		cfg:    cfg,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// Start schedules the recurring tick. Starting twice is an error.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("simulator already started")
	}
	// A tick that outlasts the interval must not overlap the next one, so
	// skip activations while one is still running.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := c.AddFunc(spec, s.Tick); err != nil {
		return fmt.Errorf("schedule simulator tick: %w", err)
	}
	c.Start()
	s.cron = c
	s.started = true

	observ.Log("simulator_started", map[string]any{
		"tick_interval": s.cfg.TickInterval.String(),
		"drift_center":  s.cfg.DriftCenter,
		"drift_amp":     s.cfg.DriftAmplitude,
	})
	return nil
}

// Stop cancels the schedule and waits for a running tick to finish, so no
// tick touches the table after Stop returns.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.started = false
	observ.Log("simulator_stopped", nil)
}

// Tick runs one simulation step: derive the symbol universe, move every
// price, publish the batch, fire crossed alerts, and push one batched
// valuation update. Exported so one-shot runs and tests can drive it
// directly.
func (s *Simulator) Tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := s.now()
	symbols := s.store.SimulationSymbols()

	oldPrices := make(map[string]float64, len(symbols))
	newPrices := make(map[string]float64, len(symbols))
	batch := make(map[string]SimulatedPrice, len(symbols))

	for _, sym := range symbols {
		old, ok := s.table.Get(sym)
		oldPrice := old.Price
		if !ok {
			oldPrice = SeedPrice(sym)
		}

		newPrice := oldPrice * (1 + s.drift())
		if newPrice < s.cfg.PriceFloor {
			newPrice = s.cfg.PriceFloor
		}

		change := newPrice - oldPrice
		changePct := 0.0
		if oldPrice != 0 {
			changePct = change / oldPrice * 100
		}

		oldPrices[sym] = oldPrice
		newPrices[sym] = newPrice
		batch[sym] = SimulatedPrice{Price: newPrice, Change: change, ChangePercent: changePct}
	}

	// All symbols computed before anything becomes visible.
	s.table.apply(batch)

	s.fireAlerts(oldPrices, newPrices)

	// One batched valuation write per tick. A failed write is dropped; the
	// next tick resends current state.
	if len(newPrices) > 0 {
		if err := s.store.BatchUpdateHoldingValues(newPrices, s.now()); err != nil {
			observ.IncCounter("sim_valuation_write_failures_total", nil)
			observ.Log("valuation_write_failed", map[string]any{"error": err.Error()})
		}
	}

	observ.IncCounter("sim_ticks_total", nil)
	observ.SetGauge("sim_symbols", float64(len(symbols)), nil)
	observ.SetGauge("sim_last_tick_unix", float64(s.now().Unix()), nil)
	observ.RecordDuration("sim_tick_latency", s.now().Sub(start), nil)
}

// drift draws the per-tick return from a mildly negatively biased uniform
// distribution.
func (s *Simulator) drift() float64 {
	return s.cfg.DriftCenter + (s.random.Float64()*2-1)*s.cfg.DriftAmplitude
}

// fireAlerts persists every alert whose target was crossed this tick. Each
// upsert is independent; a failed one is logged and retried implicitly when
// the price crosses again.
func (s *Simulator) fireAlerts(oldPrices, newPrices map[string]float64) {
	fired := alerts.Scan(s.store.ActiveAlerts(), oldPrices, newPrices, s.now())
	for _, f := range fired {
		if err := s.store.UpsertAlertStatus(f.Alert); err != nil {
			observ.Log("alert_persist_failed", map[string]any{
				"alert_id": f.Alert.ID, "symbol": f.Alert.Symbol, "error": err.Error(),
			})
			continue
		}
		observ.IncCounter("alerts_triggered_total", map[string]string{"symbol": f.Alert.Symbol})
		observ.Log("alert_triggered", map[string]any{
			"alert_id": f.Alert.ID,
			"symbol":   f.Alert.Symbol,
			"target":   f.Alert.Target,
			"old":      f.OldPrice,
			"new":      f.NewPrice,
		})
	}
}
