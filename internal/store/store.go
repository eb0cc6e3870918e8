package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wealthdesk/wealthdesk/internal/alerts"
	"github.com/wealthdesk/wealthdesk/internal/plan"
	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// Account is a user-level container for portfolios.
type Account struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"` // brokerage | retirement | cash
	Balance float64 `json:"balance"`
}

// Portfolio groups holdings under an account.
type Portfolio struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// Holding is one position inside a portfolio. CurrentValue is recomputed from
// the simulated price every tick.
type Holding struct {
	ID           string    `json:"id"`
	PortfolioID  string    `json:"portfolio_id"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	CostBasis    float64   `json:"cost_basis"`
	CurrentValue float64   `json:"current_value"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WatchlistItem is a symbol the user tracks without holding it.
type WatchlistItem struct {
	Symbol  string    `json:"symbol"`
	Notes   string    `json:"notes,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// State is the complete persisted domain snapshot.
type State struct {
	Version        int64               `json:"version"` // monotonic, bumped on every save
	UpdatedAt      string              `json:"updated_at"`
	Accounts       []Account           `json:"accounts"`
	Portfolios     []Portfolio         `json:"portfolios"`
	Holdings       []Holding           `json:"holdings"`
	Watchlist      []WatchlistItem     `json:"watchlist"`
	PriceAlerts    []alerts.PriceAlert `json:"price_alerts"`
	Universe       []universe.Ticker   `json:"universe"`
	PlannedTrades  []plan.PlannedTrade `json:"planned_trades"`
	PlanSettings   plan.Settings       `json:"plan_settings"`
}

// Manager persists the domain snapshot as a single JSON file with atomic
// temp-file-and-rename saves. There is no cross-call transactional guarantee;
// each exported mutation is one save.
type Manager struct {
	filePath string
	mu       sync.RWMutex
	state    State
}

// NewManager creates a manager for the given state file path.
func NewManager(filePath string) *Manager {
	return &Manager{filePath: filePath}
}

// Load reads state from disk, initializing an empty snapshot when the file
// does not exist yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
			return m.saveUnsafe()
		}
		return fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current state for readers.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyState(m.state)
}

// BatchUpdateHoldingValues applies per-symbol prices to every holding in one
// save, recomputing current values. One call per simulator tick; a failed
// save loses only that tick's valuations.
func (m *Manager) BatchUpdateHoldingValues(prices map[string]float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for i, h := range m.state.Holdings {
		price, ok := prices[universe.Normalize(h.Symbol)]
		if !ok {
			continue
		}
		m.state.Holdings[i].CurrentValue = price * h.Quantity
		m.state.Holdings[i].UpdatedAt = at.UTC()
		updated++
	}
	if updated == 0 {
		return nil
	}
	return m.saveUnsafe()
}

// UpsertAlertStatus replaces the stored alert with the given one, inserting
// it when unknown.
func (m *Manager) UpsertAlertStatus(a alerts.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.state.PriceAlerts {
		if existing.ID == a.ID {
			m.state.PriceAlerts[i] = a
			return m.saveUnsafe()
		}
	}
	m.state.PriceAlerts = append(m.state.PriceAlerts, a)
	return m.saveUnsafe()
}

// UpsertUniverseTicker inserts or replaces a ticker keyed by symbol.
func (m *Manager) UpsertUniverseTicker(t universe.Ticker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.Symbol = universe.Normalize(t.Symbol)
	for i, existing := range m.state.Universe {
		if universe.Normalize(existing.Symbol) == t.Symbol {
			m.state.Universe[i] = t
			return m.saveUnsafe()
		}
	}
	m.state.Universe = append(m.state.Universe, t)
	return m.saveUnsafe()
}

// DeleteUniverseTicker removes a ticker by symbol. Deleting an unknown symbol
// is a no-op.
func (m *Manager) DeleteUniverseTicker(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol = universe.Normalize(symbol)
	for i, existing := range m.state.Universe {
		if universe.Normalize(existing.Symbol) == symbol {
			m.state.Universe = append(m.state.Universe[:i], m.state.Universe[i+1:]...)
			return m.saveUnsafe()
		}
	}
	return nil
}

// UpsertPlannedTrade validates and stores a planned trade keyed by ID.
func (m *Manager) UpsertPlannedTrade(t plan.PlannedTrade) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.state.PlannedTrades {
		if existing.ID == t.ID {
			m.state.PlannedTrades[i] = t
			return m.saveUnsafe()
		}
	}
	m.state.PlannedTrades = append(m.state.PlannedTrades, t)
	return m.saveUnsafe()
}

// DeletePlannedTrade removes a planned trade by ID.
func (m *Manager) DeletePlannedTrade(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.state.PlannedTrades {
		if existing.ID == id {
			m.state.PlannedTrades = append(m.state.PlannedTrades[:i], m.state.PlannedTrades[i+1:]...)
			return m.saveUnsafe()
		}
	}
	return nil
}

// SavePlanSettings replaces the settings wholesale.
func (m *Manager) SavePlanSettings(s plan.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PlanSettings = s
	return m.saveUnsafe()
}

// UniverseMembers resolves the full universe view: explicit tickers plus the
// symbols implied by holdings, watchlist entries, and planned trades.
func (m *Manager) UniverseMembers() []universe.Membership {
	m.mu.RLock()
	defer m.mu.RUnlock()

	holdings := make([]string, 0, len(m.state.Holdings))
	for _, h := range m.state.Holdings {
		holdings = append(holdings, h.Symbol)
	}
	watchlist := make([]string, 0, len(m.state.Watchlist))
	for _, w := range m.state.Watchlist {
		watchlist = append(watchlist, w.Symbol)
	}
	planned := make([]string, 0, len(m.state.PlannedTrades))
	for _, t := range m.state.PlannedTrades {
		planned = append(planned, t.Symbol)
	}
	return universe.Merge(m.state.Universe, holdings, watchlist, planned)
}

// PromoteUniverseMember turns an implicit member into an explicit ticker with
// the given status. Promoting a symbol the universe view does not contain is
// an error.
func (m *Manager) PromoteUniverseMember(symbol string, status universe.Status) error {
	symbol = universe.Normalize(symbol)
	for _, member := range m.UniverseMembers() {
		if member.Symbol == symbol {
			return m.UpsertUniverseTicker(universe.Promote(member, status))
		}
	}
	return fmt.Errorf("symbol %s is not referenced anywhere", symbol)
}

// SimulationSymbols returns the union of every holding and watchlist symbol,
// holdings first, each symbol once.
func (m *Manager) SimulationSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	for _, h := range m.state.Holdings {
		sym := universe.Normalize(h.Symbol)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, w := range m.state.Watchlist {
		sym := universe.Normalize(w.Symbol)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// ActiveAlerts returns the alerts the simulator should check this tick.
func (m *Manager) ActiveAlerts() []alerts.PriceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []alerts.PriceAlert
	for _, a := range m.state.PriceAlerts {
		if a.Active && !a.Triggered {
			out = append(out, a)
		}
	}
	return out
}

// saveUnsafe writes the state with temp-file-and-rename; callers hold mu.
func (m *Manager) saveUnsafe() error {
	m.state.Version++
	m.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tempPath := m.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tempPath, m.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func copyState(s State) State {
	out := s
	out.Accounts = append([]Account(nil), s.Accounts...)
	out.Portfolios = append([]Portfolio(nil), s.Portfolios...)
	out.Holdings = append([]Holding(nil), s.Holdings...)
	out.Watchlist = append([]WatchlistItem(nil), s.Watchlist...)
	out.PriceAlerts = append([]alerts.PriceAlert(nil), s.PriceAlerts...)
	out.Universe = append([]universe.Ticker(nil), s.Universe...)
	out.PlannedTrades = append([]plan.PlannedTrade(nil), s.PlannedTrades...)
	return out
}
