package universe

import (
	"fmt"
	"sort"
	"strings"
)

// Status classifies how a tracked ticker participates in the monthly plan.
type Status string

const (
	StatusCore        Status = "core"
	StatusHighUpside  Status = "high_upside"
	StatusWatchlist   Status = "watchlist"
	StatusQuarantine  Status = "quarantine"
	StatusSpeculative Status = "speculative"
	StatusExcluded    Status = "excluded"
)

// ParseStatus normalizes a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusCore:
		return StatusCore, nil
	case StatusHighUpside:
		return StatusHighUpside, nil
	case StatusWatchlist:
		return StatusWatchlist, nil
	case StatusQuarantine:
		return StatusQuarantine, nil
	case StatusSpeculative:
		return StatusSpeculative, nil
	case StatusExcluded:
		return StatusExcluded, nil
	}
	return "", fmt.Errorf("unknown universe status %q", s)
}

// Ticker is one tracked instrument. Weights are fractions in [0,1] and are
// only meaningful for core and high-upside tickers; they are not required to
// sum to 1 across the universe.
type Ticker struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Status            Status  `json:"status"`
	MonthlyWeight     float64 `json:"monthly_weight"`
	MaxPositionWeight float64 `json:"max_position_weight"` // advisory cap, not enforced
}

// Source tags where a universe membership came from. Symbols referenced by
// holdings, watchlist entries, or planned trades are members even before the
// user records them explicitly.
type Source string

const (
	SourceExplicit      Source = "explicit"
	SourceFromHolding   Source = "holding"
	SourceFromWatchlist Source = "watchlist"
	SourceFromPlan      Source = "planned_trade"
)

// Membership is one symbol's resolved universe entry with its provenance.
// Implicit members carry a zero-valued Ticker apart from the symbol.
type Membership struct {
	Symbol string `json:"symbol"`
	Source Source `json:"source"`
	Ticker Ticker `json:"ticker"`
}

// Explicit returns true when the user has recorded this ticker.
func (m Membership) Explicit() bool {
	return m.Source == SourceExplicit
}

// precedence orders sources when one symbol is referenced from several
// places. Higher wins.
func precedence(s Source) int {
	switch s {
	case SourceExplicit:
		return 3
	case SourceFromHolding:
		return 2
	case SourceFromWatchlist:
		return 1
	case SourceFromPlan:
		return 0
	}
	return -1
}

func implicit(symbol string, src Source) Membership {
	return Membership{
		Symbol: symbol,
		Source: src,
		Ticker: Ticker{Symbol: symbol},
	}
}

// Merge resolves the full universe from explicit tickers plus the symbols
// referenced by holdings, watchlist entries, and planned trades. Each symbol
// appears once; when referenced from several places, the highest-precedence
// source wins. Results are sorted ascending by symbol.
func Merge(explicit []Ticker, holdingSymbols, watchlistSymbols, planSymbols []string) []Membership {
	bySymbol := map[string]Membership{}

	add := func(m Membership) {
		m.Symbol = Normalize(m.Symbol)
		m.Ticker.Symbol = m.Symbol
		if m.Symbol == "" {
			return
		}
		cur, ok := bySymbol[m.Symbol]
		if !ok || precedence(m.Source) > precedence(cur.Source) {
			bySymbol[m.Symbol] = m
		}
	}

	for _, sym := range planSymbols {
		add(implicit(sym, SourceFromPlan))
	}
	for _, sym := range watchlistSymbols {
		add(implicit(sym, SourceFromWatchlist))
	}
	for _, sym := range holdingSymbols {
		add(implicit(sym, SourceFromHolding))
	}
	for _, t := range explicit {
		add(Membership{Symbol: t.Symbol, Source: SourceExplicit, Ticker: t})
	}

	out := make([]Membership, 0, len(bySymbol))
	for _, m := range bySymbol {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Promote converts an implicit membership into an explicit ticker with the
// given status, preserving the symbol.
func Promote(m Membership, status Status) Ticker {
	t := m.Ticker
	t.Symbol = m.Symbol
	t.Status = status
	return t
}

// Lookup finds the explicit ticker for a symbol, if any.
func Lookup(tickers []Ticker, symbol string) (Ticker, bool) {
	symbol = Normalize(symbol)
	for _, t := range tickers {
		if Normalize(t.Symbol) == symbol {
			return t, true
		}
	}
	return Ticker{}, false
}

// Normalize upper-cases and trims a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
