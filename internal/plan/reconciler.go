package plan

import (
	"fmt"

	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// AlignmentRow classifies one planned trade against the universe's current
// posture for its symbol. Aligned is nil when the symbol has no universe
// mapping ("needs mapping"). Rows are derived at read time, never persisted.
type AlignmentRow struct {
	Trade              PlannedTrade    `json:"trade"`
	UniverseStatus     universe.Status `json:"universe_status,omitempty"`
	Aligned            *bool           `json:"aligned"` // true | false | nil
	Recommendation     string          `json:"recommendation"`
	Reason             string          `json:"reason"`
	SuggestedTradeType TradeType       `json:"suggested_trade_type"`
}

// NeedsMapping reports the null leg of the trichotomy.
func (r AlignmentRow) NeedsMapping() bool {
	return r.Aligned == nil
}

// Conflict reports a trade whose direction disagrees with the universe.
func (r AlignmentRow) Conflict() bool {
	return r.Aligned != nil && !*r.Aligned
}

// Reconcile classifies a planned trade. The rule table is exhaustive and
// ordered: untracked symbols need mapping; quarantined symbols should only be
// sold; every other tracked status should only be bought.
func Reconcile(trade PlannedTrade, tickers []universe.Ticker) AlignmentRow {
	row := AlignmentRow{Trade: trade}

	ticker, tracked := universe.Lookup(tickers, trade.Symbol)
	if !tracked {
		row.SuggestedTradeType = TradeBuy
		row.Recommendation = "Add this symbol to the universe before trading it."
		row.Reason = fmt.Sprintf("%s has no universe mapping", trade.Symbol)
		return row
	}
	row.UniverseStatus = ticker.Status

	var aligned bool
	if ticker.Status == universe.StatusQuarantine {
		row.SuggestedTradeType = TradeSell
		aligned = trade.TradeType == TradeSell
		if aligned {
			row.Recommendation = "Selling a quarantined position matches the plan."
			row.Reason = fmt.Sprintf("%s is quarantined and the trade exits it", trade.Symbol)
		} else {
			row.Recommendation = "Avoid adding to a quarantined position; consider selling instead."
			row.Reason = fmt.Sprintf("%s is quarantined but the trade would buy more", trade.Symbol)
		}
	} else {
		row.SuggestedTradeType = TradeBuy
		aligned = trade.TradeType == TradeBuy
		if aligned {
			row.Recommendation = "Buying a tracked position matches the plan."
			row.Reason = fmt.Sprintf("%s is tracked as %s and the trade adds to it", trade.Symbol, ticker.Status)
		} else {
			row.Recommendation = "The universe still backs this position; selling conflicts with the plan."
			row.Reason = fmt.Sprintf("%s is tracked as %s but the trade would sell", trade.Symbol, ticker.Status)
		}
	}
	row.Aligned = &aligned
	return row
}

// ReconcileAll classifies every planned trade against the universe.
func ReconcileAll(trades []PlannedTrade, tickers []universe.Ticker) []AlignmentRow {
	rows := make([]AlignmentRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, Reconcile(t, tickers))
	}
	return rows
}

// Align applies the suggested direction to the row's trade. Nothing else
// about the trade changes.
func Align(row AlignmentRow) PlannedTrade {
	t := row.Trade
	t.TradeType = row.SuggestedTradeType
	return t
}

// AlignAllConflicts applies Align to every conflicting row, persisting each
// through update as an independent call. A failed update stops the sequence;
// already-applied updates stay applied, and the error reports how far it got.
func AlignAllConflicts(rows []AlignmentRow, update func(PlannedTrade) error) (int, error) {
	applied := 0
	for _, row := range rows {
		if !row.Conflict() {
			continue
		}
		if err := update(Align(row)); err != nil {
			observ.IncCounter("plan_align_failures_total", nil)
			return applied, fmt.Errorf("align %s after %d updates: %w", row.Trade.Symbol, applied, err)
		}
		applied++
		observ.IncCounter("plan_aligned_total", map[string]string{"symbol": row.Trade.Symbol})
	}
	return applied, nil
}
