package plan

import (
	"fmt"
	"testing"

	"github.com/wealthdesk/wealthdesk/internal/universe"
)

func testUniverse() []universe.Ticker {
	return []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore},
		{Symbol: "QQQ", Status: universe.StatusQuarantine},
		{Symbol: "WWW", Status: universe.StatusWatchlist},
	}
}

func TestReconcile_Trichotomy(t *testing.T) {
	tickers := testUniverse()

	// Untracked symbol: needs mapping, neither aligned nor conflicting.
	row := Reconcile(PlannedTrade{Symbol: "ZZZ", TradeType: TradeBuy}, tickers)
	if !row.NeedsMapping() || row.Conflict() {
		t.Fatalf("untracked symbol should need mapping: %+v", row)
	}
	if row.SuggestedTradeType != TradeBuy {
		t.Fatalf("untracked suggestion should be buy, got %s", row.SuggestedTradeType)
	}

	// Quarantined symbol: sell aligns, buy conflicts.
	row = Reconcile(PlannedTrade{Symbol: "QQQ", TradeType: TradeSell}, tickers)
	if row.Aligned == nil || !*row.Aligned {
		t.Fatalf("selling quarantined should align: %+v", row)
	}
	row = Reconcile(PlannedTrade{Symbol: "QQQ", TradeType: TradeBuy}, tickers)
	if !row.Conflict() || row.SuggestedTradeType != TradeSell {
		t.Fatalf("buying quarantined should conflict with sell suggestion: %+v", row)
	}

	// Any other tracked status: buy aligns, sell conflicts.
	row = Reconcile(PlannedTrade{Symbol: "aaa", TradeType: TradeBuy}, tickers)
	if row.Aligned == nil || !*row.Aligned || row.UniverseStatus != universe.StatusCore {
		t.Fatalf("buying core should align: %+v", row)
	}
	row = Reconcile(PlannedTrade{Symbol: "WWW", TradeType: TradeSell}, tickers)
	if !row.Conflict() || row.SuggestedTradeType != TradeBuy {
		t.Fatalf("selling watchlisted should conflict with buy suggestion: %+v", row)
	}
}

func TestAlign_OnlyFlipsDirection(t *testing.T) {
	row := Reconcile(PlannedTrade{ID: "t1", Symbol: "QQQ", TradeType: TradeBuy, Amount: 250}, testUniverse())
	aligned := Align(row)
	if aligned.TradeType != TradeSell {
		t.Fatalf("want sell, got %s", aligned.TradeType)
	}
	if aligned.ID != "t1" || aligned.Amount != 250 {
		t.Fatalf("align must not touch other fields: %+v", aligned)
	}
}

func TestAlignAllConflicts(t *testing.T) {
	tickers := testUniverse()
	rows := ReconcileAll([]PlannedTrade{
		{ID: "t1", Symbol: "QQQ", TradeType: TradeBuy},  // conflict
		{ID: "t2", Symbol: "AAA", TradeType: TradeBuy},  // aligned
		{ID: "t3", Symbol: "ZZZ", TradeType: TradeSell}, // needs mapping, skipped
		{ID: "t4", Symbol: "WWW", TradeType: TradeSell}, // conflict
	}, tickers)

	var updated []string
	applied, err := AlignAllConflicts(rows, func(tr PlannedTrade) error {
		updated = append(updated, tr.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("align all: %v", err)
	}
	if applied != 2 || len(updated) != 2 {
		t.Fatalf("want 2 updates, got %d (%v)", applied, updated)
	}
}

func TestAlignAllConflicts_StopsOnError(t *testing.T) {
	tickers := testUniverse()
	rows := ReconcileAll([]PlannedTrade{
		{ID: "t1", Symbol: "QQQ", TradeType: TradeBuy},
		{ID: "t2", Symbol: "WWW", TradeType: TradeSell},
	}, tickers)

	calls := 0
	applied, err := AlignAllConflicts(rows, func(tr PlannedTrade) error {
		calls++
		if calls == 2 {
			return fmt.Errorf("persist failed")
		}
		return nil
	})
	if err == nil {
		t.Fatal("want error from second update")
	}
	if applied != 1 {
		t.Fatalf("first update stays applied; want 1, got %d", applied)
	}
}
