package plan

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/wealthdesk/wealthdesk/internal/universe"
)

type stubAnalyst struct {
	targets map[string]AnalystTarget
	err     error
}

func (s *stubAnalyst) GetTargets(_ context.Context, symbols []string) (map[string]AnalystTarget, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]AnalystTarget{}
	for _, sym := range symbols {
		if t, ok := s.targets[sym]; ok {
			out[sym] = t
		}
	}
	return out, nil
}

func fractionalSettings() Settings {
	return Settings{
		MonthlyBudget:           1000,
		CoreAllocation:          0.5,
		UpsideAllocation:        0.5,
		MinimumUpsidePercentage: 20,
		Broker:                  BrokerConstraints{AllowFractionalShares: true},
	}
}

func approx(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("%s: want %.2f, got %.2f", what, want, got)
	}
}

func tradeAmount(trades []Trade, ticker string) float64 {
	for _, tr := range trades {
		if tr.Ticker == ticker {
			return tr.Amount
		}
	}
	return 0
}

func TestEvaluate_CoreSplitByWeight(t *testing.T) {
	settings := fractionalSettings()
	settings.CoreAllocation = 1.0
	settings.UpsideAllocation = 0

	tickers := []universe.Ticker{
		{Symbol: "BBB", Status: universe.StatusCore, MonthlyWeight: 0.4},
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 0.6},
	}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, tradeAmount(res.Trades, "AAA"), 600, "AAA amount")
	approx(t, tradeAmount(res.Trades, "BBB"), 400, "BBB amount")
	approx(t, res.TotalInvestment, 1000, "total")
	approx(t, res.CoreInvestment, 1000, "core")

	// Equal-weight runs must order trades by ascending symbol.
	if res.Trades[0].Ticker != "AAA" || res.Trades[1].Ticker != "BBB" {
		t.Fatalf("trades out of order: %v, %v", res.Trades[0].Ticker, res.Trades[1].Ticker)
	}
}

func TestEvaluate_EligibleUpsideFunded(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 1.0},
	}
	analyst := &stubAnalyst{targets: map[string]AnalystTarget{
		"CCC": {Symbol: "CCC", CurrentPrice: 100, AnalystTarget: 150, CoverageCount: 5, TargetAgeDays: 10},
	}}

	res, err := NewEvaluator(analyst).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, tradeAmount(res.Trades, "CCC"), 500, "CCC amount")
	approx(t, tradeAmount(res.Trades, "AAA"), 500, "AAA amount")
	approx(t, res.UpsideInvestment, 500, "upside")
	approx(t, res.RedirectedInvestment, 0, "redirected")
	approx(t, res.UnusedUpsideFunds, 0, "unused")
}

func TestEvaluate_IneligibleUpsideRedirectsToCore(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 1.0},
	}
	// No analyst data for CCC: its nominal share redirects into core.
	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, res.RedirectedInvestment, 500, "redirected")
	approx(t, tradeAmount(res.Trades, "AAA"), 1000, "AAA amount")
	approx(t, res.CoreInvestment, 1000, "core")
	approx(t, res.UpsideInvestment, 0, "upside")
	approx(t, res.TotalInvestment, 1000, "total")

	found := false
	for _, line := range res.AuditLog {
		if strings.Contains(line, "redirected") {
			found = true
		}
	}
	if !found {
		t.Fatalf("audit log missing redirect entry: %v", res.AuditLog)
	}
}

func TestEvaluate_BelowThresholdIneligible(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 1.0},
	}
	analyst := &stubAnalyst{targets: map[string]AnalystTarget{
		// 10% upside against a 20% threshold.
		"CCC": {Symbol: "CCC", CurrentPrice: 100, AnalystTarget: 110, CoverageCount: 5},
	}}

	res, err := NewEvaluator(analyst).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, res.RedirectedInvestment, 500, "redirected")
	approx(t, res.UpsideInvestment, 0, "upside")
}

func TestEvaluate_CoverageAndStalenessRules(t *testing.T) {
	settings := fractionalSettings()
	settings.MinCoverageCount = 3
	settings.MaxTargetAgeDays = 90
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 0.5},
		{Symbol: "DDD", Status: universe.StatusHighUpside, MonthlyWeight: 0.5},
	}
	analyst := &stubAnalyst{targets: map[string]AnalystTarget{
		"CCC": {Symbol: "CCC", CurrentPrice: 100, AnalystTarget: 150, CoverageCount: 2, TargetAgeDays: 10},  // thin coverage
		"DDD": {Symbol: "DDD", CurrentPrice: 100, AnalystTarget: 150, CoverageCount: 5, TargetAgeDays: 120}, // stale target
	}}

	res, err := NewEvaluator(analyst).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, res.RedirectedInvestment, 500, "redirected")
	approx(t, res.UpsideInvestment, 0, "upside")
}

func TestEvaluate_AnalystFailureFailsSafeToCore(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 1.0},
	}
	analyst := &stubAnalyst{err: fmt.Errorf("provider down")}

	res, err := NewEvaluator(analyst).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("analyst failure must not fail the run, got status %s", res.Status)
	}
	approx(t, res.RedirectedInvestment, 500, "redirected")
	approx(t, res.CoreInvestment, 1000, "core")
}

func TestEvaluate_NoUpsideTickersHoldsFunds(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
	}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approx(t, res.UnusedUpsideFunds, 500, "unused")
	approx(t, res.CoreInvestment, 500, "core")
}

func TestEvaluate_NoCoreTickersHoldsRedirect(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 1.0},
	}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// Upside ineligible, nowhere to redirect, core sleeve empty: everything
	// ends up as unused funds.
	approx(t, res.UnusedUpsideFunds, 1000, "unused")
	approx(t, res.TotalInvestment, 0, "total")
}

func TestEvaluate_UnconfiguredSettingsFail(t *testing.T) {
	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), Settings{}, nil, nil)
	if err == nil {
		t.Fatal("want error for unconfigured settings")
	}
	if res.Status != "failure" || res.Error == "" {
		t.Fatalf("want loggable failure result, got %+v", res)
	}
}

func TestEvaluate_FundConservation(t *testing.T) {
	settings := fractionalSettings()
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 0.7},
		{Symbol: "BBB", Status: universe.StatusCore, MonthlyWeight: 0.3},
		{Symbol: "CCC", Status: universe.StatusHighUpside, MonthlyWeight: 0.6},
		{Symbol: "DDD", Status: universe.StatusHighUpside, MonthlyWeight: 0.4},
	}
	analyst := &stubAnalyst{targets: map[string]AnalystTarget{
		"CCC": {Symbol: "CCC", CurrentPrice: 100, AnalystTarget: 150, CoverageCount: 5},
	}}

	res, err := NewEvaluator(analyst).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// Every dollar of the budget is a trade or held as unused funds.
	approx(t, res.TotalInvestment+res.UnusedUpsideFunds, settings.MonthlyBudget, "conservation")
	approx(t, res.UpsideInvestment, 300, "CCC eligible share")
	approx(t, res.RedirectedInvestment, 200, "DDD redirect")
}

func TestEvaluate_WholeShareRoundingHold(t *testing.T) {
	settings := fractionalSettings()
	settings.CoreAllocation = 1.0
	settings.UpsideAllocation = 0
	settings.Broker = BrokerConstraints{
		AllowFractionalShares: false,
		RoundingRule:          RoundFloor,
		LeftoverCashRule:      LeftoverHold,
	}
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
	}
	prices := map[string]float64{"AAA": 300}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, prices)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 1000 / 300 floors to 3 shares = 900 invested, 100 held.
	approx(t, tradeAmount(res.Trades, "AAA"), 900, "AAA amount")
	if qty := res.Trades[0].Quantity; qty != 3 {
		t.Fatalf("want 3 shares, got %v", qty)
	}
	approx(t, res.UnusedUpsideFunds, 100, "unused")
}

func TestEvaluate_MinimumOrderDropReinvestsCore(t *testing.T) {
	settings := fractionalSettings()
	settings.CoreAllocation = 1.0
	settings.UpsideAllocation = 0
	settings.Broker = BrokerConstraints{
		AllowFractionalShares: true,
		MinimumOrderSize:      100,
		LeftoverCashRule:      LeftoverReinvestCore,
	}
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 0.95},
		{Symbol: "BBB", Status: universe.StatusCore, MonthlyWeight: 0.05},
	}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// BBB's 50 is below the minimum and folds into AAA.
	if len(res.Trades) != 1 || res.Trades[0].Ticker != "AAA" {
		t.Fatalf("want single AAA trade, got %+v", res.Trades)
	}
	approx(t, res.Trades[0].Amount, 1000, "AAA amount")
	approx(t, res.UnusedUpsideFunds, 0, "unused")
}

func TestEvaluate_ResultRoundedToCents(t *testing.T) {
	settings := fractionalSettings()
	settings.CoreAllocation = 1.0
	settings.UpsideAllocation = 0
	tickers := []universe.Ticker{
		{Symbol: "AAA", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "BBB", Status: universe.StatusCore, MonthlyWeight: 1.0},
		{Symbol: "DDD", Status: universe.StatusCore, MonthlyWeight: 1.0},
	}

	res, err := NewEvaluator(&stubAnalyst{}).Evaluate(context.Background(), settings, tickers, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, tr := range res.Trades {
		if math.Abs(tr.Amount*100-math.Round(tr.Amount*100)) > 1e-9 {
			t.Fatalf("%s amount %v not rounded to cents", tr.Ticker, tr.Amount)
		}
	}
}
