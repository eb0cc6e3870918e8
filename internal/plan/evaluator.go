package plan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// AnalystTarget is one symbol's analyst coverage snapshot as returned by the
// external data provider.
type AnalystTarget struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	AnalystTarget float64 `json:"analyst_target"`
	CoverageCount int     `json:"coverage_count"`
	TargetAgeDays int     `json:"target_age_days"`
}

// UpsidePct is the analyst 12-month upside implied by the target.
func (t AnalystTarget) UpsidePct() float64 {
	if t.CurrentPrice <= 0 {
		return 0
	}
	return (t.AnalystTarget/t.CurrentPrice - 1) * 100
}

// AnalystSource supplies analyst targets for the upside sleeve. Providers may
// omit symbols or fail entirely; both are handled fail-safe toward core.
type AnalystSource interface {
	GetTargets(ctx context.Context, symbols []string) (map[string]AnalystTarget, error)
}

// Trade is one funded ticker in an execution result.
type Trade struct {
	Ticker   string  `json:"ticker"`
	Amount   float64 `json:"amount"`
	Quantity float64 `json:"quantity,omitempty"` // whole shares when fractional is off
	Sleeve   string  `json:"sleeve"`             // "core" | "upside"
	Reason   string  `json:"reason"`
}

// Result is the immutable output of one evaluator run. Once appended to the
// execution history it is never mutated.
type Result struct {
	ID                    string    `json:"id"`
	RunAt                 time.Time `json:"run_at"`
	Status                string    `json:"status"` // "success" | "failure"
	Error                 string    `json:"error,omitempty"`
	TotalInvestment       float64   `json:"total_investment"`
	CoreInvestment        float64   `json:"core_investment"`
	UpsideInvestment      float64   `json:"upside_investment"`
	SpeculativeInvestment float64   `json:"speculative_investment"`
	RedirectedInvestment  float64   `json:"redirected_investment"`
	UnusedUpsideFunds     float64   `json:"unused_upside_funds"`
	Trades                []Trade   `json:"trades"`
	AuditLog              []string  `json:"audit_log"`
	Narrative             string    `json:"narrative,omitempty"`
}

// Evaluator turns plan settings plus the current universe into a deterministic
// monthly allocation. The analyst source is only consulted for the upside
// sleeve.
type Evaluator struct {
	analyst AnalystSource
	now     func() time.Time
}

func NewEvaluator(analyst AnalystSource) *Evaluator {
	return &Evaluator{analyst: analyst, now: time.Now}
}

// eligibility is the per-ticker outcome of the analyst check.
type eligibility struct {
	ticker   universe.Ticker
	target   AnalystTarget
	hasData  bool
	eligible bool
	reason   string
}

// Evaluate runs the allocation. prices carries current simulated prices and is
// used for whole-share rounding; missing prices leave amounts unrounded.
// A non-nil error means the run failed before allocating (configuration); the
// returned Result then carries status "failure" and is still loggable.
func (e *Evaluator) Evaluate(ctx context.Context, settings Settings, tickers []universe.Ticker, prices map[string]float64) (Result, error) {
	res := Result{
		ID:     uuid.NewString(),
		RunAt:  e.now().UTC(),
		Status: "success",
	}

	if !settings.Configured() {
		return e.fail(res, fmt.Errorf("investment plan settings not configured"))
	}
	if err := settings.Validate(); err != nil {
		return e.fail(res, err)
	}

	core := sleeveTickers(tickers, universe.StatusCore)
	upside := sleeveTickers(tickers, universe.StatusHighUpside)

	coreBudget := settings.MonthlyBudget * settings.CoreAllocation
	upsideBudget := settings.MonthlyBudget * settings.UpsideAllocation

	res.audit("budget: monthly %.2f, core sleeve %.2f (%d tickers), upside sleeve %.2f (%d tickers)",
		settings.MonthlyBudget, coreBudget, len(core), upsideBudget, len(upside))

	// Upside sleeve: analyst eligibility, weighted distribution, redirect.
	var upsideTrades []Trade
	var redirected float64
	if upsideBudget > 0 {
		if len(upside) == 0 {
			res.UnusedUpsideFunds += upsideBudget
			res.audit("upside sleeve has no tickers; %.2f held as unused funds", upsideBudget)
		} else {
			elig := e.checkEligibility(ctx, settings, upside, &res)
			upsideTrades, redirected = distributeUpside(upsideBudget, elig, &res)
		}
	}

	if redirected > 0 {
		if totalWeight(core) > 0 {
			coreBudget += redirected
			res.RedirectedInvestment = redirected
			res.audit("redirected %.2f of ineligible upside funds into the core sleeve", redirected)
		} else {
			res.UnusedUpsideFunds += redirected
			res.audit("no weighted core tickers to absorb redirect; %.2f held as unused funds", redirected)
		}
	}

	// Core sleeve: weighted distribution of the possibly augmented budget.
	var coreTrades []Trade
	if coreBudget > 0 {
		if totalWeight(core) == 0 {
			res.UnusedUpsideFunds += coreBudget
			res.audit("core sleeve has no weighted tickers; %.2f held as unused funds", coreBudget)
		} else {
			coreReason := "core allocation by weight"
			if redirected > 0 && res.RedirectedInvestment > 0 {
				coreReason = "core allocation by weight, including redirected upside funds"
			}
			coreTrades = distributeByWeight(coreBudget, core, "core", coreReason)
		}
	}

	trades := append(coreTrades, upsideTrades...)
	trades = e.applyBrokerConstraints(settings, trades, prices, &res)

	for _, t := range trades {
		switch t.Sleeve {
		case "core":
			res.CoreInvestment += t.Amount
		case "upside":
			res.UpsideInvestment += t.Amount
		}
		res.TotalInvestment += t.Amount
	}
	res.Trades = trades

	res.audit("invested %.2f total: core %.2f, upside %.2f, redirected %.2f, unused %.2f",
		res.TotalInvestment, res.CoreInvestment, res.UpsideInvestment,
		res.RedirectedInvestment, res.UnusedUpsideFunds)

	roundResultCents(&res)

	observ.IncCounter("plan_evaluations_total", map[string]string{"status": res.Status})
	observ.Log("plan_evaluated", map[string]any{
		"run_id": res.ID, "total": res.TotalInvestment,
		"core": res.CoreInvestment, "upside": res.UpsideInvestment,
		"redirected": res.RedirectedInvestment, "unused": res.UnusedUpsideFunds,
		"trades": len(res.Trades),
	})
	return res, nil
}

func (e *Evaluator) fail(res Result, err error) (Result, error) {
	res.Status = "failure"
	res.Error = err.Error()
	res.audit("evaluation failed: %v", err)
	observ.IncCounter("plan_evaluations_total", map[string]string{"status": "failure"})
	observ.IncCounter("plan_evaluation_failures_total", nil)
	return res, err
}

// checkEligibility fetches analyst targets for every upside ticker and applies
// the threshold, coverage, and staleness rules. Missing data and provider
// failures resolve to ineligible, never to an unverified upside bet.
func (e *Evaluator) checkEligibility(ctx context.Context, settings Settings, upside []universe.Ticker, res *Result) []eligibility {
	symbols := make([]string, 0, len(upside))
	for _, t := range upside {
		symbols = append(symbols, t.Symbol)
	}

	targets, err := e.analyst.GetTargets(ctx, symbols)
	if err != nil {
		res.audit("analyst data unavailable (%v); all %d upside tickers treated as ineligible", err, len(upside))
		observ.IncCounter("analyst_fetch_failures_total", nil)
		targets = nil
	}

	out := make([]eligibility, 0, len(upside))
	for _, t := range upside {
		el := eligibility{ticker: t}
		target, ok := targets[t.Symbol]
		if !ok {
			el.reason = "no analyst data"
			res.audit("%s: ineligible, no analyst data", t.Symbol)
			out = append(out, el)
			continue
		}
		el.target = target
		el.hasData = true

		up := target.UpsidePct()
		switch {
		case target.CurrentPrice <= 0 || target.AnalystTarget <= 0:
			el.reason = "malformed analyst data"
		case up < settings.MinimumUpsidePercentage:
			el.reason = fmt.Sprintf("upside %.1f%% below threshold %.1f%%", up, settings.MinimumUpsidePercentage)
		case settings.MinCoverageCount > 0 && target.CoverageCount < settings.MinCoverageCount:
			el.reason = fmt.Sprintf("coverage %d below minimum %d", target.CoverageCount, settings.MinCoverageCount)
		case settings.MaxTargetAgeDays > 0 && target.TargetAgeDays > settings.MaxTargetAgeDays:
			el.reason = fmt.Sprintf("target %d days old, limit %d", target.TargetAgeDays, settings.MaxTargetAgeDays)
		default:
			el.eligible = true
			el.reason = fmt.Sprintf("upside %.1f%% meets threshold %.1f%%", up, settings.MinimumUpsidePercentage)
		}
		if el.eligible {
			res.audit("%s: eligible, %s", t.Symbol, el.reason)
		} else {
			res.audit("%s: ineligible, %s", t.Symbol, el.reason)
		}
		out = append(out, el)
	}
	return out
}

// distributeUpside splits the upside budget by nominal weighted share. Each
// eligible ticker receives its nominal share; the nominal shares of ineligible
// tickers are returned for redirection rather than dropped.
func distributeUpside(budget float64, elig []eligibility, res *Result) (trades []Trade, redirected float64) {
	var total float64
	for _, el := range elig {
		total += el.ticker.MonthlyWeight
	}
	if total <= 0 {
		// No weights to distribute by: the sleeve cannot deploy anything,
		// the whole budget is a redirect candidate.
		res.audit("upside sleeve carries no weights; %.2f redirect candidate", budget)
		return nil, budget
	}

	for _, el := range elig {
		share := budget * el.ticker.MonthlyWeight / total
		if share <= 0 {
			continue
		}
		if !el.eligible {
			redirected += share
			continue
		}
		trades = append(trades, Trade{
			Ticker: el.ticker.Symbol,
			Amount: share,
			Sleeve: "upside",
			Reason: fmt.Sprintf("high-upside allocation by weight (%s)", el.reason),
		})
	}
	return trades, redirected
}

// distributeByWeight splits budget across tickers proportionally to weight.
// Tickers are already sorted ascending by symbol, which fixes the tie-break
// for equal weights.
func distributeByWeight(budget float64, tickers []universe.Ticker, sleeve, reason string) []Trade {
	total := totalWeight(tickers)
	if total <= 0 {
		return nil
	}
	var trades []Trade
	for _, t := range tickers {
		if t.MonthlyWeight <= 0 {
			continue
		}
		trades = append(trades, Trade{
			Ticker: t.Symbol,
			Amount: budget * t.MonthlyWeight / total,
			Sleeve: sleeve,
			Reason: reason,
		})
	}
	return trades
}

// applyBrokerConstraints converts amounts to whole-share quantities when
// fractional shares are off, and drops sub-minimum orders, routing their funds
// per the leftover cash rule.
func (e *Evaluator) applyBrokerConstraints(settings Settings, trades []Trade, prices map[string]float64, res *Result) []Trade {
	var kept []Trade
	var dropped float64

	for _, t := range trades {
		price := prices[t.Ticker]
		if !settings.Broker.AllowFractionalShares && price > 0 {
			qty := roundShares(t.Amount/price, settings.Broker.RoundingRule)
			actual := qty * price
			if qty <= 0 {
				res.audit("%s: %.2f rounds to zero shares at price %.2f, dropped", t.Ticker, t.Amount, price)
				dropped += t.Amount
				continue
			}
			t.Quantity = qty
			t.Amount = actual
		}
		if settings.Broker.MinimumOrderSize > 0 && t.Amount < settings.Broker.MinimumOrderSize {
			res.audit("%s: %.2f below minimum order size %.2f, dropped", t.Ticker, t.Amount, settings.Broker.MinimumOrderSize)
			dropped += t.Amount
			continue
		}
		kept = append(kept, t)
	}

	if dropped <= 0 {
		return kept
	}

	switch settings.Broker.LeftoverCashRule {
	case LeftoverReinvestCore:
		// Reinvest into the largest core position; ties broken by symbol.
		best := -1
		for i, t := range kept {
			if t.Sleeve != "core" {
				continue
			}
			if best < 0 || t.Amount > kept[best].Amount ||
				(t.Amount == kept[best].Amount && t.Ticker < kept[best].Ticker) {
				best = i
			}
		}
		if best >= 0 {
			kept[best].Amount += dropped
			kept[best].Reason += "; absorbed leftover cash from dropped orders"
			res.audit("reinvested %.2f of leftover cash into %s", dropped, kept[best].Ticker)
			return kept
		}
		fallthrough
	default:
		res.UnusedUpsideFunds += dropped
		res.audit("held %.2f of leftover cash as unused funds", dropped)
	}
	return kept
}

func roundShares(shares float64, rule RoundingRule) float64 {
	switch rule {
	case RoundFloor:
		return math.Floor(shares)
	case RoundCeil:
		return math.Ceil(shares)
	default:
		return math.Round(shares)
	}
}

func sleeveTickers(tickers []universe.Ticker, status universe.Status) []universe.Ticker {
	var out []universe.Ticker
	for _, t := range tickers {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func totalWeight(tickers []universe.Ticker) float64 {
	var total float64
	for _, t := range tickers {
		total += t.MonthlyWeight
	}
	return total
}

func (r *Result) audit(format string, args ...any) {
	r.AuditLog = append(r.AuditLog, fmt.Sprintf(format, args...))
}

// AuditNarrative joins the audit log into the prose summary persisted with
// the run.
func (r Result) AuditNarrative() string {
	return strings.Join(r.AuditLog, "\n")
}

func roundResultCents(res *Result) {
	res.TotalInvestment = roundCents(res.TotalInvestment)
	res.CoreInvestment = roundCents(res.CoreInvestment)
	res.UpsideInvestment = roundCents(res.UpsideInvestment)
	res.SpeculativeInvestment = roundCents(res.SpeculativeInvestment)
	res.RedirectedInvestment = roundCents(res.RedirectedInvestment)
	res.UnusedUpsideFunds = roundCents(res.UnusedUpsideFunds)
	for i := range res.Trades {
		res.Trades[i].Amount = roundCents(res.Trades[i].Amount)
	}
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
