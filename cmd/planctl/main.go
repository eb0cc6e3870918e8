package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wealthdesk/wealthdesk/internal/adapters"
	"github.com/wealthdesk/wealthdesk/internal/config"
	"github.com/wealthdesk/wealthdesk/internal/market"
	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/plan"
	"github.com/wealthdesk/wealthdesk/internal/store"
	"github.com/wealthdesk/wealthdesk/internal/universe"
)

func main() {
	var cfgPath string
	var runPlan bool
	var reconcile bool
	var alignAll bool
	var history bool
	var historyStatus string
	var review bool
	var showUniverse bool
	var track string
	var trackStatus string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&runPlan, "run", false, "evaluate the investment plan and record the result")
	flag.BoolVar(&reconcile, "reconcile", false, "report planned-trade alignment against the universe")
	flag.BoolVar(&alignAll, "align-all", false, "flip every conflicting planned trade to its suggested direction")
	flag.BoolVar(&history, "history", false, "print recorded plan executions")
	flag.StringVar(&historyStatus, "status", "", "filter -history by status (success|failure)")
	flag.BoolVar(&review, "review", false, "ask the model for a structured review of the latest recorded run")
	flag.BoolVar(&showUniverse, "universe", false, "print the resolved universe view, implicit members included")
	flag.StringVar(&track, "track", "", "promote an implicit universe member to an explicit ticker")
	flag.StringVar(&trackStatus, "track-status", "watchlist", "status for -track")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config.example.yaml?)", err)
	}
	if v := os.Getenv("STATE_FILE_PATH"); v != "" {
		cfg.Store.StateFilePath = v
	}

	stateMgr := store.NewManager(cfg.Store.StateFilePath)
	if err := stateMgr.Load(); err != nil {
		log.Fatalf("load state: %v", err)
	}

	switch {
	case runPlan:
		runEvaluation(cfg, stateMgr)
	case reconcile:
		printRows(plan.ReconcileAll(stateMgr.Snapshot().PlannedTrades, stateMgr.Snapshot().Universe))
	case alignAll:
		snap := stateMgr.Snapshot()
		rows := plan.ReconcileAll(snap.PlannedTrades, snap.Universe)
		applied, err := plan.AlignAllConflicts(rows, stateMgr.UpsertPlannedTrade)
		if err != nil {
			log.Fatalf("align (applied %d): %v", applied, err)
		}
		fmt.Printf("aligned %d trade(s)\n", applied)
	case history:
		printHistory(cfg, historyStatus)
	case review:
		reviewLatest(cfg)
	case showUniverse:
		for _, member := range stateMgr.UniverseMembers() {
			b, _ := json.Marshal(member)
			fmt.Println(string(b))
		}
	case track != "":
		status, err := universe.ParseStatus(trackStatus)
		if err != nil {
			log.Fatalf("track: %v", err)
		}
		if err := stateMgr.PromoteUniverseMember(track, status); err != nil {
			log.Fatalf("track %s: %v", track, err)
		}
		fmt.Printf("tracking %s as %s\n", universe.Normalize(track), status)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runEvaluation(cfg config.Root, stateMgr *store.Manager) {
	snap := stateMgr.Snapshot()

	// One simulator tick establishes a consistent price set for the run and
	// refreshes holding valuations as a side effect.
	table := market.NewPriceTable()
	sim := market.NewSimulator(table, stateMgr, market.Config{
		TickInterval:   time.Duration(cfg.Simulator.TickIntervalMs) * time.Millisecond,
		DriftCenter:    cfg.Simulator.DriftCenter,
		DriftAmplitude: cfg.Simulator.DriftAmplitude,
		PriceFloor:     cfg.Simulator.PriceFloor,
	})
	sim.Tick()
	prices := map[string]float64{}
	for sym, p := range table.Snapshot() {
		prices[sym] = p.Price
	}
	for _, t := range snap.Universe {
		if _, ok := prices[t.Symbol]; !ok {
			prices[t.Symbol] = market.SeedPrice(t.Symbol)
		}
	}

	analyst, err := buildAnalyst(cfg)
	if err != nil {
		log.Fatalf("analyst provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	eval := plan.NewEvaluator(analyst)
	result, err := eval.Evaluate(ctx, snap.PlanSettings, snap.Universe, prices)
	if err != nil {
		observ.Log("plan_run_failed", map[string]any{"error": err.Error()})
	}
	result.Narrative = narrate(ctx, cfg, result)

	execLog, lerr := store.NewExecutionLog(cfg.Store.ExecutionLogPath)
	if lerr != nil {
		log.Fatalf("open execution log: %v", lerr)
	}
	if aerr := execLog.Append(result); aerr != nil {
		log.Fatalf("record execution: %v", aerr)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		os.Exit(1)
	}
}

func buildAnalyst(cfg config.Root) (plan.AnalystSource, error) {
	switch cfg.Analyst.Provider {
	case "http":
		return adapters.NewHTTPAnalystProvider(adapters.HTTPAnalystConfig{
			BaseURL:             cfg.Analyst.BaseURL,
			APIKey:              os.Getenv(cfg.Analyst.APIKeyEnv),
			RateLimitPerMinute:  cfg.Analyst.RateLimitPerMinute,
			DailyCap:            cfg.Analyst.DailyCap,
			CacheTTLSeconds:     cfg.Analyst.CacheTTLSeconds,
			StaleCeilingSeconds: cfg.Analyst.StaleCeilingSeconds,
			TimeoutSeconds:      cfg.Analyst.TimeoutSeconds,
		})
	case "static", "":
		return &adapters.StaticAnalystProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown analyst provider %q", cfg.Analyst.Provider)
	}
}

// narrate asks the LLM for commentary when enabled; any failure falls back to
// the deterministic narrative built from the audit log.
func narrate(ctx context.Context, cfg config.Root, result plan.Result) string {
	if !cfg.Narrative.Enabled {
		return result.AuditNarrative()
	}
	narrator, err := adapters.NewNarrator(ctx, cfg.Narrative.Model)
	if err != nil {
		observ.Log("narrative_unavailable", map[string]any{"error": err.Error()})
		return result.AuditNarrative()
	}
	text, err := narrator.Commentary(ctx, result)
	if err != nil {
		observ.Log("narrative_degraded", map[string]any{"error": err.Error()})
		return result.AuditNarrative()
	}
	return text
}

// reviewLatest sends the most recent recorded run to the model and prints the
// structured review it returns.
func reviewLatest(cfg config.Root) {
	execLog, err := store.NewExecutionLog(cfg.Store.ExecutionLogPath)
	if err != nil {
		log.Fatalf("open execution log: %v", err)
	}
	entries, err := execLog.Entries()
	if err != nil {
		log.Fatalf("read execution log: %v", err)
	}
	if len(entries) == 0 {
		log.Fatal("no recorded runs to review; run with -run first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	narrator, err := adapters.NewNarrator(ctx, cfg.Narrative.Model)
	if err != nil {
		log.Fatalf("narrator: %v", err)
	}
	rev, err := narrator.StructuredReview(ctx, entries[len(entries)-1].Result)
	if err != nil {
		log.Fatalf("review: %v", err)
	}
	out, _ := json.MarshalIndent(rev, "", "  ")
	fmt.Println(string(out))
}

func printRows(rows []plan.AlignmentRow) {
	for _, row := range rows {
		b, _ := json.Marshal(row)
		fmt.Println(string(b))
	}
	conflicts, unmapped := 0, 0
	for _, row := range rows {
		if row.Conflict() {
			conflicts++
		}
		if row.NeedsMapping() {
			unmapped++
		}
	}
	fmt.Printf("%d trade(s), %d conflict(s), %d unmapped\n", len(rows), conflicts, unmapped)
}

func printHistory(cfg config.Root, status string) {
	execLog, err := store.NewExecutionLog(cfg.Store.ExecutionLogPath)
	if err != nil {
		log.Fatalf("open execution log: %v", err)
	}
	var entries []store.ExecutionEntry
	if status != "" {
		entries, err = execLog.EntriesByStatus(status)
	} else {
		entries, err = execLog.Entries()
	}
	if err != nil {
		log.Fatalf("read execution log: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  invested=%.2f  trades=%d  unused=%.2f\n",
			e.RecordedAt.Format(time.RFC3339), e.Result.Status,
			e.Result.TotalInvestment, len(e.Result.Trades), e.Result.UnusedUpsideFunds)
	}
}
