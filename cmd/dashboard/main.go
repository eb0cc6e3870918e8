package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wealthdesk/wealthdesk/internal/config"
	"github.com/wealthdesk/wealthdesk/internal/market"
	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/store"
)

// version is stamped at build time:
// go build -ldflags "-X main.version=$(git describe --tags)"
var version = "dev"

func main() {
	observ.SetVersion(version)

	var cfgPath string
	var oneShot bool
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&oneShot, "oneshot", false, "run a single tick and exit (set true for CI)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config.example.yaml?)", err)
	}

	// Apply environment variable overrides
	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Simulator.TickIntervalMs = ms
		}
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("STATE_FILE_PATH"); v != "" {
		cfg.Store.StateFilePath = v
	}

	observ.Log("startup", map[string]any{
		"version":          version,
		"tick_interval_ms": cfg.Simulator.TickIntervalMs,
		"state_file":       cfg.Store.StateFilePath,
		"metrics_addr":     cfg.MetricsAddr,
		"oneshot":          oneShot,
	})

	stateMgr := store.NewManager(cfg.Store.StateFilePath)
	if err := stateMgr.Load(); err != nil {
		log.Fatalf("load state: %v", err)
	}
	snap := stateMgr.Snapshot()
	observ.Log("state_loaded", map[string]any{
		"version":        snap.Version,
		"holdings":       len(snap.Holdings),
		"watchlist":      len(snap.Watchlist),
		"active_alerts":  len(stateMgr.ActiveAlerts()),
		"universe":       len(snap.Universe),
		"planned_trades": len(snap.PlannedTrades),
	})

	table := market.NewPriceTable()
	sim := market.NewSimulator(table, stateMgr, market.Config{
		TickInterval:   time.Duration(cfg.Simulator.TickIntervalMs) * time.Millisecond,
		DriftCenter:    cfg.Simulator.DriftCenter,
		DriftAmplitude: cfg.Simulator.DriftAmplitude,
		PriceFloor:     cfg.Simulator.PriceFloor,
	})

	if oneShot {
		sim.Tick()
		observ.Log("done", map[string]any{"mode": "oneshot"})
		return
	}

	if err := sim.Start(); err != nil {
		log.Fatalf("start simulator: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.Health())
	mux.Handle("/healthz", observ.HealthHandler())
	observ.Log("metrics_listen", map[string]any{"addr": cfg.MetricsAddr})
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	// Block until interrupted, then stop the simulator so no tick is mid-write
	// when the process exits.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	observ.Log("shutdown", map[string]any{"signal": s.String()})
	sim.Stop()
}
