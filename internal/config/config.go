package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Simulator struct {
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	DriftCenter    float64 `yaml:"drift_center"`    // per-tick drift midpoint, slightly negative
	DriftAmplitude float64 `yaml:"drift_amplitude"` // per-tick uniform half-width
	PriceFloor     float64 `yaml:"price_floor"`
}

type Analyst struct {
	Provider            string `yaml:"provider"` // static | http
	BaseURL             string `yaml:"base_url"`
	APIKeyEnv           string `yaml:"api_key_env"`
	RateLimitPerMinute  int    `yaml:"rate_limit_per_minute"`
	DailyCap            int    `yaml:"daily_cap"`
	CacheTTLSeconds     int    `yaml:"cache_ttl_seconds"`
	StaleCeilingSeconds int    `yaml:"stale_ceiling_seconds"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
}

type Narrative struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Store struct {
	StateFilePath    string `yaml:"state_file_path"`
	ExecutionLogPath string `yaml:"execution_log_path"`
}

type Root struct {
	Simulator   Simulator `yaml:"simulator"`
	Analyst     Analyst   `yaml:"analyst"`
	Narrative   Narrative `yaml:"narrative"`
	Store       Store     `yaml:"store"`
	MetricsAddr string    `yaml:"metrics_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	// Simulator defaults
	if c.Simulator.TickIntervalMs == 0 {
		c.Simulator.TickIntervalMs = 3000
	}
	if c.Simulator.DriftCenter == 0 {
		c.Simulator.DriftCenter = -0.001
	}
	if c.Simulator.DriftAmplitude == 0 {
		c.Simulator.DriftAmplitude = 0.02
	}
	if c.Simulator.PriceFloor == 0 {
		c.Simulator.PriceFloor = 0.01
	}

	// Analyst defaults
	if c.Analyst.Provider == "" {
		c.Analyst.Provider = "static"
	}
	if c.Analyst.APIKeyEnv == "" {
		c.Analyst.APIKeyEnv = "ANALYST_API_KEY"
	}
	if c.Analyst.RateLimitPerMinute == 0 {
		c.Analyst.RateLimitPerMinute = 30
	}
	if c.Analyst.DailyCap == 0 {
		c.Analyst.DailyCap = 500
	}
	if c.Analyst.CacheTTLSeconds == 0 {
		c.Analyst.CacheTTLSeconds = 300
	}
	if c.Analyst.StaleCeilingSeconds == 0 {
		c.Analyst.StaleCeilingSeconds = 900
	}
	if c.Analyst.TimeoutSeconds == 0 {
		c.Analyst.TimeoutSeconds = 10
	}

	// Narrative defaults
	if c.Narrative.Model == "" {
		c.Narrative.Model = "gemini-2.0-flash"
	}
	if c.Narrative.APIKeyEnv == "" {
		c.Narrative.APIKeyEnv = "GEMINI_API_KEY"
	}

	// Store defaults
	if c.Store.StateFilePath == "" {
		c.Store.StateFilePath = "data/state.json"
	}
	if c.Store.ExecutionLogPath == "" {
		c.Store.ExecutionLogPath = "data/execution_log.jsonl"
	}

	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:8090"
	}

	return c, nil
}
