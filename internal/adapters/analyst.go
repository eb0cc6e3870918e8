package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/plan"
	"github.com/wealthdesk/wealthdesk/internal/universe"
)

// AnalystError classifies failures from the analyst-data provider.
type AnalystError struct {
	Type    string // "config", "network", "rate_limit", "provider_error", "bad_payload"
	Message string
	Cause   error
}

func (e *AnalystError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analyst %s error: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("analyst %s error: %s", e.Type, e.Message)
}

func NewAnalystConfigError(message string) *AnalystError {
	return &AnalystError{Type: "config", Message: message}
}

func NewAnalystNetworkError(message string, cause error) *AnalystError {
	return &AnalystError{Type: "network", Message: message, Cause: cause}
}

func NewAnalystProviderError(message string, cause error) *AnalystError {
	return &AnalystError{Type: "provider_error", Message: message, Cause: cause}
}

func NewAnalystPayloadError(message string, cause error) *AnalystError {
	return &AnalystError{Type: "bad_payload", Message: message, Cause: cause}
}

// HTTPAnalystConfig holds the knobs for the hosted analyst-data provider.
type HTTPAnalystConfig struct {
	BaseURL             string
	APIKey              string
	RateLimitPerMinute  int
	DailyCap            int
	CacheTTLSeconds     int
	StaleCeilingSeconds int
	TimeoutSeconds      int
}

// HTTPAnalystProvider fetches analyst targets over HTTP with rate limiting, a
// TTL cache, and a daily request budget. Symbols the provider does not cover
// are simply absent from the result; callers treat absence as ineligible.
type HTTPAnalystProvider struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      HTTPAnalystConfig

	mu              sync.Mutex
	cache           map[string]targetCacheEntry
	requestsToday   int
	budgetResetTime time.Time
}

type targetCacheEntry struct {
	target    plan.AnalystTarget
	fetchedAt time.Time
}

func NewHTTPAnalystProvider(config HTTPAnalystConfig) (*HTTPAnalystProvider, error) {
	if config.BaseURL == "" {
		return nil, NewAnalystConfigError("base URL is required")
	}
	if config.APIKey == "" {
		return nil, NewAnalystConfigError("API key is required; set the configured environment variable")
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 30
	}
	if config.DailyCap <= 0 {
		config.DailyCap = 500
	}
	if config.CacheTTLSeconds <= 0 {
		config.CacheTTLSeconds = 300
	}
	if config.StaleCeilingSeconds <= 0 {
		config.StaleCeilingSeconds = 900
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}

	return &HTTPAnalystProvider{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter:     rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		config:          config,
		cache:           map[string]targetCacheEntry{},
		budgetResetTime: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetTargets returns analyst targets for the requested symbols. Fresh cache
// entries are served without a request; stale-but-usable entries are served
// when the budget or rate limit blocks a fetch. Every external call is
// fire-once: no retries.
func (p *HTTPAnalystProvider) GetTargets(ctx context.Context, symbols []string) (map[string]plan.AnalystTarget, error) {
	out := make(map[string]plan.AnalystTarget, len(symbols))
	var missing []string

	for _, sym := range symbols {
		sym = universe.Normalize(sym)
		if sym == "" {
			continue
		}
		if target, ok := p.cached(sym, time.Duration(p.config.CacheTTLSeconds)*time.Second); ok {
			out[sym] = target
			observ.IncCounter("analyst_cache_hits_total", nil)
			continue
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if !p.takeBudget() {
		// Budget exhausted: fall back to stale cache entries within the
		// ceiling, leave the rest absent.
		staleCeiling := time.Duration(p.config.StaleCeilingSeconds) * time.Second
		for _, sym := range missing {
			if target, ok := p.cached(sym, staleCeiling); ok {
				out[sym] = target
			}
		}
		observ.IncCounter("analyst_budget_exhausted_total", nil)
		return out, nil
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return out, NewAnalystNetworkError("rate limiter wait interrupted", err)
	}

	fetched, err := p.fetch(ctx, missing)
	if err != nil {
		return out, err
	}
	now := time.Now()
	p.mu.Lock()
	for sym, target := range fetched {
		p.cache[sym] = targetCacheEntry{target: target, fetchedAt: now}
		out[sym] = target
	}
	p.mu.Unlock()
	return out, nil
}

func (p *HTTPAnalystProvider) cached(symbol string, maxAge time.Duration) (plan.AnalystTarget, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[symbol]
	if !ok || time.Since(entry.fetchedAt) > maxAge {
		return plan.AnalystTarget{}, false
	}
	return entry.target, true
}

func (p *HTTPAnalystProvider) takeBudget() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.After(p.budgetResetTime) {
		p.requestsToday = 0
		p.budgetResetTime = now.Add(24 * time.Hour)
	}
	if p.requestsToday >= p.config.DailyCap {
		observ.SetGauge("analyst_budget_used", float64(p.requestsToday), nil)
		return false
	}
	p.requestsToday++
	observ.SetGauge("analyst_budget_used", float64(p.requestsToday), nil)
	observ.SetGauge("analyst_budget_cap", float64(p.config.DailyCap), nil)
	return true
}

func (p *HTTPAnalystProvider) fetch(ctx context.Context, symbols []string) (map[string]plan.AnalystTarget, error) {
	u, err := url.Parse(p.baseURL + "/v1/targets")
	if err != nil {
		return nil, NewAnalystConfigError(fmt.Sprintf("invalid base URL: %v", err))
	}
	q := u.Query()
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, NewAnalystNetworkError("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		observ.IncCounter("analyst_requests_total", map[string]string{"outcome": "network_error"})
		return nil, NewAnalystNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewAnalystNetworkError("read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("analyst_requests_total", map[string]string{"outcome": "provider_error"})
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, NewAnalystProviderError(fmt.Sprintf("status %d: %s", resp.StatusCode, apiErr.Error), nil)
		}
		return nil, NewAnalystProviderError(fmt.Sprintf("status %d with non-JSON body", resp.StatusCode), nil)
	}

	var payload struct {
		Targets []plan.AnalystTarget `json:"targets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		observ.IncCounter("analyst_requests_total", map[string]string{"outcome": "bad_payload"})
		return nil, NewAnalystPayloadError("decode targets payload", err)
	}

	observ.IncCounter("analyst_requests_total", map[string]string{"outcome": "ok"})
	out := make(map[string]plan.AnalystTarget, len(payload.Targets))
	for _, t := range payload.Targets {
		sym := universe.Normalize(t.Symbol)
		if sym == "" {
			continue
		}
		t.Symbol = sym
		out[sym] = t
	}
	return out, nil
}

// StaticAnalystProvider serves a fixed target table. Used for offline runs
// and tests; symbols absent from the table are simply not covered.
type StaticAnalystProvider struct {
	Targets map[string]plan.AnalystTarget
	Err     error
}

func (p *StaticAnalystProvider) GetTargets(_ context.Context, symbols []string) (map[string]plan.AnalystTarget, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make(map[string]plan.AnalystTarget, len(symbols))
	for _, sym := range symbols {
		sym = universe.Normalize(sym)
		if t, ok := p.Targets[sym]; ok {
			out[sym] = t
		}
	}
	return out, nil
}
