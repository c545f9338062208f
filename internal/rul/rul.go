// Package rul proxies battery remaining-useful-life predictions to the
// external inference service, guarding the outbound call with a circuit
// breaker and serving a cached last-known prediction in degraded mode
// while the breaker is open.
package rul

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// historyWindow is how far back of telemetry is sent as model input.
const historyWindow = 24 * time.Hour

// historyMaxSamples bounds the request payload size.
const historyMaxSamples = 500

// Evaluator is the subset of the alert evaluator the proxy feeds
// successful, non-degraded predictions into.
type Evaluator interface {
	EvaluateRUL(pred types.RULPrediction)
}

// Proxy wraps calls to the external RUL inference endpoint.
type Proxy struct {
	store      storage.Store
	evaluator  Evaluator
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger

	mu    sync.Mutex
	cache map[string]types.RULPrediction
}

// Config configures the circuit breaker guarding the outbound RUL calls.
type Config struct {
	ServiceURL  string
	MaxFailures uint32
	Cooldown    time.Duration
}

type predictRequest struct {
	BatteryID string          `json:"battery_id"`
	History   []types.Sample  `json:"history"`
}

type predictResponse struct {
	RULDays    int     `json:"rul_days"`
	Confidence float64 `json:"confidence"`
	RiskLevel  string  `json:"risk_level"`
}

// New builds a Proxy. evaluator may be nil in contexts that only need the
// read path (e.g. tests).
func New(store storage.Store, evaluator Evaluator, cfg Config) *Proxy {
	p := &Proxy{
		store:      store,
		evaluator:  evaluator,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    cfg.ServiceURL,
		logger:     log.WithComponent("rul"),
		cache:      make(map[string]types.RULPrediction),
	}

	settings := gobreaker.Settings{
		Name:        "rul-proxy",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("rul circuit breaker state change")
			metrics.RULBreakerState.Set(breakerStateValue(to))
		},
	}
	p.breaker = gobreaker.NewCircuitBreaker(settings)
	return p
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Predict returns the RUL prediction for batteryID, falling back to the
// last cached value with Degraded set when the breaker is open or the call
// fails. It never returns an error for breaker-open/failure cases, per the
// degraded-mode contract: callers always get a 200-shaped result.
func (p *Proxy) Predict(ctx context.Context, batteryID string) (types.RULPrediction, error) {
	history, err := p.store.RangeSamples(ctx, batteryID, time.Now().Add(-historyWindow), time.Now(), historyMaxSamples)
	if err != nil {
		return types.RULPrediction{}, fmt.Errorf("load telemetry history: %w", err)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, batteryID, history)
	})
	if err != nil {
		metrics.RULRequestsTotal.WithLabelValues("degraded").Inc()
		return p.degraded(batteryID), nil
	}

	pred := result.(types.RULPrediction)
	metrics.RULRequestsTotal.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.cache[batteryID] = pred
	p.mu.Unlock()

	if p.evaluator != nil {
		p.evaluator.EvaluateRUL(pred)
	}
	return pred, nil
}

func (p *Proxy) call(ctx context.Context, batteryID string, history []types.Sample) (types.RULPrediction, error) {
	body, err := json.Marshal(predictRequest{BatteryID: batteryID, History: history})
	if err != nil {
		return types.RULPrediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return types.RULPrediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.RULPrediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return types.RULPrediction{}, fmt.Errorf("rul service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return types.RULPrediction{}, fmt.Errorf("rul service returned unexpected status %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return types.RULPrediction{}, fmt.Errorf("decode rul response: %w", err)
	}

	return types.RULPrediction{
		BatteryID:  batteryID,
		RULDays:    pr.RULDays,
		Confidence: pr.Confidence,
		RiskLevel:  pr.RiskLevel,
		Degraded:   false,
		AsOf:       time.Now().UTC(),
	}, nil
}

// degraded returns the last cached prediction for batteryID with the
// Degraded flag set, or a zero-confidence placeholder if nothing was ever
// cached for it.
func (p *Proxy) degraded(batteryID string) types.RULPrediction {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, ok := p.cache[batteryID]
	if !ok {
		return types.RULPrediction{BatteryID: batteryID, Degraded: true, AsOf: time.Now().UTC()}
	}
	cached.Degraded = true
	cached.AsOf = time.Now().UTC()
	return cached
}
