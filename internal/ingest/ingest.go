// Package ingest implements the telemetry ingestion pipeline: validation,
// deduplication, transactional commit, derived status classification, and
// hand-off to the evaluator and subscription hub.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/ratelimit"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/rs/zerolog"
)

// Evaluator is the subset of the alert evaluator the pipeline depends on.
type Evaluator interface {
	Submit(sample types.Sample)
}

// Pipeline accepts telemetry batches from authenticated producers.
type Pipeline struct {
	store     storage.Store
	evaluator Evaluator
	hub       *hub.Hub
	limiter   *ratelimit.Keyed
	status    *statusCache
	logger    zerolog.Logger
}

// New builds an ingestion Pipeline rate-limited at samplesPerMinute per
// subject (the key the caller passes to RateLimited).
func New(store storage.Store, evaluator Evaluator, h *hub.Hub, samplesPerMinute int) *Pipeline {
	return &Pipeline{
		store:     store,
		evaluator: evaluator,
		hub:       h,
		limiter:   ratelimit.NewKeyed(samplesPerMinute, samplesPerMinute),
		status:    newStatusCache(),
		logger:    log.WithComponent("ingest"),
	}
}

const (
	voltageMin = 0.0
	voltageMax = 20.0
	tempMin    = -20.0
	tempMax    = 80.0
)

// validate enforces §3's physical range gates.
func validate(s types.Sample) error {
	switch {
	case s.VoltageV < voltageMin || s.VoltageV > voltageMax:
		return apperr.Newf(apperr.Validation, "voltage %.2f out of range [%.0f,%.0f]", s.VoltageV, voltageMin, voltageMax).WithEntity(s.BatteryID)
	case s.TemperatureC < tempMin || s.TemperatureC > tempMax:
		return apperr.Newf(apperr.Validation, "temperature %.2f out of range [%.0f,%.0f]", s.TemperatureC, tempMin, tempMax).WithEntity(s.BatteryID)
	case s.ResistanceMOhm < 0:
		return apperr.Newf(apperr.Validation, "resistance %.2f must be non-negative", s.ResistanceMOhm).WithEntity(s.BatteryID)
	case s.SoCPct < 0 || s.SoCPct > 100:
		return apperr.Newf(apperr.Validation, "soc %.2f out of range [0,100]", s.SoCPct).WithEntity(s.BatteryID)
	case s.SoHPct < 0 || s.SoHPct > 100:
		return apperr.Newf(apperr.Validation, "soh %.2f out of range [0,100]", s.SoHPct).WithEntity(s.BatteryID)
	}
	return nil
}

// dedup keeps the last occurrence per (battery, timestamp), preserving the
// overall arrival order of the surviving samples.
func dedup(batch []types.Sample) []types.Sample {
	type key struct {
		battery string
		ts      int64
	}
	last := make(map[key]int, len(batch))
	for i, s := range batch {
		last[key{s.BatteryID, s.Timestamp.UnixMilli()}] = i
	}

	out := make([]types.Sample, 0, len(last))
	for i, s := range batch {
		if last[key{s.BatteryID, s.Timestamp.UnixMilli()}] == i {
			out = append(out, s)
		}
	}
	return out
}

// RateLimited reports whether subject has exhausted its per-minute ingest
// budget and, if so, how long it must wait before retrying.
func (p *Pipeline) RateLimited(subject string) (bool, time.Duration) {
	if p.limiter.Allow(subject) {
		return false, 0
	}
	return true, p.limiter.RetryAfter(subject)
}

// Ingest validates, deduplicates, and commits a batch, then notifies the
// evaluator and hub for every committed sample.
func (p *Pipeline) Ingest(ctx context.Context, batch []types.Sample) error {
	for _, s := range batch {
		if err := validate(s); err != nil {
			metrics.SamplesRejectedTotal.WithLabelValues("validation").Inc()
			return err
		}
	}

	deduped := dedup(batch)

	timer := metrics.NewTimer()
	if err := p.store.InsertSamples(ctx, deduped); err != nil {
		if apperr.Is(err, apperr.Conflict) {
			metrics.SamplesRejectedTotal.WithLabelValues("conflict").Inc()
		}
		return err
	}
	timer.ObserveDuration(metrics.IngestBatchDuration)

	for _, s := range deduped {
		metrics.SamplesIngestedTotal.WithLabelValues(s.BatteryID).Inc()
		p.handleCommitted(ctx, s)
	}

	return nil
}

func (p *Pipeline) handleCommitted(ctx context.Context, sample types.Sample) {
	p.evaluator.Submit(sample)

	siteID, err := p.store.SiteIDForBattery(ctx, sample.BatteryID)
	if err != nil {
		p.logger.Warn().Err(err).Str("battery_id", sample.BatteryID).Msg("could not resolve site for telemetry publish")
	}

	p.hub.Publish(hub.Event{
		Type:      types.HubEventTelemetryUpdate,
		BatteryID: sample.BatteryID,
		SiteID:    siteID,
		Timestamp: sample.Timestamp,
		Payload:   sample,
	})

	openCritical, openWarning := p.openAlertSeverities(ctx, sample.BatteryID)
	status := ClassifyStatus(sample, openCritical, openWarning)
	if p.status.swap(sample.BatteryID, status) {
		p.hub.Publish(hub.Event{
			Type:      types.HubEventBatteryStatus,
			BatteryID: sample.BatteryID,
			SiteID:    siteID,
			Timestamp: sample.Timestamp,
			Payload: map[string]interface{}{
				"status":  status,
				"soh_pct": sample.SoHPct,
			},
		})
	}
}

// openAlertSeverities reports whether batteryID currently has an open
// critical and/or open warning alert of any kind.
func (p *Pipeline) openAlertSeverities(ctx context.Context, batteryID string) (critical, warning bool) {
	for _, kind := range []types.AlertKind{
		types.AlertVoltageHigh, types.AlertVoltageLow, types.AlertTemperatureHigh,
		types.AlertResistanceDrift, types.AlertSoHDegraded, types.AlertRULWarning, types.AlertRULCritical,
	} {
		alert, err := p.store.GetOpenAlert(ctx, batteryID, kind)
		if err != nil || alert == nil {
			continue
		}
		switch alert.Severity {
		case types.SeverityCritical:
			critical = true
		case types.SeverityWarning:
			warning = true
		}
	}
	return critical, warning
}

// ClassifyStatus implements §4.3's derived status classification.
func ClassifyStatus(s types.Sample, openCritical, openWarning bool) types.DerivedStatus {
	switch {
	case s.SoHPct < 80 || s.TemperatureC > 45 || openCritical:
		return types.DerivedCritical
	case (s.SoHPct >= 80 && s.SoHPct < 85) || (s.TemperatureC > 40 && s.TemperatureC <= 45) || openWarning:
		return types.DerivedWarning
	case s.SoHPct >= 85 && s.TemperatureC <= 40 && !openCritical:
		return types.DerivedHealthy
	default:
		return types.DerivedWarning
	}
}

// statusCache remembers the last published derived status per battery so
// battery_status_update is only emitted on change.
type statusCache struct {
	mu     sync.Mutex
	values map[string]types.DerivedStatus
}

func newStatusCache() *statusCache {
	return &statusCache{values: make(map[string]types.DerivedStatus)}
}

// swap records the new status and reports whether it differs from the
// previously recorded one.
func (c *statusCache) swap(batteryID string, status types.DerivedStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.values[batteryID]
	c.values[batteryID] = status
	return !ok || prev != status
}
