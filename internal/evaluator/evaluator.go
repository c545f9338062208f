// Package evaluator implements the Alert Evaluator: a per-battery state
// machine that converts telemetry samples (and, opportunistically, RUL
// predictions) into alert open/close/escalate transitions.
//
// Transitions for a given battery are serialized onto one of a fixed number
// of shard goroutines, hashed by battery id, so no per-sample locking is
// needed and causal ordering per battery is preserved end to end.
package evaluator

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ampguard/telemetry-core/internal/config"
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// windowMaxSamples is N from the spec's rolling-window bound.
const windowMaxSamples = 128

// windowMaxAge bounds the rolling window by wall-clock time as well as count.
const windowMaxAge = 24 * time.Hour

const resistanceOpenDuration = 10 * time.Minute
const sohCloseDuration = 24 * time.Hour
const consecutiveToTransition = 2

type jobKind int

const (
	jobSample jobKind = iota
	jobRUL
)

type job struct {
	batteryID string
	kind      jobKind
	sample    types.Sample
	rul       types.RULPrediction
}

// Evaluator runs the per-battery alert rules defined in the battery
// telemetry specification's threshold table.
type Evaluator struct {
	store  storage.Store
	hub    *hub.Hub
	cfg    config.EvaluatorConfig
	logger zerolog.Logger

	shards []chan job
}

// New builds an Evaluator with shardCount worker goroutines. shardCount
// should be small and fixed (a handful to a few dozen); each shard owns a
// disjoint subset of batteries for the lifetime of the process.
func New(store storage.Store, h *hub.Hub, cfg config.EvaluatorConfig, shardCount int) *Evaluator {
	if shardCount <= 0 {
		shardCount = 8
	}
	e := &Evaluator{
		store:  store,
		hub:    h,
		cfg:    cfg,
		logger: log.WithComponent("evaluator"),
		shards: make([]chan job, shardCount),
	}
	for i := range e.shards {
		e.shards[i] = make(chan job, 64)
	}
	return e
}

// Start launches the shard workers and reconstructs rolling-window state for
// every battery that currently has at least one open alert.
func (e *Evaluator) Start(ctx context.Context) error {
	states, err := e.reconstruct(ctx)
	if err != nil {
		return fmt.Errorf("reconstruct evaluator state: %w", err)
	}

	for i, ch := range e.shards {
		seed := make(map[string]*batteryState, len(states))
		for batteryID, st := range states {
			if e.shardFor(batteryID) == i {
				seed[batteryID] = st
			}
		}
		go e.runShard(ch, seed)
	}
	return nil
}

// Stop closes every shard channel, allowing in-flight jobs to drain.
func (e *Evaluator) Stop() {
	for _, ch := range e.shards {
		close(ch)
	}
}

func (e *Evaluator) shardFor(batteryID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(batteryID))
	return int(h.Sum32()) % len(e.shards)
}

// Submit hands a committed telemetry sample to the battery's shard. It
// satisfies ingest.Evaluator.
func (e *Evaluator) Submit(sample types.Sample) {
	e.shards[e.shardFor(sample.BatteryID)] <- job{batteryID: sample.BatteryID, kind: jobSample, sample: sample}
}

// EvaluateRUL hands a freshly fetched (non-degraded) RUL prediction to the
// battery's shard for rul_warning/rul_critical evaluation. RUL predictions
// arrive only when something calls the RUL proxy, not per telemetry sample,
// so this is invoked by internal/rul's Proxy after a successful inference
// call (reached through internal/api's RUL endpoint) rather than from
// ingestion.
func (e *Evaluator) EvaluateRUL(pred types.RULPrediction) {
	if pred.Degraded {
		return
	}
	e.shards[e.shardFor(pred.BatteryID)] <- job{batteryID: pred.BatteryID, kind: jobRUL, rul: pred}
}

func (e *Evaluator) runShard(ch chan job, state map[string]*batteryState) {
	ctx := context.Background()
	for j := range ch {
		st, ok := state[j.batteryID]
		if !ok {
			st = newBatteryState()
			state[j.batteryID] = st
		}
		switch j.kind {
		case jobSample:
			e.evaluateSample(ctx, j.batteryID, st, j.sample)
		case jobRUL:
			e.evaluateRUL(ctx, j.batteryID, st, j.rul)
		}
	}
}

func (e *Evaluator) evaluateSample(ctx context.Context, batteryID string, st *batteryState, sample types.Sample) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EvaluationDuration)

	st.push(sample)

	e.evalVoltageHigh(ctx, batteryID, st, sample)
	e.evalVoltageLow(ctx, batteryID, st, sample)
	e.evalTemperature(ctx, batteryID, st, sample)
	e.evalResistance(ctx, batteryID, st, sample)
	e.evalSoH(ctx, batteryID, st, sample)
}

func (e *Evaluator) evalVoltageHigh(ctx context.Context, batteryID string, st *batteryState, s types.Sample) {
	const kind = types.AlertVoltageHigh
	upper := e.cfg.VoltageHigh
	open := st.openAlerts[kind] != nil

	if s.VoltageV > upper {
		st.voltageHighRun++
	} else {
		st.voltageHighRun = 0
	}
	if !open && st.voltageHighRun >= consecutiveToTransition {
		e.openAlert(ctx, batteryID, st, kind, types.SeverityWarning, s, upper,
			fmt.Sprintf("terminal voltage %.2fV exceeds upper threshold %.2fV", s.VoltageV, upper))
		return
	}

	if open {
		if s.VoltageV <= upper-e.cfg.VoltageHysteresis {
			st.voltageHighRecoverRun++
		} else {
			st.voltageHighRecoverRun = 0
		}
		if st.voltageHighRecoverRun >= consecutiveToTransition {
			e.closeAlert(ctx, batteryID, st, kind, s.Timestamp)
		}
	}
}

func (e *Evaluator) evalVoltageLow(ctx context.Context, batteryID string, st *batteryState, s types.Sample) {
	const kind = types.AlertVoltageLow
	lower := e.cfg.VoltageLow
	open := st.openAlerts[kind] != nil

	if s.VoltageV < lower {
		st.voltageLowRun++
	} else {
		st.voltageLowRun = 0
	}
	if !open && st.voltageLowRun >= consecutiveToTransition {
		e.openAlert(ctx, batteryID, st, kind, types.SeverityWarning, s, lower,
			fmt.Sprintf("terminal voltage %.2fV below lower threshold %.2fV", s.VoltageV, lower))
		return
	}

	if open {
		if s.VoltageV >= lower+e.cfg.VoltageHysteresis {
			st.voltageLowRecoverRun++
		} else {
			st.voltageLowRecoverRun = 0
		}
		if st.voltageLowRecoverRun >= consecutiveToTransition {
			e.closeAlert(ctx, batteryID, st, kind, s.Timestamp)
		}
	}
}

// evalTemperature opens/closes temperature_high on a single sample crossing
// (no consecutive-sample requirement, per the threshold table) and escalates
// severity to critical above TempCritical without ever downgrading it back
// to warning while the alert remains open.
func (e *Evaluator) evalTemperature(ctx context.Context, batteryID string, st *batteryState, s types.Sample) {
	const kind = types.AlertTemperatureHigh
	alert := st.openAlerts[kind]

	if alert == nil {
		if s.TemperatureC > e.cfg.TempHigh {
			severity := types.SeverityWarning
			if s.TemperatureC > e.cfg.TempCritical {
				severity = types.SeverityCritical
			}
			e.openAlert(ctx, batteryID, st, kind, severity, s, e.cfg.TempHigh,
				fmt.Sprintf("temperature %.1f°C exceeds %.1f°C", s.TemperatureC, e.cfg.TempHigh))
		}
		return
	}

	if alert.Severity == types.SeverityWarning && s.TemperatureC > e.cfg.TempCritical {
		e.escalateAlert(ctx, batteryID, st, kind, types.SeverityCritical)
	}
	if s.TemperatureC <= e.cfg.TempHighClose {
		e.closeAlert(ctx, batteryID, st, kind, s.Timestamp)
	}
}

// evalResistance implements the baseline x1.20 sustained-10-minute open
// condition. The baseline is fixed to the first resistance reading this
// process sees for the battery (after a restart, the first sample of the
// reloaded window), the stablest reference available without a dedicated
// calibration procedure.
func (e *Evaluator) evalResistance(ctx context.Context, batteryID string, st *batteryState, s types.Sample) {
	const kind = types.AlertResistanceDrift
	if !st.baselineSet {
		st.baselineResistance = s.ResistanceMOhm
		st.baselineSet = true
	}
	if st.baselineResistance <= 0 {
		return
	}

	openThreshold := st.baselineResistance * e.cfg.ResistanceFactorOpen
	closeThreshold := st.baselineResistance * e.cfg.ResistanceFactorClose
	open := st.openAlerts[kind] != nil

	if s.ResistanceMOhm > openThreshold {
		if st.resistanceExceedSince == nil {
			ts := s.Timestamp
			st.resistanceExceedSince = &ts
		}
		if !open && s.Timestamp.Sub(*st.resistanceExceedSince) >= resistanceOpenDuration {
			e.openAlert(ctx, batteryID, st, kind, types.SeverityWarning, s, openThreshold,
				fmt.Sprintf("internal resistance %.2fmΩ exceeds baseline x%.2f (%.2fmΩ)",
					s.ResistanceMOhm, e.cfg.ResistanceFactorOpen, openThreshold))
		}
	} else {
		st.resistanceExceedSince = nil
	}

	if open {
		if s.ResistanceMOhm <= closeThreshold {
			st.resistanceRecoverRun++
		} else {
			st.resistanceRecoverRun = 0
		}
		if st.resistanceRecoverRun >= consecutiveToTransition {
			e.closeAlert(ctx, batteryID, st, kind, s.Timestamp)
		}
	}
}

// evalSoH opens soh_degraded immediately below SoHWarn, escalates to
// critical below SoHCritical, and closes only after SoH has held at or
// above SoHWarnClose continuously for 24h.
func (e *Evaluator) evalSoH(ctx context.Context, batteryID string, st *batteryState, s types.Sample) {
	const kind = types.AlertSoHDegraded
	alert := st.openAlerts[kind]

	if alert == nil {
		if s.SoHPct < e.cfg.SoHWarn {
			severity := types.SeverityWarning
			if s.SoHPct < e.cfg.SoHCritical {
				severity = types.SeverityCritical
			}
			e.openAlert(ctx, batteryID, st, kind, severity, s, e.cfg.SoHWarn,
				fmt.Sprintf("state of health %.1f%% below %.1f%%", s.SoHPct, e.cfg.SoHWarn))
		}
		return
	}

	if alert.Severity == types.SeverityWarning && s.SoHPct < e.cfg.SoHCritical {
		e.escalateAlert(ctx, batteryID, st, kind, types.SeverityCritical)
	}

	if s.SoHPct >= e.cfg.SoHWarnClose {
		if st.sohRecoverSince == nil {
			ts := s.Timestamp
			st.sohRecoverSince = &ts
		}
		if s.Timestamp.Sub(*st.sohRecoverSince) >= sohCloseDuration {
			e.closeAlert(ctx, batteryID, st, kind, s.Timestamp)
		}
	} else {
		st.sohRecoverSince = nil
	}
}

func (e *Evaluator) evaluateRUL(ctx context.Context, batteryID string, st *batteryState, pred types.RULPrediction) {
	e.evalRULKind(ctx, batteryID, st, types.AlertRULWarning, pred, e.cfg.RULWarningDays)
	e.evalRULKind(ctx, batteryID, st, types.AlertRULCritical, pred, e.cfg.RULCriticalDays)
}

func (e *Evaluator) evalRULKind(ctx context.Context, batteryID string, st *batteryState, kind types.AlertKind, pred types.RULPrediction, thresholdDays int) {
	open := st.openAlerts[kind] != nil
	severity := types.SeverityWarning
	if kind == types.AlertRULCritical {
		severity = types.SeverityCritical
	}

	sample := types.Sample{BatteryID: batteryID, Timestamp: pred.AsOf}
	if pred.RULDays < thresholdDays {
		if !open {
			e.openAlert(ctx, batteryID, st, kind, severity, sample, float64(thresholdDays),
				fmt.Sprintf("remaining useful life %dd below %dd threshold", pred.RULDays, thresholdDays))
		}
		return
	}
	if open {
		e.closeAlert(ctx, batteryID, st, kind, pred.AsOf)
	}
}

func (e *Evaluator) openAlert(ctx context.Context, batteryID string, st *batteryState, kind types.AlertKind, severity types.Severity, s types.Sample, threshold float64, message string) {
	if st.openAlerts[kind] != nil {
		panic(fmt.Sprintf("evaluator: duplicate open alert for battery %s kind %s", batteryID, kind))
	}

	observed := s.VoltageV
	switch kind {
	case types.AlertTemperatureHigh:
		observed = s.TemperatureC
	case types.AlertResistanceDrift:
		observed = s.ResistanceMOhm
	case types.AlertSoHDegraded:
		observed = s.SoHPct
	case types.AlertRULWarning, types.AlertRULCritical:
		observed = threshold // placeholder; the meaningful value is in the message
	}

	alert := &types.Alert{
		ID:          uuid.NewString(),
		BatteryID:   batteryID,
		Kind:        kind,
		Severity:    severity,
		Message:     message,
		Threshold:   threshold,
		Observed:    observed,
		TriggeredAt: s.Timestamp,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		if apperr.Is(err, apperr.Conflict) {
			panic(fmt.Sprintf("evaluator: store rejected duplicate open alert for battery %s kind %s: %v", batteryID, kind, err))
		}
		e.logger.Error().Err(err).Str("battery_id", batteryID).Str("kind", string(kind)).Msg("failed to persist alert")
		return
	}

	st.openAlerts[kind] = alert
	metrics.AlertsTriggeredTotal.WithLabelValues(string(kind), string(severity)).Inc()
	metrics.AlertsOpenTotal.WithLabelValues(string(kind), string(severity)).Inc()
	e.publish(batteryID, alert)
}

func (e *Evaluator) closeAlert(ctx context.Context, batteryID string, st *batteryState, kind types.AlertKind, resolvedAt time.Time) {
	alert := st.openAlerts[kind]
	if alert == nil {
		return
	}
	if err := e.store.ResolveAlert(ctx, alert.ID, resolvedAt); err != nil {
		e.logger.Error().Err(err).Str("battery_id", batteryID).Str("kind", string(kind)).Msg("failed to resolve alert")
		return
	}

	metrics.AlertsResolvedTotal.WithLabelValues(string(kind)).Inc()
	metrics.AlertsOpenTotal.WithLabelValues(string(kind), string(alert.Severity)).Dec()

	resolved := *alert
	resolved.ResolvedAt = &resolvedAt
	delete(st.openAlerts, kind)
	e.publish(batteryID, &resolved)
}

func (e *Evaluator) escalateAlert(ctx context.Context, batteryID string, st *batteryState, kind types.AlertKind, severity types.Severity) {
	alert := st.openAlerts[kind]
	if alert == nil || alert.Severity == severity {
		return
	}
	if err := e.store.UpdateAlertSeverity(ctx, alert.ID, severity); err != nil {
		e.logger.Error().Err(err).Str("battery_id", batteryID).Str("kind", string(kind)).Msg("failed to escalate alert")
		return
	}
	metrics.AlertsOpenTotal.WithLabelValues(string(kind), string(alert.Severity)).Dec()
	metrics.AlertsOpenTotal.WithLabelValues(string(kind), string(severity)).Inc()
	alert.Severity = severity
	e.publish(batteryID, alert)
}

func (e *Evaluator) publish(batteryID string, alert *types.Alert) {
	siteID, err := e.store.SiteIDForBattery(context.Background(), batteryID)
	if err != nil {
		e.logger.Warn().Err(err).Str("battery_id", batteryID).Msg("could not resolve site for alert publish")
	}
	e.hub.Publish(hub.Event{
		Type:      types.HubEventAlert,
		BatteryID: batteryID,
		SiteID:    siteID,
		Timestamp: alert.TriggeredAt,
		Payload:   alert,
	})
}

// reconstruct rebuilds in-memory rolling-window and open-alert state for
// every battery that currently has at least one open alert, per spec.
func (e *Evaluator) reconstruct(ctx context.Context) (map[string]*batteryState, error) {
	open, err := e.store.ListAlerts(ctx, storage.AlertFilter{ActiveOnly: true, Limit: 1000})
	if err != nil {
		return nil, err
	}

	states := make(map[string]*batteryState)
	for i := range open {
		a := open[i]
		st, ok := states[a.BatteryID]
		if !ok {
			st = newBatteryState()
			states[a.BatteryID] = st
		}
		cp := a
		st.openAlerts[a.Kind] = &cp
	}

	now := time.Now().UTC()
	for batteryID, st := range states {
		samples, err := e.store.RangeSamples(ctx, batteryID, now.Add(-windowMaxAge), now, windowMaxSamples)
		if err != nil {
			e.logger.Warn().Err(err).Str("battery_id", batteryID).Msg("could not reload window for reconstruction")
			continue
		}
		for _, s := range samples {
			st.push(s)
		}
		if len(samples) > 0 {
			st.baselineResistance = samples[0].ResistanceMOhm
			st.baselineSet = true
		}
	}

	return states, nil
}
