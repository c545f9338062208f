package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ampguard/telemetry-core/internal/config"
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
)

// fakeStore is a minimal in-memory storage.Store double used to exercise the
// evaluator without a database.
type fakeStore struct {
	mu     sync.Mutex
	alerts map[string]*types.Alert
	byKey  map[string]*types.Alert // battery|kind -> open alert
	ranges map[string][]types.Sample
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		alerts: make(map[string]*types.Alert),
		byKey:  make(map[string]*types.Alert),
		ranges: make(map[string][]types.Sample),
	}
}

func key(batteryID string, kind types.AlertKind) string { return batteryID + "|" + string(kind) }

func (f *fakeStore) CreateAlert(ctx context.Context, alert *types.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(alert.BatteryID, alert.Kind)
	if existing, ok := f.byKey[k]; ok && existing.IsOpen() {
		return apperr.New(apperr.Conflict, "alert already open").WithEntity(alert.BatteryID)
	}
	cp := *alert
	f.alerts[alert.ID] = &cp
	f.byKey[k] = &cp
	return nil
}

func (f *fakeStore) ResolveAlert(ctx context.Context, id string, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return nil
	}
	a.ResolvedAt = &resolvedAt
	delete(f.byKey, key(a.BatteryID, a.Kind))
	return nil
}

func (f *fakeStore) UpdateAlertSeverity(ctx context.Context, id string, severity types.Severity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return nil
	}
	a.Severity = severity
	return nil
}

func (f *fakeStore) GetOpenAlert(ctx context.Context, batteryID string, kind types.AlertKind) (*types.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[key(batteryID, kind)], nil
}

func (f *fakeStore) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]types.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Alert
	for _, a := range f.alerts {
		if filter.ActiveOnly && !a.IsOpen() {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) RangeSamples(ctx context.Context, batteryID string, start, end time.Time, maxRows int) ([]types.Sample, error) {
	return f.ranges[batteryID], nil
}

func (f *fakeStore) SiteIDForBattery(ctx context.Context, batteryID string) (string, error) {
	return "SITE-1", nil
}

// The remaining Store methods are unused by the evaluator; stub them out.
func (f *fakeStore) InsertSamples(ctx context.Context, batch []types.Sample) error { return nil }
func (f *fakeStore) LatestSample(ctx context.Context, batteryID string) (*types.Sample, error) {
	return nil, nil
}
func (f *fakeStore) ListSites(ctx context.Context, withStats bool) ([]types.Site, map[string]types.SiteStats, error) {
	return nil, nil, nil
}
func (f *fakeStore) GetSite(ctx context.Context, id string) (*types.Site, error) { return nil, nil }
func (f *fakeStore) CreateSite(ctx context.Context, site *types.Site) error      { return nil }
func (f *fakeStore) ListSystems(ctx context.Context, siteID string) ([]types.System, error) {
	return nil, nil
}
func (f *fakeStore) ListStrings(ctx context.Context, systemID string) ([]types.String, error) {
	return nil, nil
}
func (f *fakeStore) ListBatteries(ctx context.Context, filter storage.BatteryFilter) ([]types.Battery, error) {
	return nil, nil
}
func (f *fakeStore) GetBattery(ctx context.Context, id string) (*types.Battery, error) {
	return nil, nil
}
func (f *fakeStore) ListBatteriesBySite(ctx context.Context, siteID string) ([]types.Battery, error) {
	return nil, nil
}
func (f *fakeStore) UpdateBatteryStatus(ctx context.Context, id string, status types.OperationalStatus) error {
	return nil
}
func (f *fakeStore) CreateUser(ctx context.Context, user *types.User) error { return nil }
func (f *fakeStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	return nil, nil
}
func (f *fakeStore) GetUserByLogin(ctx context.Context, login string) (*types.User, error) {
	return nil, nil
}
func (f *fakeStore) ListUsers(ctx context.Context, filter storage.UserFilter) ([]types.User, error) {
	return nil, nil
}
func (f *fakeStore) UpdateUser(ctx context.Context, user *types.User) error { return nil }
func (f *fakeStore) DeleteUser(ctx context.Context, id string) error       { return nil }
func (f *fakeStore) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[id], nil
}
func (f *fakeStore) AcknowledgeAlert(ctx context.Context, id string, ack types.Acknowledgement) error {
	return nil
}
func (f *fakeStore) AlertStats(ctx context.Context, siteID string, since time.Time) (storage.AlertStats, error) {
	return storage.AlertStats{}, nil
}
func (f *fakeStore) CreateSession(ctx context.Context, session *types.Session) error { return nil }
func (f *fakeStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return nil, nil
}
func (f *fakeStore) RevokeSession(ctx context.Context, id string) error { return nil }
func (f *fakeStore) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func testConfig() config.EvaluatorConfig {
	return config.EvaluatorConfig{
		VoltageHigh:           14.7,
		VoltageLow:            11.5,
		VoltageHysteresis:     0.2,
		TempHigh:              45.0,
		TempHighClose:         43.0,
		TempCritical:          55.0,
		ResistanceFactorOpen:  1.20,
		ResistanceFactorClose: 1.10,
		SoHWarn:               80.0,
		SoHWarnClose:          82.0,
		SoHCritical:           70.0,
		RULWarningDays:        180,
		RULCriticalDays:       90,
	}
}

func newTestEvaluator(store storage.Store) *Evaluator {
	h := hub.New(func(string) string { return "SITE-1" })
	return New(store, h, testConfig(), 1)
}

func TestVoltageHigh_OpensAfterConsecutiveSamples(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	st := newBatteryState()

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now, VoltageV: 15.0})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertVoltageHigh); a != nil {
		t.Fatalf("expected no alert after a single high sample")
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(time.Minute), VoltageV: 15.0})
	a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertVoltageHigh)
	if a == nil {
		t.Fatalf("expected alert open after two consecutive high samples")
	}
	if a.Severity != types.SeverityWarning {
		t.Errorf("expected warning severity, got %s", a.Severity)
	}
}

func TestVoltageHigh_ClosesWithHysteresis(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	st := newBatteryState()

	for i := 0; i < 2; i++ {
		e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(time.Duration(i) * time.Minute), VoltageV: 15.0})
	}
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertVoltageHigh); a == nil {
		t.Fatalf("setup failed: expected alert to be open")
	}

	// Just under the upper threshold, but not below the hysteresis band: must not close yet.
	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(3 * time.Minute), VoltageV: 14.6})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertVoltageHigh); a == nil {
		t.Fatalf("expected alert to remain open within hysteresis band")
	}

	for i := 0; i < 2; i++ {
		e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(time.Duration(4+i) * time.Minute), VoltageV: 14.0})
	}
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertVoltageHigh); a != nil {
		t.Fatalf("expected alert to close once voltage recovers below hysteresis band for two samples")
	}
}

func TestTemperatureHigh_EscalatesToCritical(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	st := newBatteryState()

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now, TemperatureC: 46.0})
	a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertTemperatureHigh)
	if a == nil || a.Severity != types.SeverityWarning {
		t.Fatalf("expected warning temperature alert, got %+v", a)
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(time.Minute), TemperatureC: 56.0})
	a, _ = store.GetOpenAlert(ctx, "BAT-1", types.AlertTemperatureHigh)
	if a == nil || a.Severity != types.SeverityCritical {
		t.Fatalf("expected escalation to critical, got %+v", a)
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(2 * time.Minute), TemperatureC: 40.0})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertTemperatureHigh); a != nil {
		t.Fatalf("expected alert to close below TempHighClose")
	}
}

func TestSoHDegraded_EscalatesAndRequiresSustainedRecovery(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	st := newBatteryState()

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now, SoHPct: 75})
	a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertSoHDegraded)
	if a == nil || a.Severity != types.SeverityWarning {
		t.Fatalf("expected warning soh alert, got %+v", a)
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(time.Minute), SoHPct: 65})
	a, _ = store.GetOpenAlert(ctx, "BAT-1", types.AlertSoHDegraded)
	if a == nil || a.Severity != types.SeverityCritical {
		t.Fatalf("expected escalation to critical, got %+v", a)
	}

	// Recovers above SoHWarnClose but not for the full 24h sustain window yet.
	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(2 * time.Minute), SoHPct: 90})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertSoHDegraded); a == nil {
		t.Fatalf("expected alert to remain open before the sustain window elapses")
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(25 * time.Hour), SoHPct: 90})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertSoHDegraded); a != nil {
		t.Fatalf("expected alert to close after sustained recovery")
	}
}

func TestResistanceDrift_OpensAfterBaselineFactorSustained(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	st := newBatteryState()

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now, ResistanceMOhm: 10.0})
	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(5 * time.Minute), ResistanceMOhm: 13.0})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertResistanceDrift); a != nil {
		t.Fatalf("expected no alert before the 10-minute sustain window elapses")
	}

	e.evaluateSample(ctx, "BAT-1", st, types.Sample{BatteryID: "BAT-1", Timestamp: now.Add(15 * time.Minute), ResistanceMOhm: 13.0})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertResistanceDrift); a == nil {
		t.Fatalf("expected alert open once resistance holds above baseline x1.20 for 10 minutes")
	}
}

func TestEvaluateRUL_OpensAndClosesByIndependentThresholds(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()

	st := newBatteryState()
	e.evaluateRUL(ctx, "BAT-1", st, types.RULPrediction{BatteryID: "BAT-1", RULDays: 150, AsOf: now})

	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertRULWarning); a == nil {
		t.Fatalf("expected rul_warning to open below 180d")
	}
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertRULCritical); a != nil {
		t.Fatalf("expected rul_critical to remain closed above 90d")
	}

	e.evaluateRUL(ctx, "BAT-1", st, types.RULPrediction{BatteryID: "BAT-1", RULDays: 60, AsOf: now.Add(time.Hour)})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertRULCritical); a == nil {
		t.Fatalf("expected rul_critical to open below 90d")
	}

	e.evaluateRUL(ctx, "BAT-1", st, types.RULPrediction{BatteryID: "BAT-1", RULDays: 200, AsOf: now.Add(2 * time.Hour)})
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertRULWarning); a != nil {
		t.Fatalf("expected rul_warning to close once RUL recovers above 180d")
	}
	if a, _ := store.GetOpenAlert(ctx, "BAT-1", types.AlertRULCritical); a != nil {
		t.Fatalf("expected rul_critical to close once RUL recovers above 90d")
	}
}

func TestDuplicateOpenAlert_Panics(t *testing.T) {
	store := newFakeStore()
	e := newTestEvaluator(store)
	ctx := context.Background()
	now := time.Now().UTC()
	sample := types.Sample{BatteryID: "BAT-1", Timestamp: now, TemperatureC: 50}

	st := newBatteryState()
	e.openAlert(ctx, "BAT-1", st, types.AlertTemperatureHigh, types.SeverityWarning, sample, 45, "hot")

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate open alert for the same battery and kind")
		}
	}()
	e.openAlert(ctx, "BAT-1", st, types.AlertTemperatureHigh, types.SeverityWarning, sample, 45, "hot")
}
