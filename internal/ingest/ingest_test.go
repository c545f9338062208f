package ingest

import (
	"testing"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/types"
)

func sampleAt(t time.Time, voltage, temp, soh float64) types.Sample {
	return types.Sample{
		BatteryID:    "BAT-1",
		Timestamp:    t,
		VoltageV:     voltage,
		TemperatureC: temp,
		SoHPct:       soh,
		SoCPct:       50,
	}
}

func TestValidate_BoundaryValuesAccepted(t *testing.T) {
	cases := []types.Sample{
		{BatteryID: "B", VoltageV: 0, TemperatureC: -20, SoCPct: 0, SoHPct: 0, ResistanceMOhm: 0},
		{BatteryID: "B", VoltageV: 20, TemperatureC: 80, SoCPct: 100, SoHPct: 100, ResistanceMOhm: 5},
	}
	for _, s := range cases {
		if err := validate(s); err != nil {
			t.Errorf("expected boundary sample to be accepted, got %v", err)
		}
	}
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	cases := []types.Sample{
		{BatteryID: "B", VoltageV: -0.1},
		{BatteryID: "B", VoltageV: 20.1},
		{BatteryID: "B", TemperatureC: -20.1},
		{BatteryID: "B", TemperatureC: 80.1},
		{BatteryID: "B", ResistanceMOhm: -1},
		{BatteryID: "B", SoCPct: 100.1},
		{BatteryID: "B", SoHPct: -0.1},
	}
	for _, s := range cases {
		err := validate(s)
		if !apperr.Is(err, apperr.Validation) {
			t.Errorf("expected Validation error for %+v, got %v", s, err)
		}
	}
}

func TestDedup_LastOccurrenceWins(t *testing.T) {
	ts := time.Now()
	batch := []types.Sample{
		{BatteryID: "BAT-1", Timestamp: ts, VoltageV: 13.0},
		{BatteryID: "BAT-1", Timestamp: ts, VoltageV: 13.5}, // same (battery,ts), should win
		{BatteryID: "BAT-2", Timestamp: ts, VoltageV: 12.0},
	}

	out := dedup(batch)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduped samples, got %d", len(out))
	}

	var bat1 types.Sample
	for _, s := range out {
		if s.BatteryID == "BAT-1" {
			bat1 = s
		}
	}
	if bat1.VoltageV != 13.5 {
		t.Errorf("expected last occurrence to win, got voltage %v", bat1.VoltageV)
	}
}

func TestClassifyStatus(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name         string
		sample       types.Sample
		openCritical bool
		openWarning  bool
		want         types.DerivedStatus
	}{
		{"healthy", sampleAt(now, 13.2, 30, 90), false, false, types.DerivedHealthy},
		{"warning soh", sampleAt(now, 13.2, 30, 82), false, false, types.DerivedWarning},
		{"warning temp", sampleAt(now, 13.2, 42, 90), false, false, types.DerivedWarning},
		{"critical soh", sampleAt(now, 13.2, 30, 70), false, false, types.DerivedCritical},
		{"critical temp", sampleAt(now, 13.2, 46, 90), false, false, types.DerivedCritical},
		{"critical from open alert", sampleAt(now, 13.2, 30, 90), true, false, types.DerivedCritical},
		{"warning from open alert", sampleAt(now, 13.2, 30, 90), false, true, types.DerivedWarning},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyStatus(c.sample, c.openCritical, c.openWarning)
			if got != c.want {
				t.Errorf("ClassifyStatus() = %v, want %v", got, c.want)
			}
		})
	}
}
