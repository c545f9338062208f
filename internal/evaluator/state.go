package evaluator

import (
	"time"

	"github.com/ampguard/telemetry-core/pkg/types"
)

// batteryState holds the rolling window and per-rule transition counters for
// a single battery. It is owned exclusively by the shard goroutine that
// processes that battery's jobs, so it needs no locking.
type batteryState struct {
	window []types.Sample

	openAlerts map[types.AlertKind]*types.Alert

	voltageHighRun         int
	voltageHighRecoverRun  int
	voltageLowRun          int
	voltageLowRecoverRun   int

	baselineResistance    float64
	baselineSet           bool
	resistanceExceedSince *time.Time
	resistanceRecoverRun  int

	sohRecoverSince *time.Time
}

func newBatteryState() *batteryState {
	return &batteryState{
		openAlerts: make(map[types.AlertKind]*types.Alert),
	}
}

// push appends a sample to the rolling window, trimming by count and age.
func (s *batteryState) push(sample types.Sample) {
	s.window = append(s.window, sample)

	if len(s.window) > windowMaxSamples {
		s.window = s.window[len(s.window)-windowMaxSamples:]
	}
	cutoff := sample.Timestamp.Add(-windowMaxAge)
	trim := 0
	for trim < len(s.window) && s.window[trim].Timestamp.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		s.window = s.window[trim:]
	}
}
