// Package retention runs the background maintenance sweep that removes
// telemetry rows older than the configured retention window, outside the
// hot ingest/query path.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/rs/zerolog"
)

// Sweeper periodically deletes telemetry samples older than RetentionDays.
type Sweeper struct {
	store         storage.Store
	retentionDays int
	interval      time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	logger zerolog.Logger
}

// NewSweeper builds a Sweeper that deletes samples older than retentionDays,
// checking every interval.
func NewSweeper(store storage.Store, retentionDays int, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
		stopCh:        make(chan struct{}),
		logger:        log.WithComponent("retention"),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				s.logger.Error().Err(err).Msg("retention sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RetentionSweepDuration)

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		metrics.RetentionRowsDeletedTotal.Add(float64(deleted))
		s.logger.Info().Int64("rows_deleted", deleted).Time("cutoff", cutoff).Msg("retention sweep complete")
	}
	return nil
}
