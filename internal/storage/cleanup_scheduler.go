package storage

import (
	"context"
	"time"
)

// CleanupScheduler applies the retention window periodically. It runs
// Store.Cleanup once on Run, then every Interval until ctx is cancelled.
type CleanupScheduler struct {
	// Store is the store to clean.
	Store *Store
	// MaxAgeDays is the retention window. Non-positive means
	// DefaultRetentionDays.
	MaxAgeDays int
	// Interval is the time between runs. If <= 0, only the initial run
	// happens and Run returns immediately after it.
	Interval time.Duration

	// NewTicker creates a ticker channel and its stop function.
	// If nil, time.NewTicker is used.
	NewTicker func(d time.Duration) (tick <-chan time.Time, stop func())
}

// Run blocks until ctx is done. Cleanup errors are logged by the store and
// otherwise ignored; the next tick tries again.
func (s *CleanupScheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	if s.Interval <= 0 {
		return
	}

	newTicker := s.NewTicker
	if newTicker == nil {
		newTicker = defaultNewTicker
	}

	ch, stop := newTicker(s.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			s.runOnce(ctx)
		}
	}
}

func (s *CleanupScheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = s.Store.Cleanup(ctx, s.MaxAgeDays)
}

func defaultNewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
