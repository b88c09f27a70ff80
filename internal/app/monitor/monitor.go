// Package monitor implements the migration monitor: a cancellable polling
// loop over the remote migration's observed state with mode-specific
// termination predicates.
package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// Poller retrieves the current observation for a migration. A nil
// observation with a nil error means the resource is not visible yet.
type Poller interface {
	PollMigration(ctx context.Context, h migration.Handle) (*migration.Observation, error)
}

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 20 * time.Second

// Options configures one Wait call.
type Options struct {
	// Interval is the poll cadence. Defaults to DefaultInterval.
	Interval time.Duration

	// MaxDuration bounds the whole wait when positive. Zero means the loop
	// runs until terminal state or caller cancellation.
	MaxDuration time.Duration

	// StopAtStatus, when set, also terminates the loop at the first
	// observation reporting this status even if it is still in the ongoing
	// set. Used by the orchestrator to pause the loop at the point where an
	// online migration becomes ready for cutover.
	StopAtStatus migration.Status

	// OnObservation is called for each non-absent poll result.
	OnObservation func(o migration.Observation)

	// OnAbsent is called when a poll finds the resource not visible yet.
	OnAbsent func()
}

// Monitor polls the remote service at a fixed cadence. Cancellation is
// checked between polls; a poll already in flight runs to completion.
type Monitor struct {
	service Poller
}

// NewMonitor creates a monitor over the given poller.
func NewMonitor(service Poller) *Monitor {
	return &Monitor{service: service}
}

// Wait polls until the mode-specific predicate reports a terminal
// observation (or StopAtStatus is seen) and returns that observation.
// Absent observations are tolerated indefinitely: remote resource
// visibility can lag submission, so a missing resource is a warning, not a
// termination condition.
func (m *Monitor) Wait(ctx context.Context, h migration.Handle, mode migration.Mode, opts Options) (*migration.Observation, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}

	// The limiter's initial token makes the first poll immediate; every
	// subsequent Wait blocks for one interval and honors cancellation.
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			// The limiter reports overruns with its own error, sometimes
			// before the deadline has actually passed; the context error is
			// the one callers check against.
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else if _, hasDeadline := ctx.Deadline(); hasDeadline {
				err = context.DeadlineExceeded
			}
			return nil, fmt.Errorf("migration poll loop stopped: %w", err)
		}

		obs, err := m.service.PollMigration(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("polling migration %s: %w", h, err)
		}

		if obs == nil {
			if opts.OnAbsent != nil {
				opts.OnAbsent()
			}
			continue
		}

		if opts.OnObservation != nil {
			opts.OnObservation(*obs)
		}

		if opts.StopAtStatus != "" && obs.Status == opts.StopAtStatus {
			return obs, nil
		}
		if !obs.Ongoing(mode) {
			return obs, nil
		}
	}
}
