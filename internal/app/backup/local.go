package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sqlferry/sqlferry/internal/domain/backup"
)

// Local scheduler retry policy, configured at creation time.
const (
	localRetryAttempts = 3
	localRetryBackoff  = 30 * time.Second
)

// LocalScheduler runs the recurring log backup cadence from this process
// for sources without SQL Agent (e.g. Express editions). Unlike the agent
// job it only lives as long as the process does.
type LocalScheduler struct {
	coord        *Coordinator
	database     string
	containerURL string
	interval     time.Duration

	// OnResult receives the outcome of each run; the artifact is zero on
	// failure. Optional.
	OnResult func(art backup.Artifact, err error)

	cron *cron.Cron
}

// NewLocalScheduler creates a client-side recurring log backup runner.
func NewLocalScheduler(coord *Coordinator, database, containerURL string, interval time.Duration) *LocalScheduler {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &LocalScheduler{
		coord:        coord,
		database:     database,
		containerURL: containerURL,
		interval:     interval,
	}
}

// Start registers the cadence and begins running backups in the background.
func (s *LocalScheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("registering log backup cadence %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the cadence and waits for an in-flight run to finish.
func (s *LocalScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// runOnce takes a single log backup with bounded retries and fixed backoff.
func (s *LocalScheduler) runOnce(ctx context.Context) {
	var art backup.Artifact
	var err error

	for attempt := 1; attempt <= localRetryAttempts; attempt++ {
		art, err = s.coord.TakeLogBackup(ctx, s.database, s.containerURL)
		if err == nil || attempt == localRetryAttempts {
			break
		}
		timer := time.NewTimer(localRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if s.OnResult != nil {
				s.OnResult(backup.Artifact{}, ctx.Err())
			}
			return
		case <-timer.C:
		}
	}

	if s.OnResult != nil {
		s.OnResult(art, err)
	}
}
