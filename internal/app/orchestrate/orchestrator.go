// Package orchestrate implements the top-level migration state machine:
// credential setup, backup seeding, launch, the polling loop, and the
// optional cutover, composed in mode-dependent order.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	backupdom "github.com/sqlferry/sqlferry/internal/domain/backup"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"

	appbackup "github.com/sqlferry/sqlferry/internal/app/backup"
	"github.com/sqlferry/sqlferry/internal/app/monitor"
)

// Collaborator contracts, declared on the consumer side so the run can be
// exercised against fakes.

type tokenProvider interface {
	GetOrCreateAccessToken(ctx context.Context, expiry time.Duration) (migration.StorageToken, error)
}

type backupCoordinator interface {
	EnsureStorageCredential(ctx context.Context, containerURL, token string) error
	TakeFullBackup(ctx context.Context, database, containerURL string) (backupdom.Artifact, error)
	TakeLogBackup(ctx context.Context, database, containerURL string) (backupdom.Artifact, error)
}

type jobScheduler interface {
	EnsureAgentJob(ctx context.Context, database, containerURL string, interval time.Duration) (string, error)
}

type migrationLauncher interface {
	Start(ctx context.Context, d migration.Descriptor, password *secrets.Value) (migration.Handle, error)
}

type migrationWatcher interface {
	Wait(ctx context.Context, h migration.Handle, mode migration.Mode, opts monitor.Options) (*migration.Observation, error)
}

type cutoverGate interface {
	Request(ctx context.Context, h migration.Handle, confirmed bool) error
}

// Options configures one orchestration run.
type Options struct {
	// AutoBackup provisions the storage credential and takes the seed
	// backups before launching.
	AutoBackup bool

	// CreateLogBackupJob establishes the recurring source-side log backup
	// job instead of a single on-demand log backup (online mode only).
	CreateLogBackupJob bool

	// LogBackupInterval is the recurring job cadence.
	LogBackupInterval time.Duration

	// SASExpiry is the lifetime of the minted storage token.
	SASExpiry time.Duration

	// LastBackupName overrides the seed artifact for offline runs. When
	// empty, a seed already on the descriptor is kept; with AutoBackup on
	// and no seed anywhere, the full backup just taken is used.
	LastBackupName string

	// Cutover requests finalization of an online migration once log
	// shipping is established.
	Cutover bool

	// ConfirmCutover is consulted at the gate point. Nil means not
	// confirmed: the migration is left running.
	ConfirmCutover func() bool

	// Force skips the run-ledger duplicate submission guard.
	Force bool

	// PollInterval and MaxPollDuration configure the monitor loop.
	PollInterval    time.Duration
	MaxPollDuration time.Duration

	// OnPhase, OnWarning and OnObservation report progress to the caller.
	OnPhase       func(phase string)
	OnWarning     func(msg string)
	OnObservation func(o migration.Observation)
}

// Result summarizes a completed orchestration run.
type Result struct {
	// RunID is the ledger record ID, empty when no ledger is configured.
	RunID string

	// Handle identifies the submitted migration.
	Handle migration.Handle

	// Artifacts lists the backups taken by this run.
	Artifacts []backupdom.Artifact

	// JobName is the recurring log backup job, when one was created.
	JobName string

	// Final is the last observation before the loop stopped; nil when the
	// run exited while leaving the migration shipping logs unobserved.
	Final *migration.Observation

	// CutoverIssued reports whether the cutover call was made.
	CutoverIssued bool

	// Warnings collects the recoverable problems encountered.
	Warnings []string

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Orchestrator composes the migration components and drives them through
// the mode-dependent phase sequence. Phases run strictly sequentially; the
// poll loop is the only long-lived operation.
type Orchestrator struct {
	tokens   tokenProvider
	backups  backupCoordinator
	jobs     jobScheduler
	launcher migrationLauncher
	watcher  migrationWatcher
	gate     cutoverGate

	// store is optional; nil disables the ledger guard and recording.
	store *RunStore
}

// NewOrchestrator wires the migration components together.
func NewOrchestrator(tokens tokenProvider, backups backupCoordinator, jobs jobScheduler, launcher migrationLauncher, watcher migrationWatcher, gate cutoverGate) *Orchestrator {
	return &Orchestrator{
		tokens:   tokens,
		backups:  backups,
		jobs:     jobs,
		launcher: launcher,
		watcher:  watcher,
		gate:     gate,
	}
}

// WithRunStore attaches the run ledger.
func (o *Orchestrator) WithRunStore(store *RunStore) *Orchestrator {
	o.store = store
	return o
}

// Run executes one migration end to end. The source password is wiped on
// every exit path; it is consumed only by the backup statements executor's
// connection and the single submission call.
func (o *Orchestrator) Run(ctx context.Context, d migration.Descriptor, password *secrets.Value, opts Options) (*Result, error) {
	defer password.Wipe()

	d.Normalize()
	result := &Result{}

	startTime := time.Now()
	defer func() {
		result.Duration = time.Since(startTime)
	}()

	warn := func(msg string) {
		result.Warnings = append(result.Warnings, msg)
		if opts.OnWarning != nil {
			opts.OnWarning(msg)
		}
	}
	phase := func(name string) {
		if opts.OnPhase != nil {
			opts.OnPhase(name)
		}
	}

	if o.store != nil && !opts.Force {
		if rec := o.store.FindLive(d.Target); rec != nil {
			return result, fmt.Errorf("%w (run %s, submitted %s)",
				migration.ErrAlreadySubmitted, rec.ID, rec.CreatedAt.Format(time.RFC3339))
		}
	}

	containerURL := d.Storage.ContainerURL()

	if opts.AutoBackup {
		phase("provisioning storage credential")
		token, err := o.tokens.GetOrCreateAccessToken(ctx, opts.SASExpiry)
		if err != nil {
			return result, fmt.Errorf("minting storage access token: %w", err)
		}
		if err := o.backups.EnsureStorageCredential(ctx, containerURL, token.Value); err != nil {
			return result, err
		}

		// The remote service cannot bootstrap from log backups alone, so
		// the full backup comes first in both modes.
		phase("taking full backup")
		full, err := o.backups.TakeFullBackup(ctx, d.Source.Database, containerURL)
		if err != nil {
			return result, err
		}
		result.Artifacts = append(result.Artifacts, full)

		switch d.Mode {
		case migration.ModeOffline:
			if opts.LastBackupName == "" && d.LastBackupName == "" {
				opts.LastBackupName = full.BlobName
			}
		case migration.ModeOnline:
			if opts.CreateLogBackupJob {
				phase("creating recurring log backup job")
				jobName, err := o.jobs.EnsureAgentJob(ctx, d.Source.Database, containerURL, opts.LogBackupInterval)
				if err != nil {
					return result, err
				}
				result.JobName = jobName
			} else {
				phase("taking log backup")
				art, err := o.backups.TakeLogBackup(ctx, d.Source.Database, containerURL)
				if err != nil {
					var logErr *appbackup.LogBackupError
					if errors.As(err, &logErr) {
						warn(fmt.Sprintf("log backup failed, continuing: %v", err))
					} else {
						return result, err
					}
				} else {
					result.Artifacts = append(result.Artifacts, art)
				}
			}
		}
	}

	if d.Mode == migration.ModeOffline && opts.LastBackupName != "" {
		d.LastBackupName = opts.LastBackupName
	}

	phase("submitting migration")
	handle, err := o.launcher.Start(ctx, d, password)
	if err != nil {
		return result, err
	}
	result.Handle = handle
	o.record(result, d.Mode)

	final, err := o.observe(ctx, d.Mode, result, opts, warn, phase)
	if err != nil {
		return result, err
	}
	result.Final = final
	o.finish(result, d.Mode)

	return result, nil
}

// observe runs the poll loop, pausing at the cutover-ready point when an
// online run requested cutover.
func (o *Orchestrator) observe(ctx context.Context, mode migration.Mode, result *Result, opts Options, warn func(string), phase func(string)) (*migration.Observation, error) {
	monOpts := monitor.Options{
		Interval:      opts.PollInterval,
		MaxDuration:   opts.MaxPollDuration,
		OnObservation: opts.OnObservation,
		OnAbsent: func() {
			warn("migration not visible yet, continuing to poll")
		},
	}

	// The cutover gate only makes sense while the service still reports
	// the migration as ongoing, so the loop pauses once log shipping is
	// established instead of waiting for a terminal status.
	if mode == migration.ModeOnline && opts.Cutover {
		monOpts.StopAtStatus = migration.StatusLogShippingInProgress
	}

	phase("monitoring migration")
	obs, err := o.watcher.Wait(ctx, result.Handle, mode, monOpts)
	if err != nil {
		return nil, err
	}

	if monOpts.StopAtStatus == "" || obs == nil || !obs.Ongoing(mode) {
		return obs, nil
	}

	// Paused at the cutover-ready point.
	confirmed := opts.ConfirmCutover != nil && opts.ConfirmCutover()
	phase("cutover gate")
	if err := o.gate.Request(ctx, result.Handle, confirmed); err != nil {
		return obs, err
	}
	if !confirmed {
		warn("cutover not confirmed; migration left running")
		return obs, nil
	}
	result.CutoverIssued = true

	phase("monitoring cutover")
	monOpts.StopAtStatus = ""
	return o.watcher.Wait(ctx, result.Handle, mode, monOpts)
}

// record saves the submitted handle to the ledger.
func (o *Orchestrator) record(result *Result, mode migration.Mode) {
	if o.store == nil {
		return
	}
	names := make([]string, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		names = append(names, a.BlobName)
	}
	rec, err := o.store.Save(&RunRecord{
		Mode:      mode,
		Handle:    result.Handle,
		Artifacts: names,
		JobName:   result.JobName,
		Status:    RunStatusSubmitted,
	})
	if err == nil {
		result.RunID = rec.ID
	}
}

// finish records the final ledger status for the run.
func (o *Orchestrator) finish(result *Result, mode migration.Mode) {
	if o.store == nil || result.RunID == "" {
		return
	}

	status := RunStatusCompleted
	switch {
	case result.Final == nil:
		status = RunStatusLogShipping
	case result.Final.Ongoing(mode):
		status = RunStatusLogShipping
	case mode == migration.ModeOffline && result.Final.ProvisioningState == migration.ProvisioningStateFailed,
		mode == migration.ModeOnline && result.Final.Status == migration.StatusFailed:
		status = RunStatusFailed
	}
	_ = o.store.UpdateStatus(result.RunID, status)
}
