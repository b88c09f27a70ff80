// Package launch implements the migration launcher: precondition checks
// and the single submission of a migration request to the remote service.
package launch

import (
	"context"
	"fmt"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"
)

// BlobChecker verifies that a named blob exists in the backup container.
type BlobChecker interface {
	BlobExists(ctx context.Context, containerURL, blobName string) (bool, error)
}

// Submitter submits one migration request to the remote service. The source
// credential is consumed during the call and not retained.
type Submitter interface {
	SubmitMigration(ctx context.Context, d migration.Descriptor, password *secrets.Value) (migration.Handle, error)
}

// InstanceChecker reports whether the target database already exists on the
// managed instance. Optional guard; migrations must restore into a fresh
// database, and a duplicate submission is not idempotent.
type InstanceChecker interface {
	TargetDatabaseExists(ctx context.Context, t migration.Target) (bool, error)
}

// Launcher validates preconditions and submits migration requests.
// Submission is not idempotent: callers must check for an existing handle
// before calling Start twice for the same target.
type Launcher struct {
	blobs   BlobChecker
	service Submitter

	// instances is optional; nil skips the target-database guard.
	instances InstanceChecker
}

// NewLauncher creates a launcher over the given collaborators.
func NewLauncher(blobs BlobChecker, service Submitter) *Launcher {
	return &Launcher{blobs: blobs, service: service}
}

// WithInstanceChecker enables the pre-submission target database guard.
func (l *Launcher) WithInstanceChecker(instances InstanceChecker) *Launcher {
	l.instances = instances
	return l
}

// Start validates the descriptor and submits it. All precondition failures
// occur before any remote submission: a wasted submission is worse than a
// failed validation, since the remote service owns the resource afterwards.
func (l *Launcher) Start(ctx context.Context, d migration.Descriptor, password *secrets.Value) (migration.Handle, error) {
	d.Normalize()

	if d.Mode == migration.ModeOffline {
		if d.LastBackupName == "" {
			return migration.Handle{}, migration.ErrMissingSeedArtifact
		}
		exists, err := l.blobs.BlobExists(ctx, d.Storage.ContainerURL(), d.LastBackupName)
		if err != nil {
			return migration.Handle{}, fmt.Errorf("verifying seed artifact %s: %w", d.LastBackupName, err)
		}
		if !exists {
			return migration.Handle{}, fmt.Errorf("%w: %s", migration.ErrArtifactNotFound, d.LastBackupName)
		}
	}

	if l.instances != nil {
		exists, err := l.instances.TargetDatabaseExists(ctx, d.Target)
		if err != nil {
			return migration.Handle{}, fmt.Errorf("checking target database %s: %w", d.Target.Database, err)
		}
		if exists {
			return migration.Handle{}, fmt.Errorf("%w: %s", migration.ErrTargetDatabaseExists, d.Target.Database)
		}
	}

	handle, err := l.service.SubmitMigration(ctx, d, password)
	if err != nil {
		return migration.Handle{}, fmt.Errorf("submitting migration for %s: %w", d.Target.Database, err)
	}
	return handle, nil
}
