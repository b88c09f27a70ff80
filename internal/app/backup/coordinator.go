// Package backup implements the backup coordinator: seed (full) and
// incremental (log) backups against the source server, storage credential
// provisioning, and the recurring log-shipping schedulers.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sqlferry/sqlferry/internal/domain/backup"
)

// StatementExecutor executes a T-SQL batch against the source server.
// A zero timeout means the statement is not time-bounded by the client.
type StatementExecutor interface {
	Exec(ctx context.Context, statement string, timeout time.Duration) error
}

// CredentialError indicates the source server could not provision the
// storage credential. Fatal to the run.
type CredentialError struct {
	ContainerURL string
	Err          error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("provisioning storage credential for %s: %v", e.ContainerURL, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// LogBackupError indicates a single log backup attempt failed. Non-fatal
// in online mode: the remote service can also receive logs out-of-band.
type LogBackupError struct {
	Database string
	Err      error
}

func (e *LogBackupError) Error() string {
	return fmt.Sprintf("log backup of %s failed: %v", e.Database, e.Err)
}

func (e *LogBackupError) Unwrap() error { return e.Err }

// Coordinator issues backups to URL against the source server. A full
// backup always seeds the container before any log-based activity.
type Coordinator struct {
	exec StatementExecutor

	// now is the clock used for artifact naming; replaceable in tests.
	now func() time.Time
}

// NewCoordinator creates a backup coordinator over the given executor.
func NewCoordinator(exec StatementExecutor) *Coordinator {
	return &Coordinator{exec: exec, now: time.Now}
}

// WithClock overrides the coordinator clock.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// credentialTimeout bounds the cheap provisioning statement.
const credentialTimeout = time.Minute

// EnsureStorageCredential installs or refreshes the server-side credential
// for the backup container. The credential is keyed by container URL, so
// re-running is an idempotent create-or-alter. The token is stripped of any
// leading query delimiter before being embedded as the secret.
func (c *Coordinator) EnsureStorageCredential(ctx context.Context, containerURL, token string) error {
	token = strings.TrimPrefix(token, "?")

	stmt := fmt.Sprintf(`IF EXISTS (SELECT 1 FROM sys.credentials WHERE name = N'%[1]s')
    ALTER CREDENTIAL [%[1]s] WITH IDENTITY = N'SHARED ACCESS SIGNATURE', SECRET = N'%[2]s';
ELSE
    CREATE CREDENTIAL [%[1]s] WITH IDENTITY = N'SHARED ACCESS SIGNATURE', SECRET = N'%[2]s';`,
		containerURL, token)

	if err := c.exec.Exec(ctx, stmt, credentialTimeout); err != nil {
		return &CredentialError{ContainerURL: containerURL, Err: err}
	}
	return nil
}

// TakeFullBackup issues a full, copy-only, checksum-verified backup of the
// database into the container. Full backups of large databases run for
// hours, so the statement is deliberately not time-bounded.
func (c *Coordinator) TakeFullBackup(ctx context.Context, database, containerURL string) (backup.Artifact, error) {
	art := backup.NewArtifact(database, backup.KindFull, c.now())

	stmt := fmt.Sprintf(`BACKUP DATABASE [%s] TO URL = N'%s/%s' WITH COPY_ONLY, CHECKSUM, FORMAT, INIT;`,
		database, containerURL, art.BlobName)

	if err := c.exec.Exec(ctx, stmt, 0); err != nil {
		return backup.Artifact{}, fmt.Errorf("full backup of %s: %w", database, err)
	}
	return art, nil
}

// TakeLogBackup issues a single transaction log backup into the container.
func (c *Coordinator) TakeLogBackup(ctx context.Context, database, containerURL string) (backup.Artifact, error) {
	art := backup.NewArtifact(database, backup.KindLog, c.now())

	stmt := fmt.Sprintf(`BACKUP LOG [%s] TO URL = N'%s/%s' WITH CHECKSUM;`,
		database, containerURL, art.BlobName)

	if err := c.exec.Exec(ctx, stmt, 0); err != nil {
		return backup.Artifact{}, &LogBackupError{Database: database, Err: err}
	}
	return art, nil
}
