// Package sqlserver connects to the source SQL Server instance and runs
// the T-SQL the migration needs: credential provisioning, backups, and
// agent job management.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"
)

const connectTimeout = 15 * time.Second

// Executor runs statements against one source server connection.
type Executor struct {
	db *sql.DB
}

// Open connects to the source server described by src. The password is
// consumed inside its scoped use; the DSN is handed to the driver and not
// retained here.
func Open(src migration.Source, password *secrets.Value) (*Executor, error) {
	var db *sql.DB
	err := password.Use(func(secret string) error {
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(src.User, secret),
			Host:   src.Host,
		}
		q := url.Values{}
		q.Set("database", src.Database)
		q.Set("encrypt", "true")
		q.Set("trustservercertificate", "true")
		q.Set("dial timeout", "15")
		u.RawQuery = q.Encode()

		var openErr error
		db, openErr = sql.Open("sqlserver", u.String())
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open source connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Executor{db: db}, nil
}

// Ping verifies the connection before any backup work starts.
func (e *Executor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("source server unreachable: %w", err)
	}
	return nil
}

// Exec runs one statement. A zero timeout means the statement runs until
// it finishes or the context is canceled; backups of large databases can
// legitimately run for hours.
func (e *Executor) Exec(ctx context.Context, statement string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := e.db.ExecContext(ctx, statement)
	return err
}

// Close releases the connection pool.
func (e *Executor) Close() error {
	return e.db.Close()
}
