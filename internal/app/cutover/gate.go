// Package cutover implements the cutover gate for online migrations: the
// human-gated finalization that stops log application and switches the
// target to primary.
package cutover

import (
	"context"
	"fmt"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// Finalizer issues the cutover call to the remote migration service.
type Finalizer interface {
	RequestCutover(ctx context.Context, h migration.Handle) error
}

// CutoverError indicates the remote cutover call failed. Surfaced to the
// caller; never retried automatically.
type CutoverError struct {
	Handle migration.Handle
	Err    error
}

func (e *CutoverError) Error() string {
	return fmt.Sprintf("cutover of %s failed: %v", e.Handle, e.Err)
}

func (e *CutoverError) Unwrap() error { return e.Err }

// Gate guards the cutover call behind explicit confirmation.
type Gate struct {
	service Finalizer
}

// NewGate creates a gate over the given finalizer.
func NewGate(service Finalizer) *Gate {
	return &Gate{service: service}
}

// Request issues exactly one cutover call when confirmed. When not
// confirmed it returns without touching the remote service, leaving the
// migration shipping logs until the operator cuts over by another path.
func (g *Gate) Request(ctx context.Context, h migration.Handle, confirmed bool) error {
	if !confirmed {
		return nil
	}
	if err := g.service.RequestCutover(ctx, h); err != nil {
		return &CutoverError{Handle: h, Err: err}
	}
	return nil
}
