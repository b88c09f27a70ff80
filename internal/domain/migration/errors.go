package migration

import "errors"

var (
	// ErrMissingSeedArtifact is returned when an offline migration is
	// started without a last backup artifact name. No remote call is made.
	ErrMissingSeedArtifact = errors.New("offline migration requires a last backup artifact name")

	// ErrArtifactNotFound is returned when the named seed artifact does not
	// exist in the backup container. No submission is made.
	ErrArtifactNotFound = errors.New("seed backup artifact not found in container")

	// ErrTargetDatabaseExists is returned when the target database already
	// exists on the managed instance before submission.
	ErrTargetDatabaseExists = errors.New("target database already exists on the managed instance")

	// ErrAlreadySubmitted is returned when the run ledger already holds a
	// live migration handle for the same target database.
	ErrAlreadySubmitted = errors.New("a migration for this target is already recorded; use --force to submit anyway")
)
