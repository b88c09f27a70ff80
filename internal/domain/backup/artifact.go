// Package backup defines domain types for backup artifacts produced
// against the source database and shipped to the storage container.
package backup

import (
	"fmt"
	"strings"
	"time"
)

// Kind represents the type of a backup artifact.
type Kind string

const (
	// KindFull is a full, copy-only database backup used to seed a migration.
	KindFull Kind = "FULL"

	// KindLog is a transaction log backup used for log shipping.
	KindLog Kind = "LOG"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is a recognized type.
func (k Kind) IsValid() bool {
	switch k {
	case KindFull, KindLog:
		return true
	default:
		return false
	}
}

// Ext returns the file extension used for artifacts of this kind.
func (k Kind) Ext() string {
	if k == KindLog {
		return ".trn"
	}
	return ".bak"
}

// timestampLayout keeps lexical and chronological ordering identical.
const timestampLayout = "20060102_150405"

// Artifact describes a single backup written to the storage container.
type Artifact struct {
	// Kind is the artifact type (full or log).
	Kind Kind `json:"kind"`

	// DatabaseName is the source database the artifact was taken from.
	DatabaseName string `json:"database_name"`

	// CreatedAt is when the backup was issued, truncated to seconds.
	CreatedAt time.Time `json:"created_at"`

	// BlobName is the deterministic blob name of the artifact.
	BlobName string `json:"blob_name"`
}

// NewArtifact builds the artifact descriptor for a backup issued at the
// given instant. Uniqueness is guaranteed only across different seconds.
func NewArtifact(databaseName string, kind Kind, now time.Time) Artifact {
	now = now.UTC().Truncate(time.Second)
	return Artifact{
		Kind:         kind,
		DatabaseName: databaseName,
		CreatedAt:    now,
		BlobName:     ArtifactName(databaseName, kind, now),
	}
}

// ArtifactName derives the blob name for a backup of the given database,
// kind and instant: {db}_{KIND}_{yyyyMMdd_HHmmss}{.bak|.trn}. The result is
// safe both as a blob identifier and embedded inside a T-SQL string literal.
func ArtifactName(databaseName string, kind Kind, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s",
		sanitizeName(databaseName),
		kind,
		now.UTC().Format(timestampLayout),
		kind.Ext(),
	)
}

// ParseArtifactName parses a blob name produced by ArtifactName back into
// an artifact descriptor. Used for diagnostics and container listings.
func ParseArtifactName(blobName string) (Artifact, error) {
	var kind Kind
	var base string
	switch {
	case strings.HasSuffix(blobName, KindFull.Ext()):
		kind = KindFull
		base = strings.TrimSuffix(blobName, KindFull.Ext())
	case strings.HasSuffix(blobName, KindLog.Ext()):
		kind = KindLog
		base = strings.TrimSuffix(blobName, KindLog.Ext())
	default:
		return Artifact{}, fmt.Errorf("unrecognized artifact extension: %s", blobName)
	}

	// The database name may itself contain underscores, so split from the
	// right: {db}_{KIND}_{yyyyMMdd}_{HHmmss}.
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return Artifact{}, fmt.Errorf("malformed artifact name: %s", blobName)
	}

	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	createdAt, err := time.ParseInLocation(timestampLayout, stamp, time.UTC)
	if err != nil {
		return Artifact{}, fmt.Errorf("malformed artifact timestamp in %s: %w", blobName, err)
	}

	gotKind := Kind(parts[len(parts)-3])
	if gotKind != kind {
		return Artifact{}, fmt.Errorf("artifact kind %q does not match extension of %s", gotKind, blobName)
	}

	return Artifact{
		Kind:         kind,
		DatabaseName: strings.Join(parts[:len(parts)-3], "_"),
		CreatedAt:    createdAt,
		BlobName:     blobName,
	}, nil
}

// sanitizeName replaces characters that are unsafe in blob names or inside
// T-SQL string literals. Quote characters in particular must never survive.
func sanitizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
