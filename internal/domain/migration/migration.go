// Package migration defines domain types for the migration lifecycle:
// modes, descriptors, handles, and the remote observation state machine.
package migration

import (
	"fmt"
	"time"
)

// Mode represents the migration mode, fixed for the lifetime of one run.
type Mode string

const (
	// ModeOffline performs a full-cutover migration seeded from a single
	// full backup; the target comes online once the restore completes.
	ModeOffline Mode = "offline"

	// ModeOnline performs a continuous log-shipping migration that stays
	// open until an explicit cutover finalizes it.
	ModeOnline Mode = "online"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks if the mode is a recognized mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeOffline, ModeOnline:
		return true
	default:
		return false
	}
}

// ParseMode parses a mode string, defaulting to online when empty.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeOnline, nil
	}
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unsupported migration mode: %q (supported: online, offline)", s)
	}
	return m, nil
}

// ProvisioningState is the control-plane lifecycle signal reported by the
// remote migration service. It drives the offline termination predicate.
type ProvisioningState string

const (
	ProvisioningStateInProgress ProvisioningState = "InProgress"
	ProvisioningStateAccepted   ProvisioningState = "Accepted"
	ProvisioningStateSucceeded  ProvisioningState = "Succeeded"
	ProvisioningStateFailed     ProvisioningState = "Failed"
	ProvisioningStateCanceled   ProvisioningState = "Canceled"
)

// Ongoing returns true while the offline migration has not reached a
// terminal provisioning state.
func (s ProvisioningState) Ongoing() bool {
	switch s {
	case ProvisioningStateInProgress, ProvisioningStateAccepted:
		return true
	default:
		return false
	}
}

// Status is the data-plane migration status reported by the remote service.
// It drives the online termination predicate.
type Status string

const (
	StatusInProgress                  Status = "InProgress"
	StatusFullBackupUploadCompleted   Status = "FullBackupUploadCompleted"
	StatusFullBackupRestoreInProgress Status = "FullBackupRestoreInProgress"
	StatusLogShippingInProgress       Status = "LogShippingInProgress"
	StatusSucceeded                   Status = "Succeeded"
	StatusFailed                      Status = "Failed"
	StatusCanceled                    Status = "Canceled"
)

// Ongoing returns true while the online migration is still progressing or
// shipping logs; any other status terminates the online polling loop.
func (s Status) Ongoing() bool {
	switch s {
	case StatusInProgress, StatusFullBackupUploadCompleted,
		StatusFullBackupRestoreInProgress, StatusLogShippingInProgress:
		return true
	default:
		return false
	}
}

// Observation is one polled view of the remote migration's progress. It is
// created by each poll and discarded after the predicate check.
type Observation struct {
	// ProvisioningState is the control-plane lifecycle signal.
	ProvisioningState ProvisioningState `json:"provisioning_state"`

	// Status is the data-plane migration status.
	Status Status `json:"migration_status"`

	// ObservedAt is when the poll returned.
	ObservedAt time.Time `json:"observed_at"`
}

// Ongoing applies the mode-specific non-terminal predicate.
func (o Observation) Ongoing(mode Mode) bool {
	if mode == ModeOffline {
		return o.ProvisioningState.Ongoing()
	}
	return o.Status.Ongoing()
}

// Source describes the source database server. The secret credential is
// never part of this descriptor; it travels separately as a scoped handle.
type Source struct {
	// Host is the source server address, e.g. "sql01.example.net".
	Host string `json:"host"`

	// User is the SQL login used for backups and submission.
	User string `json:"user"`

	// Database is the database being migrated.
	Database string `json:"database"`
}

// Target identifies the managed instance database the migration restores into.
type Target struct {
	// SubscriptionID is the Azure subscription ID.
	SubscriptionID string `json:"subscription_id"`

	// ResourceGroup holds the managed instance.
	ResourceGroup string `json:"resource_group"`

	// Instance is the managed instance name.
	Instance string `json:"instance"`

	// Database is the target database name.
	Database string `json:"database"`
}

// InstanceID returns the ARM resource ID of the target managed instance.
func (t Target) InstanceID() string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Sql/managedInstances/%s",
		t.SubscriptionID, t.ResourceGroup, t.Instance)
}

// Storage identifies the blob container holding the backup artifacts.
type Storage struct {
	// Account is the storage account name.
	Account string `json:"account"`

	// Container is the backup container name.
	Container string `json:"container"`
}

// ContainerURL returns the HTTPS URL of the backup container.
func (s Storage) ContainerURL() string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s", s.Account, s.Container)
}

// StorageToken is a time-limited access token for the backup container.
type StorageToken struct {
	// Value is the bare token, stripped of any leading query delimiter.
	Value string `json:"-"`

	// Expiry is when the token stops being valid.
	Expiry time.Time `json:"expiry"`

	// ContainerURL is the container the token grants access to.
	ContainerURL string `json:"container_url"`
}

// Descriptor is the immutable migration request constructed once by the
// launcher and submitted to the remote service. It never carries the source
// secret credential.
type Descriptor struct {
	Mode    Mode    `json:"mode"`
	Source  Source  `json:"source"`
	Target  Target  `json:"target"`
	Storage Storage `json:"storage"`

	// ServiceName is the migration service resource name,
	// defaulting to "sqlmig-svc-" + the instance name.
	ServiceName string `json:"service_name"`

	// LastBackupName is the seed artifact for offline runs; unused online.
	LastBackupName string `json:"last_backup_name,omitempty"`
}

// DefaultServiceName derives the migration service name for an instance.
func DefaultServiceName(instance string) string {
	return "sqlmig-svc-" + instance
}

// Normalize fills derived defaults on the descriptor.
func (d *Descriptor) Normalize() {
	if d.Mode == "" {
		d.Mode = ModeOnline
	}
	if d.ServiceName == "" {
		d.ServiceName = DefaultServiceName(d.Target.Instance)
	}
	if d.Target.Database == "" {
		d.Target.Database = d.Source.Database
	}
}

// Handle identifies a submitted migration for later polling and cutover.
type Handle struct {
	// Target locates the managed instance database under migration.
	Target Target `json:"target"`

	// MigrationName is the remote migration resource name.
	MigrationName string `json:"migration_name"`

	// OperationID is the service-assigned operation identifier, when
	// reported; required by the cutover call.
	OperationID string `json:"operation_id,omitempty"`
}

// String renders the handle for operator display.
func (h Handle) String() string {
	return fmt.Sprintf("%s/%s/%s", h.Target.ResourceGroup, h.Target.Instance, h.Target.Database)
}
