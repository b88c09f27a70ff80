package azure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"
	"github.com/sqlferry/sqlferry/pkg/version"
)

const migrationAPIVersion = "2023-07-15-preview"

// MigrationClient drives the database migration resource under the target
// managed instance: one submission, repeated polls, one optional cutover.
// The resource provider has no generated client in the SDK we carry, so the
// client is built directly on the ARM runtime pipeline.
type MigrationClient struct {
	endpoint string
	pl       runtime.Pipeline
}

// NewMigrationClient creates the migration service client.
func NewMigrationClient(cred azcore.TokenCredential, opts *arm.ClientOptions) (*MigrationClient, error) {
	client, err := arm.NewClient("sqlferry.MigrationClient", version.Version, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration client: %w", err)
	}
	return &MigrationClient{
		endpoint: client.Endpoint(),
		pl:       client.Pipeline(),
	}, nil
}

// Wire shapes for the databaseMigrations resource.

type databaseMigration struct {
	Properties *databaseMigrationProperties `json:"properties,omitempty"`
}

type databaseMigrationProperties struct {
	Kind                 string                `json:"kind,omitempty"`
	Scope                string                `json:"scope,omitempty"`
	MigrationService     string                `json:"migrationService,omitempty"`
	MigrationOperationID string                `json:"migrationOperationId,omitempty"`
	SourceDatabaseName   string                `json:"sourceDatabaseName,omitempty"`
	SourceSQLConnection  *sourceSQLConnection  `json:"sourceSqlConnection,omitempty"`
	BackupConfiguration  *backupConfiguration  `json:"backupConfiguration,omitempty"`
	OfflineConfiguration *offlineConfiguration `json:"offlineConfiguration,omitempty"`
	ProvisioningState    string                `json:"provisioningState,omitempty"`
	MigrationStatus      string                `json:"migrationStatus,omitempty"`
}

type sourceSQLConnection struct {
	DataSource             string `json:"dataSource,omitempty"`
	Authentication         string `json:"authentication,omitempty"`
	UserName               string `json:"userName,omitempty"`
	Password               string `json:"password,omitempty"`
	EncryptConnection      bool   `json:"encryptConnection"`
	TrustServerCertificate bool   `json:"trustServerCertificate"`
}

type backupConfiguration struct {
	SourceLocation *sourceLocation `json:"sourceLocation,omitempty"`
}

type sourceLocation struct {
	AzureBlob *azureBlob `json:"azureBlob,omitempty"`
}

type azureBlob struct {
	StorageAccountResourceID string `json:"storageAccountResourceId,omitempty"`
	BlobContainerName        string `json:"blobContainerName,omitempty"`
	AuthType                 string `json:"authType,omitempty"`
}

type offlineConfiguration struct {
	Offline        bool   `json:"offline"`
	LastBackupName string `json:"lastBackupName,omitempty"`
}

type cutoverRequest struct {
	MigrationOperationID string `json:"migrationOperationId"`
}

// migrationPath builds the resource path of the migration under the target
// managed instance database.
func migrationPath(t migration.Target) string {
	return fmt.Sprintf(
		"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Sql/managedInstances/%s/providers/Microsoft.DataMigration/databaseMigrations/%s",
		t.SubscriptionID, t.ResourceGroup, t.Instance, t.Database)
}

// serviceID builds the resource ID of the migration service orchestrating
// the restore.
func serviceID(t migration.Target, serviceName string) string {
	return fmt.Sprintf(
		"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.DataMigration/sqlMigrationServices/%s",
		t.SubscriptionID, t.ResourceGroup, serviceName)
}

func (c *MigrationClient) newRequest(ctx context.Context, method, path string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, runtime.JoinPaths(c.endpoint, path))
	if err != nil {
		return nil, err
	}
	reqQP := req.Raw().URL.Query()
	reqQP.Set("api-version", migrationAPIVersion)
	req.Raw().URL.RawQuery = reqQP.Encode()
	return req, nil
}

// SubmitMigration submits one migration request. The source credential is
// embedded into the request body inside its scoped use and not retained.
// Submission is not idempotent; the caller owns the duplicate-check.
func (c *MigrationClient) SubmitMigration(ctx context.Context, d migration.Descriptor, password *secrets.Value) (migration.Handle, error) {
	req, err := c.newRequest(ctx, http.MethodPut, migrationPath(d.Target))
	if err != nil {
		return migration.Handle{}, err
	}

	props := &databaseMigrationProperties{
		Kind:               "SqlMi",
		Scope:              d.Target.InstanceID(),
		MigrationService:   serviceID(d.Target, d.ServiceName),
		SourceDatabaseName: d.Source.Database,
		SourceSQLConnection: &sourceSQLConnection{
			DataSource:             d.Source.Host,
			Authentication:         "SqlAuthentication",
			UserName:               d.Source.User,
			EncryptConnection:      true,
			TrustServerCertificate: true,
		},
		BackupConfiguration: &backupConfiguration{
			SourceLocation: &sourceLocation{
				AzureBlob: &azureBlob{
					StorageAccountResourceID: fmt.Sprintf(
						"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s",
						d.Target.SubscriptionID, d.Target.ResourceGroup, d.Storage.Account),
					BlobContainerName: d.Storage.Container,
					AuthType:          "ManagedIdentity",
				},
			},
		},
	}
	if d.Mode == migration.ModeOffline {
		props.OfflineConfiguration = &offlineConfiguration{
			Offline:        true,
			LastBackupName: d.LastBackupName,
		}
	}

	err = password.Use(func(secret string) error {
		props.SourceSQLConnection.Password = secret
		marshalErr := runtime.MarshalAsJSON(req, databaseMigration{Properties: props})
		props.SourceSQLConnection.Password = ""
		return marshalErr
	})
	if err != nil {
		return migration.Handle{}, fmt.Errorf("encoding migration request: %w", err)
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return migration.Handle{}, err
	}
	defer resp.Body.Close()
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated) {
		return migration.Handle{}, runtime.NewResponseError(resp)
	}

	var out databaseMigration
	if err := runtime.UnmarshalAsJSON(resp, &out); err != nil {
		return migration.Handle{}, fmt.Errorf("decoding migration response: %w", err)
	}

	handle := migration.Handle{
		Target:        d.Target,
		MigrationName: d.Target.Database,
	}
	if out.Properties != nil {
		handle.OperationID = out.Properties.MigrationOperationID
	}
	return handle, nil
}

// PollMigration returns the current observation, or nil when the resource
// is not visible yet: visibility can lag submission, and the monitor treats
// that as a warning rather than an error.
func (c *MigrationClient) PollMigration(ctx context.Context, h migration.Handle) (*migration.Observation, error) {
	out, err := c.get(ctx, h)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Properties == nil {
		return nil, nil
	}

	return &migration.Observation{
		ProvisioningState: migration.ProvisioningState(out.Properties.ProvisioningState),
		Status:            migration.Status(out.Properties.MigrationStatus),
		ObservedAt:        time.Now(),
	}, nil
}

// RequestCutover finalizes an online migration. The current operation
// identifier is fetched when the handle does not carry one.
func (c *MigrationClient) RequestCutover(ctx context.Context, h migration.Handle) error {
	operationID := h.OperationID
	if operationID == "" {
		out, err := c.get(ctx, h)
		if err != nil {
			return err
		}
		if out == nil || out.Properties == nil || out.Properties.MigrationOperationID == "" {
			return fmt.Errorf("migration %s has no operation ID to cut over", h)
		}
		operationID = out.Properties.MigrationOperationID
	}

	req, err := c.newRequest(ctx, http.MethodPost, migrationPath(h.Target)+"/cutover")
	if err != nil {
		return err
	}
	if err := runtime.MarshalAsJSON(req, cutoverRequest{MigrationOperationID: operationID}); err != nil {
		return fmt.Errorf("encoding cutover request: %w", err)
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusAccepted) {
		return runtime.NewResponseError(resp)
	}
	return nil
}

// get fetches the migration resource; a 404 maps to nil.
func (c *MigrationClient) get(ctx context.Context, h migration.Handle) (*databaseMigration, error) {
	req, err := c.newRequest(ctx, http.MethodGet, migrationPath(h.Target))
	if err != nil {
		return nil, err
	}
	reqQP := req.Raw().URL.Query()
	reqQP.Set("$expand", "MigrationStatusDetails")
	req.Raw().URL.RawQuery = reqQP.Encode()

	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}

	var out databaseMigration
	if err := runtime.UnmarshalAsJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("decoding migration resource: %w", err)
	}
	return &out, nil
}
