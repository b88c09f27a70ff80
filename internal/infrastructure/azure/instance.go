package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// InstanceResolver answers questions about the target managed instance
// before a migration is submitted.
type InstanceResolver struct {
	instances *armsql.ManagedInstancesClient
	databases *armsql.ManagedDatabasesClient
}

// NewInstanceResolver creates a resolver for the given subscription.
func NewInstanceResolver(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*InstanceResolver, error) {
	clientFactory, err := armsql.NewClientFactory(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL client: %w", err)
	}
	return &InstanceResolver{
		instances: clientFactory.NewManagedInstancesClient(),
		databases: clientFactory.NewManagedDatabasesClient(),
	}, nil
}

// ResolveInstance verifies the managed instance exists and is reachable
// with the current credential.
func (r *InstanceResolver) ResolveInstance(ctx context.Context, t migration.Target) error {
	_, err := r.instances.Get(ctx, t.ResourceGroup, t.Instance, nil)
	if err != nil {
		return fmt.Errorf("resolving managed instance %s: %w", t.Instance, err)
	}
	return nil
}

// TargetDatabaseExists reports whether a database with the target name is
// already present on the managed instance. A restore cannot land on an
// existing database, so the launcher refuses to submit in that case.
func (r *InstanceResolver) TargetDatabaseExists(ctx context.Context, t migration.Target) (bool, error) {
	_, err := r.databases.Get(ctx, t.ResourceGroup, t.Instance, t.Database, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking target database %s: %w", t.Database, err)
	}
	return true, nil
}
