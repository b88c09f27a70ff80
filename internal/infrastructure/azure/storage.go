package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// SASProvider mints time-limited access tokens for the backup container via
// the storage resource provider.
type SASProvider struct {
	accounts      *armstorage.AccountsClient
	resourceGroup string
	storage       migration.Storage
}

// NewSASProvider creates a token provider for one storage account.
func NewSASProvider(subscriptionID string, cred azcore.TokenCredential, resourceGroup string, storage migration.Storage) (*SASProvider, error) {
	factory, err := armstorage.NewClientFactory(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &SASProvider{
		accounts:      factory.NewAccountsClient(),
		resourceGroup: resourceGroup,
		storage:       storage,
	}, nil
}

// GetOrCreateAccessToken mints an account SAS scoped to blob service
// container and object operations. The returned value is the bare token
// with the leading query delimiter stripped, ready to embed as a secret.
func (p *SASProvider) GetOrCreateAccessToken(ctx context.Context, expiry time.Duration) (migration.StorageToken, error) {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	start := time.Now().UTC().Add(-5 * time.Minute)
	expiresAt := time.Now().UTC().Add(expiry)

	resp, err := p.accounts.ListAccountSAS(ctx, p.resourceGroup, p.storage.Account, armstorage.AccountSasParameters{
		Services:               to.Ptr(armstorage.ServicesB),
		ResourceTypes:          to.Ptr(armstorage.SignedResourceTypes("co")),
		Permissions:            to.Ptr(armstorage.Permissions("rwdl")),
		Protocols:              to.Ptr(armstorage.HTTPProtocolHTTPS),
		SharedAccessStartTime:  to.Ptr(start),
		SharedAccessExpiryTime: to.Ptr(expiresAt),
	}, nil)
	if err != nil {
		return migration.StorageToken{}, fmt.Errorf("failed to list account SAS for %s: %w", p.storage.Account, err)
	}
	if resp.AccountSasToken == nil || *resp.AccountSasToken == "" {
		return migration.StorageToken{}, fmt.Errorf("storage account %s returned an empty SAS token", p.storage.Account)
	}

	return migration.StorageToken{
		Value:        strings.TrimPrefix(*resp.AccountSasToken, "?"),
		Expiry:       expiresAt,
		ContainerURL: p.storage.ContainerURL(),
	}, nil
}
