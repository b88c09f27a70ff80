// Package azure provides the concrete Azure bindings behind the migration
// core: credential resolution, storage token minting, blob verification,
// the database migration service client, and target instance lookups.
package azure

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// CredentialSource indicates how credentials were obtained.
type CredentialSource string

const (
	// CredentialSourceDefault uses DefaultAzureCredential chain.
	CredentialSourceDefault CredentialSource = "default"

	// CredentialSourceCLI uses Azure CLI credentials.
	CredentialSourceCLI CredentialSource = "cli"

	// CredentialSourceServicePrincipal uses a service principal.
	CredentialSourceServicePrincipal CredentialSource = "service_principal"

	// CredentialSourceManagedIdentity uses managed identity.
	CredentialSourceManagedIdentity CredentialSource = "managed_identity"
)

// CredentialConfig holds configuration for Azure authentication.
type CredentialConfig struct {
	// SubscriptionID is the Azure subscription ID.
	SubscriptionID string

	// TenantID is the Azure AD tenant ID.
	TenantID string

	// ClientID is the service principal client ID.
	ClientID string

	// Source indicates how credentials should be obtained.
	Source CredentialSource
}

// NewCredentialConfig creates a new credential configuration with defaults.
func NewCredentialConfig() *CredentialConfig {
	return &CredentialConfig{
		Source: DetectCredentialSource(),
	}
}

// WithSubscriptionID sets the subscription ID.
func (c *CredentialConfig) WithSubscriptionID(subscriptionID string) *CredentialConfig {
	c.SubscriptionID = subscriptionID
	return c
}

// DetectCredentialSource detects how Azure credentials are configured.
func DetectCredentialSource() CredentialSource {
	// Check for service principal env vars
	if os.Getenv("AZURE_CLIENT_ID") != "" &&
		os.Getenv("AZURE_CLIENT_SECRET") != "" &&
		os.Getenv("AZURE_TENANT_ID") != "" {
		return CredentialSourceServicePrincipal
	}

	// Check for managed identity
	if os.Getenv("AZURE_CLIENT_ID") != "" && os.Getenv("AZURE_CLIENT_SECRET") == "" {
		return CredentialSourceManagedIdentity
	}

	// Check for Azure CLI
	if home, err := os.UserHomeDir(); err == nil {
		if _, err := os.Stat(home + "/.azure"); err == nil {
			return CredentialSourceCLI
		}
	}

	return CredentialSourceDefault
}

// GetCredential returns an Azure credential based on the configuration.
// Service principal, CLI and managed identity sources are all picked up by
// the default chain, so the source mainly drives diagnostics.
func (c *CredentialConfig) GetCredential(ctx context.Context) (*azidentity.DefaultAzureCredential, error) {
	return azidentity.NewDefaultAzureCredential(nil)
}

// GetSubscriptionID returns the subscription ID, attempting to auto-detect if not set.
func (c *CredentialConfig) GetSubscriptionID() (string, error) {
	if c.SubscriptionID != "" {
		return c.SubscriptionID, nil
	}

	if subID := os.Getenv("AZURE_SUBSCRIPTION_ID"); subID != "" {
		return subID, nil
	}

	return "", fmt.Errorf("could not determine Azure subscription ID")
}
