package azure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// tokenSource mints the SAS used to authorize blob reads.
type tokenSource interface {
	GetOrCreateAccessToken(ctx context.Context, expiry time.Duration) (migration.StorageToken, error)
}

// BlobVerifier checks artifact existence in the backup container with an
// authenticated HEAD against the blob endpoint.
type BlobVerifier struct {
	tokens tokenSource
	client *http.Client
}

// NewBlobVerifier creates a verifier backed by the given token source.
func NewBlobVerifier(tokens tokenSource) *BlobVerifier {
	return &BlobVerifier{
		tokens: tokens,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// verifyTokenExpiry keeps verification tokens short-lived; one HEAD per
// check needs minutes, not hours.
const verifyTokenExpiry = time.Hour

// BlobExists reports whether the named blob exists in the container.
func (v *BlobVerifier) BlobExists(ctx context.Context, containerURL, blobName string) (bool, error) {
	token, err := v.tokens.GetOrCreateAccessToken(ctx, verifyTokenExpiry)
	if err != nil {
		return false, fmt.Errorf("minting verification token: %w", err)
	}

	url := fmt.Sprintf("%s/%s?%s", containerURL, blobName, token.Value)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("building blob existence request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking blob %s: %w", blobName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d checking blob %s", resp.StatusCode, blobName)
	}
}
