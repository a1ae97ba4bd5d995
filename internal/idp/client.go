// Package idp integrates the external identity provider: the admin client
// used for the compensating delete, the webhook signature check, and the
// authorization gate that consumes "account created" events.
package idp

import (
	"context"
	"fmt"
	"net/http"

	ory "github.com/ory/client-go"
)

// Client is the outbound surface this service needs from the identity
// provider. Deleting an unauthorized identity is the only call the core
// makes; it must be safe to retry.
type Client interface {
	// DeleteIdentity removes an externally-created identity. An already
	// deleted identity is success: the compensating action is idempotent.
	DeleteIdentity(ctx context.Context, externalID string) error
}

// OryClient implements Client against an Ory-compatible identity admin API.
type OryClient struct {
	apiClient *ory.APIClient
}

// NewOryClient creates a client for the given admin base URL. apiKey is
// optional (self-hosted deployments often rely on network policy instead).
func NewOryClient(adminURL, apiKey string, httpClient *http.Client) *OryClient {
	cfg := ory.NewConfiguration()
	cfg.Servers = ory.ServerConfigurations{{URL: adminURL}}
	if apiKey != "" {
		cfg.AddDefaultHeader("Authorization", "Bearer "+apiKey)
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OryClient{apiClient: ory.NewAPIClient(cfg)}
}

// DeleteIdentity issues the admin delete. 404 counts as success so a retried
// compensation cannot fail on its own earlier partial success.
func (c *OryClient) DeleteIdentity(ctx context.Context, externalID string) error {
	resp, err := c.apiClient.IdentityAPI.DeleteIdentity(ctx, externalID).Execute()
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not delete identity: %w", err)
	}
	return nil
}

var _ Client = (*OryClient)(nil)
