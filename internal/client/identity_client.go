package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// IdentityClient implements service.AuthorizationGateway against the platform
// identity service over HTTP. The role framework itself lives there; this
// client only consumes its capability checks.
type IdentityClient struct {
	baseURL string
	http    *http.Client
}

// NewIdentityClient creates a client for the identity service at baseURL.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type allowedResponse struct {
	Allowed bool `json:"allowed"`
}

// HasRole reports whether the user holds at least one of the roles.
func (c *IdentityClient) HasRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("roles", strings.Join(roles, ","))
	return c.check(ctx, "/internal/v1/authz/has-role", params)
}

// OwnsEntity reports whether the user represents the exact entity instance.
func (c *IdentityClient) OwnsEntity(ctx context.Context, userID string, entityType repository.EntityType, entityID string) (bool, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("entity_type", string(entityType))
	params.Set("entity_id", entityID)
	return c.check(ctx, "/internal/v1/authz/owns-entity", params)
}

func (c *IdentityClient) check(ctx context.Context, path string, params url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to build identity request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "identity service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.Newf(errors.ErrCodeInternal, "identity service returned %d for %s", resp.StatusCode, path)
	}

	var body allowedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to decode identity response for %s", path))
	}
	return body.Allowed, nil
}
