package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/service"
)

// CatalogClient implements service.CatalogGateway against the medical catalog
// service. Read-only lookups; negotiation items are validated against it at
// creation time.
type CatalogClient struct {
	baseURL string
	http    *http.Client
}

// NewCatalogClient creates a client for the catalog service at baseURL.
func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// GetProcedure fetches a procedure by id. Missing procedures fail loudly with
// NOT_FOUND instead of being silently unwrapped.
func (c *CatalogClient) GetProcedure(ctx context.Context, id string) (*service.Procedure, error) {
	var proc service.Procedure
	if err := c.get(ctx, "/api/v1/procedures/"+id, "procedure", id, &proc); err != nil {
		return nil, err
	}
	return &proc, nil
}

// GetSpecialty fetches a specialty by id.
func (c *CatalogClient) GetSpecialty(ctx context.Context, id string) (*service.Specialty, error) {
	var sp service.Specialty
	if err := c.get(ctx, "/api/v1/specialties/"+id, "specialty", id, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (c *CatalogClient) get(ctx context.Context, path, resource, id string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build catalog request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "catalog service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFound(resource, id)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeInternal, "catalog service returned %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode catalog response")
	}
	return nil
}
