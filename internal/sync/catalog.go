package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
)

// FetchCatalog pulls the tenant's projects and assets from the cloud.
// Reference data the assessor picks targets from; read-only on the node.
func (c *CloudClient) FetchCatalog(ctx context.Context) ([]models.Project, []models.Asset, error) {
	url := c.baseURL + "/api/v1/catalog"
	if c.cfg.ProjectID != "" {
		url += "?project_id=" + c.cfg.ProjectID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("fetch catalog: %s", readErrorBody(resp))
	}

	var body struct {
		Projects []models.Project `json:"projects"`
		Assets   []models.Asset   `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}
	return body.Projects, body.Assets, nil
}

// CatalogSync refreshes the local reference-data cache from the cloud.
// Best effort: a failed refresh leaves the previous cache in place.
type CatalogSync struct {
	store  store.Store
	client *CloudClient
}

// NewCatalogSync creates a catalog refresher
func NewCatalogSync(st store.Store, client *CloudClient) *CatalogSync {
	return &CatalogSync{store: st, client: client}
}

// Refresh pulls the catalog and replaces the local cache
func (cs *CatalogSync) Refresh(ctx context.Context) error {
	projects, assets, err := cs.client.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	if err := cs.store.ReplaceCatalog(projects, assets); err != nil {
		return fmt.Errorf("cache catalog: %w", err)
	}
	log.Printf("📦 Catalog refreshed: %d project(s), %d asset(s)", len(projects), len(assets))
	return nil
}
