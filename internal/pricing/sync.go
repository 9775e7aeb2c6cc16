package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// TimeoutCatalogFetch bounds one catalog download.
const TimeoutCatalogFetch = 30 * time.Second

// catalogModel is one model entry in a models.dev-style catalog. Cost
// values are USD per million tokens.
type catalogModel struct {
	Cost *struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"cost"`
}

// catalogProvider is one provider entry in the catalog.
type catalogProvider struct {
	Models map[string]catalogModel `json:"models"`
}

// Syncer fetches an external pricing catalog and upserts synced prices.
// Catalog prices arrive per million tokens and are stored per token.
type Syncer struct {
	store  *Store
	url    string
	client *http.Client
}

// NewSyncer creates a catalog syncer for the given endpoint.
func NewSyncer(store *Store, url string) *Syncer {
	return &Syncer{
		store:  store,
		url:    url,
		client: &http.Client{Timeout: TimeoutCatalogFetch},
	}
}

// Sync downloads the catalog and upserts every model that carries cost
// data. Returns the number of records written. Models without cost data
// (local/free models) are skipped.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "pricing.sync")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("building catalog request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("fetching pricing catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("pricing catalog returned status %d", resp.StatusCode)
		span.RecordError(err)
		return 0, err
	}

	var catalog map[string]catalogProvider
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("decoding pricing catalog: %w", err)
	}

	written := 0
	for providerID, prov := range catalog {
		for modelID, model := range prov.Models {
			if model.Cost == nil {
				continue
			}
			inPerToken := model.Cost.Input / 1_000_000
			outPerToken := model.Cost.Output / 1_000_000
			if err := s.store.UpsertSynced(ctx, providerID, modelID, inPerToken, outPerToken); err != nil {
				log.Warn().Err(err).
					Str("provider", providerID).
					Str("model", modelID).
					Msg("pricing_sync_upsert_failed")
				continue
			}
			written++
		}
	}

	span.SetAttributes(attribute.Int("pricing.synced_count", written))
	log.Info().Int("records", written).Str("url", s.url).Msg("pricing_catalog_synced")
	return written, nil
}
