// Package pricing resolves per-token model prices and computes invocation
// cost. Prices come from three sources, in priority order: an
// administrator-set custom override, a synced external catalog, and a
// built-in default heuristic. Records are always keyed by
// (provider, model id) — two providers may expose identically named
// models at different prices and must never be conflated.
package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/pricing")

// Record is one stored pricing row. Custom prices are per million tokens;
// synced prices are per token, as delivered by the catalog sync.
type Record struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`

	CustomInputPerMillion  *float64 `json:"custom_input_per_million,omitempty"`
	CustomOutputPerMillion *float64 `json:"custom_output_per_million,omitempty"`
	SyncedInputPerToken    *float64 `json:"synced_input_per_token,omitempty"`
	SyncedOutputPerToken   *float64 `json:"synced_output_per_token,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists pricing records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the pricing database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening pricing database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS pricing (
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		custom_input_per_million REAL,
		custom_output_per_million REAL,
		synced_input_per_token REAL,
		synced_output_per_token REAL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (provider, model_id)
	);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating pricing schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for (provider, modelID), or nil when none exists.
func (s *Store) Get(ctx context.Context, provider, modelID string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "pricing.get",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("gen_ai.request.model", modelID),
		))
	defer span.End()

	query := `SELECT provider, model_id, custom_input_per_million, custom_output_per_million,
	          synced_input_per_token, synced_output_per_token, updated_at
	          FROM pricing WHERE provider = ? AND model_id = ?`

	var rec Record
	err := s.db.QueryRowContext(ctx, query, provider, modelID).Scan(
		&rec.Provider, &rec.ModelID,
		&rec.CustomInputPerMillion, &rec.CustomOutputPerMillion,
		&rec.SyncedInputPerToken, &rec.SyncedOutputPerToken,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying pricing record: %w", err)
	}
	return &rec, nil
}

// SetCustom upserts the administrator override for (provider, modelID).
// Synced prices on an existing row are preserved.
func (s *Store) SetCustom(ctx context.Context, provider, modelID string, inputPerMillion, outputPerMillion float64) error {
	ctx, span := tracer.Start(ctx, "pricing.set_custom",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("gen_ai.request.model", modelID),
		))
	defer span.End()

	query := `INSERT INTO pricing (provider, model_id, custom_input_per_million, custom_output_per_million, updated_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(provider, model_id) DO UPDATE SET
	            custom_input_per_million = excluded.custom_input_per_million,
	            custom_output_per_million = excluded.custom_output_per_million,
	            updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, provider, modelID, inputPerMillion, outputPerMillion, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing custom price: %w", err)
	}
	return nil
}

// ClearCustom removes the administrator override, leaving synced prices intact.
func (s *Store) ClearCustom(ctx context.Context, provider, modelID string) error {
	query := `UPDATE pricing SET custom_input_per_million = NULL, custom_output_per_million = NULL, updated_at = ?
	          WHERE provider = ? AND model_id = ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), provider, modelID); err != nil {
		return fmt.Errorf("clearing custom price: %w", err)
	}
	return nil
}

// UpsertSynced stores catalog prices (per token) for (provider, modelID).
// Custom overrides on an existing row are preserved.
func (s *Store) UpsertSynced(ctx context.Context, provider, modelID string, inputPerToken, outputPerToken float64) error {
	query := `INSERT INTO pricing (provider, model_id, synced_input_per_token, synced_output_per_token, updated_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(provider, model_id) DO UPDATE SET
	            synced_input_per_token = excluded.synced_input_per_token,
	            synced_output_per_token = excluded.synced_output_per_token,
	            updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, provider, modelID, inputPerToken, outputPerToken, time.Now().UTC()); err != nil {
		return fmt.Errorf("storing synced price: %w", err)
	}
	return nil
}

// List returns all pricing records, ordered by provider then model.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "pricing.list")
	defer span.End()

	query := `SELECT provider, model_id, custom_input_per_million, custom_output_per_million,
	          synced_input_per_token, synced_output_per_token, updated_at
	          FROM pricing ORDER BY provider, model_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing pricing records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Provider, &rec.ModelID,
			&rec.CustomInputPerMillion, &rec.CustomOutputPerMillion,
			&rec.SyncedInputPerToken, &rec.SyncedOutputPerToken,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning pricing record: %w", err)
		}
		records = append(records, rec)
	}
	span.SetAttributes(attribute.Int("pricing.record_count", len(records)))
	return records, rows.Err()
}
