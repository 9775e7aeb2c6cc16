// Package interaction keeps the signed ledger of model interactions that
// went through the trust pipeline: what was spent, on which model, for
// which agent, and whether the resulting context was trusted. Cost is
// tri-state by construction: a record either carries a known cost or
// declares it unknown; it is never silently zero.
package interaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/interaction")

// Interaction is one recorded pass through the trust pipeline.
type Interaction struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TenantID       string    `json:"tenant_id"`
	AgentID        string    `json:"agent_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Cost           float64   `json:"cost"`
	CostKnown      bool      `json:"cost_known"`
	ContextTrusted bool      `json:"context_trusted"`
	QuarantineRuns int       `json:"quarantine_runs"`
	BlockedResults int       `json:"blocked_results"`
	Signature      string    `json:"signature"`
}

// NewID returns a fresh interaction identifier.
func NewID() string {
	return "int_" + uuid.New().String()[:12]
}

// Store persists HMAC-signed interaction records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens the interaction ledger, creating the schema if needed.
func NewStore(dbPath, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening interaction database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		tenant_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		cost REAL NOT NULL,
		cost_known INTEGER NOT NULL,
		context_trusted INTEGER NOT NULL,
		interaction_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_tenant ON interactions(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_agent ON interactions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating interaction schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save signs and persists one interaction. The signature covers the
// record as serialized without the signature field.
func (s *Store) Save(ctx context.Context, in *Interaction) error {
	ctx, span := tracer.Start(ctx, "interaction.save",
		trace.WithAttributes(
			attribute.String("interaction.id", in.ID),
			attribute.String("tenant_id", in.TenantID),
			attribute.String("agent_id", in.AgentID),
		))
	defer span.End()

	if in.ID == "" {
		in.ID = NewID()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	in.Signature = ""
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling interaction: %w", err)
	}
	signature, err := s.signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("signing interaction: %w", err)
	}
	in.Signature = signature

	signedJSON, _ := json.Marshal(in)

	query := `INSERT INTO interactions (id, timestamp, tenant_id, agent_id, provider, model, cost, cost_known, context_trusted, interaction_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		in.ID, in.Timestamp, in.TenantID, in.AgentID, in.Provider, in.Model,
		in.Cost, boolToInt(in.CostKnown), boolToInt(in.ContextTrusted),
		string(signedJSON), signature,
	)
	if err != nil {
		return fmt.Errorf("storing interaction: %w", err)
	}
	return nil
}

// Get retrieves one interaction by ID.
func (s *Store) Get(ctx context.Context, id string) (*Interaction, error) {
	ctx, span := tracer.Start(ctx, "interaction.get",
		trace.WithAttributes(attribute.String("interaction.id", id)))
	defer span.End()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT interaction_json FROM interactions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("interaction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying interaction: %w", err)
	}

	var in Interaction
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("unmarshaling interaction: %w", err)
	}
	return &in, nil
}

// Verify re-checks the stored signature of one interaction.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	in, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	signature := in.Signature
	in.Signature = ""
	raw, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("marshaling interaction: %w", err)
	}
	return s.signer.Verify(raw, signature), nil
}

// List returns interactions, newest first, filtered by tenant and agent
// when non-empty and bounded to the half-open interval [from, to).
func (s *Store) List(ctx context.Context, tenantID, agentID string, from, to time.Time, limit int) ([]Interaction, error) {
	ctx, span := tracer.Start(ctx, "interaction.list",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("agent_id", agentID),
		))
	defer span.End()

	query := `SELECT interaction_json FROM interactions WHERE 1=1`
	args := []interface{}{}

	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		var in Interaction
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, fmt.Errorf("unmarshaling interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// CostSummary aggregates spend over a time window. UnknownCount counts
// interactions whose cost could not be determined; those contribute
// nothing to Total and must be reported alongside it.
type CostSummary struct {
	Total        float64 `json:"total"`
	KnownCount   int     `json:"known_count"`
	UnknownCount int     `json:"unknown_count"`
}

// CostTotal sums the known costs for a tenant over [from, to).
func (s *Store) CostTotal(ctx context.Context, tenantID string, from, to time.Time) (*CostSummary, error) {
	ctx, span := tracer.Start(ctx, "interaction.cost_total",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	query := `SELECT
		COALESCE(SUM(CASE WHEN cost_known = 1 THEN cost ELSE 0 END), 0),
		COALESCE(SUM(cost_known), 0),
		COALESCE(SUM(1 - cost_known), 0)
	FROM interactions
	WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?`

	var sum CostSummary
	err := s.db.QueryRowContext(ctx, query, tenantID, from, to).
		Scan(&sum.Total, &sum.KnownCount, &sum.UnknownCount)
	if err != nil {
		return nil, fmt.Errorf("summing interaction costs: %w", err)
	}
	return &sum, nil
}

// CostByAgent breaks the tenant's spend down per agent over [from, to).
func (s *Store) CostByAgent(ctx context.Context, tenantID string, from, to time.Time) (map[string]*CostSummary, error) {
	ctx, span := tracer.Start(ctx, "interaction.cost_by_agent",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	query := `SELECT agent_id,
		COALESCE(SUM(CASE WHEN cost_known = 1 THEN cost ELSE 0 END), 0),
		COALESCE(SUM(cost_known), 0),
		COALESCE(SUM(1 - cost_known), 0)
	FROM interactions
	WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?
	GROUP BY agent_id`

	rows, err := s.db.QueryContext(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summing interaction costs by agent: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*CostSummary)
	for rows.Next() {
		var agentID string
		var sum CostSummary
		if err := rows.Scan(&agentID, &sum.Total, &sum.KnownCount, &sum.UnknownCount); err != nil {
			return nil, fmt.Errorf("scanning cost row: %w", err)
		}
		out[agentID] = &sum
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
