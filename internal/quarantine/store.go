// Package quarantine isolates untrusted tool output from the privileged
// model. The subagent runs a two-model Q&A protocol that extracts a safe
// summary; the store caches summaries keyed by tool-call ID so a given
// tool result is quarantined at most once, no matter how many requests
// race to process it.
package quarantine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/quarantine")

// ErrResultVanished is returned when a constraint conflict on save cannot
// be resolved by re-reading the winning row. Should not happen: rows are
// never deleted by this core.
var ErrResultVanished = errors.New("quarantine result conflicted on save but is not readable")

// Result is one cached safe summary. Created once on first encounter of an
// untrusted tool result, read-only thereafter.
type Result struct {
	ToolCallID  string    `json:"tool_call_id"`
	SafeSummary string    `json:"safe_summary"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists quarantine results in SQLite. The primary key on
// tool_call_id is the sole synchronization mechanism for concurrent
// requests racing to quarantine the same tool call — no in-process locks,
// so the guarantee holds across multiple service instances sharing the
// database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the quarantine results database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening quarantine database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS quarantine_results (
		tool_call_id TEXT PRIMARY KEY,
		safe_summary TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating quarantine schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByCallID returns the cached result for the call ID, or nil when none
// exists.
func (s *Store) FindByCallID(ctx context.Context, toolCallID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "quarantine.find",
		trace.WithAttributes(attribute.String("tool_call.id", toolCallID)))
	defer span.End()

	var res Result
	query := `SELECT tool_call_id, safe_summary, created_at FROM quarantine_results WHERE tool_call_id = ?`
	err := s.db.QueryRowContext(ctx, query, toolCallID).Scan(&res.ToolCallID, &res.SafeSummary, &res.CreatedAt)
	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("quarantine.cache_hit", false))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying quarantine result: %w", err)
	}
	span.SetAttributes(attribute.Bool("quarantine.cache_hit", true))
	return &res, nil
}

// Save inserts a result for the call ID. When a concurrent request won the
// insert race, the primary-key conflict is not an error: the winner's row
// is read back and returned, so both requests end up substituting the same
// summary and at most one quarantine computation is ever persisted per
// tool call.
func (s *Store) Save(ctx context.Context, toolCallID, safeSummary string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "quarantine.save",
		trace.WithAttributes(attribute.String("tool_call.id", toolCallID)))
	defer span.End()

	res := &Result{
		ToolCallID:  toolCallID,
		SafeSummary: safeSummary,
		CreatedAt:   time.Now().UTC(),
	}

	query := `INSERT INTO quarantine_results (tool_call_id, safe_summary, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, res.ToolCallID, res.SafeSummary, res.CreatedAt)
	if err == nil {
		return res, nil
	}

	if !isUniqueConstraint(err) {
		span.RecordError(err)
		return nil, fmt.Errorf("storing quarantine result: %w", err)
	}

	span.SetAttributes(attribute.Bool("quarantine.save_conflict", true))
	existing, findErr := s.FindByCallID(ctx, toolCallID)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrResultVanished, toolCallID)
	}
	return existing, nil
}

// isUniqueConstraint reports whether err is a SQLite primary-key or unique
// constraint violation.
func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
