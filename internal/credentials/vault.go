// Package credentials stores provider API keys encrypted at rest.
//
// Keys are sealed with AES-256-GCM and stored in SQLite, scoped per
// tenant and provider. Every retrieval is written to an audit table with
// the agent that triggered it, so spend on a leaked key can be traced
// back to a conversation.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/credentials")

var (
	// ErrKeyNotFound is returned when no key is stored for the tenant and
	// provider pair.
	ErrKeyNotFound = errors.New("provider key not found")
	// ErrInvalidEncryptionKey is returned when the vault key is not 32 raw
	// bytes or 64 hex characters.
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

// Vault manages encrypted provider API keys.
type Vault struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// AccessRecord is one audit entry for a key retrieval attempt.
type AccessRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Provider  string    `json:"provider"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Found     bool      `json:"found"`
}

// NewVault opens the credentials database. The encryption key must be
// exactly 32 raw bytes or 64 hex characters decoding to 32 bytes.
func NewVault(dbPath, encryptionKey string) (*Vault, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening credentials database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS provider_keys (
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		encrypted_key TEXT NOT NULL,
		nonce TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, provider)
	);

	CREATE TABLE IF NOT EXISTS key_access_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		found BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_key_access_tenant ON key_access_log(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_key_access_timestamp ON key_access_log(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating credentials schema: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Vault{db: db, gcm: gcm}, nil
}

func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 && isHex(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("encryption key hex must decode to 32 bytes: %w", ErrInvalidEncryptionKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidEncryptionKey)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// SetKey seals and stores an API key for the tenant and provider,
// replacing any existing one.
func (v *Vault) SetKey(ctx context.Context, tenantID, provider, apiKey string) error {
	ctx, span := tracer.Start(ctx, "credentials.set_key",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("gen_ai.system", provider),
		))
	defer span.End()

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := v.gcm.Seal(nil, nonce, []byte(apiKey), nil)

	query := `
		INSERT INTO provider_keys (tenant_id, provider, encrypted_key, nonce, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, provider) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			nonce = excluded.nonce
	`
	_, err := v.db.ExecContext(ctx, query,
		tenantID, provider,
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(nonce),
		time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing provider key: %w", err)
	}
	return nil
}

// GetKey decrypts the API key for the tenant and provider. The attempt is
// audit-logged with the agent on whose behalf the key is fetched, whether
// it succeeds or not.
func (v *Vault) GetKey(ctx context.Context, tenantID, provider, agentID string) (string, error) {
	ctx, span := tracer.Start(ctx, "credentials.get_key",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("gen_ai.system", provider),
			attribute.String("agent.id", agentID),
		))
	defer span.End()

	var encryptedKey, nonceB64 string
	query := `SELECT encrypted_key, nonce FROM provider_keys WHERE tenant_id = ? AND provider = ?`
	err := v.db.QueryRowContext(ctx, query, tenantID, provider).Scan(&encryptedKey, &nonceB64)
	if err == sql.ErrNoRows {
		v.logAccess(ctx, tenantID, provider, agentID, false)
		return "", fmt.Errorf("%w: %s/%s", ErrKeyNotFound, tenantID, provider)
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("querying provider key: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("decoding nonce: %w", err)
	}

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("decrypting provider key: %w", err)
	}

	v.logAccess(ctx, tenantID, provider, agentID, true)
	return string(plaintext), nil
}

// DeleteKey removes the key for the tenant and provider.
func (v *Vault) DeleteKey(ctx context.Context, tenantID, provider string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM provider_keys WHERE tenant_id = ? AND provider = ?`, tenantID, provider)
	if err != nil {
		return fmt.Errorf("deleting provider key: %w", err)
	}
	return nil
}

// ListProviders returns the providers a tenant has keys for.
func (v *Vault) ListProviders(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT provider FROM provider_keys WHERE tenant_id = ? ORDER BY provider`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// logAccess records a retrieval attempt. Audit failures never fail the
// retrieval itself.
func (v *Vault) logAccess(ctx context.Context, tenantID, provider, agentID string, found bool) {
	query := `INSERT INTO key_access_log (id, tenant_id, provider, agent_id, timestamp, found)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, _ = v.db.ExecContext(ctx, query, uuid.New().String(), tenantID, provider, agentID, time.Now().UTC(), found)
}

// AuditLog returns retrieval attempts for a tenant, newest first.
// Limit <= 0 means no limit.
func (v *Vault) AuditLog(ctx context.Context, tenantID string, limit int) ([]AccessRecord, error) {
	query := `SELECT id, tenant_id, provider, agent_id, timestamp, found FROM key_access_log
	          WHERE tenant_id = ? ORDER BY timestamp DESC`
	args := []interface{}{tenantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying key access log: %w", err)
	}
	defer rows.Close()

	var records []AccessRecord
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Provider, &r.AgentID, &r.Timestamp, &r.Found); err != nil {
			return nil, fmt.Errorf("scanning access record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
