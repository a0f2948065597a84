package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// db is the slice of the pgx pool API the store uses. pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore persists workflow results and action histories. Results are
// stored as JSONB alongside their queryable columns.
type PostgresStore struct {
	pool   db
	logger *zap.Logger
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS workflow_results (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    workflow    TEXT NOT NULL,
    url         TEXT,
    success     BOOLEAN NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_results_session ON workflow_results (session_id);

CREATE TABLE IF NOT EXISTS action_history (
    session_id  TEXT NOT NULL,
    seq         INT NOT NULL,
    action      TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    entry       JSONB NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger.Named("store")}
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}
	s.logger.Info("History store ready.")
	return s, nil
}

// newWithDB wires an existing connection-like handle; used by tests.
func newWithDB(pool db, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.Named("store")}
}

// SaveWorkflowResult upserts one completed workflow result.
func (s *PostgresStore) SaveWorkflowResult(ctx context.Context, sessionID string, result *schemas.WorkflowResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode workflow result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_results (id, session_id, workflow, url, success, started_at, duration_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    success = EXCLUDED.success, duration_ms = EXCLUDED.duration_ms, payload = EXCLUDED.payload`,
		result.ID, sessionID, string(result.Kind), result.URL, result.Success,
		result.StartedAt, result.Duration.Milliseconds(), payload)
	if err != nil {
		return fmt.Errorf("failed to save workflow result: %w", err)
	}

	s.logger.Debug("Workflow result saved.",
		zap.String("id", result.ID), zap.String("workflow", string(result.Kind)))
	return nil
}

// SaveHistory appends a session's action history. Entries are keyed by their
// position, so re-saving a longer history is an idempotent extension.
func (s *PostgresStore) SaveHistory(ctx context.Context, sessionID string, entries []schemas.HistoryEntry) error {
	for i, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode history entry %d: %w", i, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO action_history (session_id, seq, action, success, recorded_at, entry)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, seq) DO NOTHING`,
			sessionID, i, string(entry.Action.Type), entry.Result.Success,
			entry.Action.Timestamp, raw)
		if err != nil {
			return fmt.Errorf("failed to save history entry %d: %w", i, err)
		}
	}
	return nil
}

// WorkflowResults returns every stored result for a session, oldest first.
func (s *PostgresStore) WorkflowResults(ctx context.Context, sessionID string) ([]schemas.WorkflowResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM workflow_results WHERE session_id = $1 ORDER BY started_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow results: %w", err)
	}
	defer rows.Close()

	var results []schemas.WorkflowResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan workflow result: %w", err)
		}
		var result schemas.WorkflowResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("failed to decode workflow result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workflow results: %w", err)
	}
	return results, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ schemas.HistoryStore = (*PostgresStore)(nil)
