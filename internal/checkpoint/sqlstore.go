package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLConfig configures the embedded sqlite-backed Store.
type SQLConfig struct {
	MaxOpenConns int
}

// DefaultSQLConfig returns conservative pool settings for the embedded
// driver, which is single-process by nature.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{MaxOpenConns: 1}
}

// SQLStore is a durable Store backed by modernc.org/sqlite — a pure-Go
// driver, no CGo, suitable as the default durable upgrade from MemoryStore
// for a single engine process.
type SQLStore struct {
	db     *sql.DB
	signer *Signer
}

// NewSQLStore opens dsn (a sqlite file path, or ":memory:") and ensures the
// checkpoints table exists.
func NewSQLStore(ctx context.Context, dsn string, cfg *SQLConfig, signer *Signer) (*SQLStore, error) {
	if cfg == nil {
		cfg = DefaultSQLConfig()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite checkpoint store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
		execution_id TEXT PRIMARY KEY,
		blob TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	return &SQLStore{db: db, signer: signer}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// newSQLStoreFromDB wraps an already-open *sql.DB (a sqlmock double in
// tests, a pre-migrated pool in production) without issuing a ping or DDL,
// so tests can assert on Save/Load queries in isolation.
func newSQLStoreFromDB(db *sql.DB, signer *Signer) *SQLStore {
	return &SQLStore{db: db, signer: signer}
}

func (s *SQLStore) encode(blob Blob) (string, error) {
	if s.signer != nil {
		return s.signer.Sign(blob)
	}
	data, err := Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint blob: %w", err)
	}
	return string(data), nil
}

func (s *SQLStore) decode(raw string) (Blob, error) {
	if s.signer != nil {
		return s.signer.Verify(raw)
	}
	return Unmarshal([]byte(raw))
}

func (s *SQLStore) Save(ctx context.Context, executionID string, blob Blob) error {
	encoded, err := s.encode(blob)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (execution_id, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(execution_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		executionID, encoded,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, executionID string) (Blob, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT blob FROM checkpoints WHERE execution_id = ?`, executionID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return Blob{}, false, nil
		}
		return Blob{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	blob, err := s.decode(raw)
	if err != nil {
		return Blob{}, false, err
	}
	return blob, true, nil
}

func (s *SQLStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
