package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PGConfig configures connection pooling for the Postgres-backed Store,
// mirroring the teacher's connection-pool defaults for its own Postgres-
// compatible durable stores.
type PGConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPGConfig returns the same pool shape the teacher uses for its own
// durable stores.
func DefaultPGConfig() *PGConfig {
	return &PGConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PGStore is a durable Store backed by Postgres (or a Postgres-wire-
// compatible database), the alternate durable backend to SQLStore for
// engine deployments that already run a Postgres fleet.
type PGStore struct {
	db     *sql.DB
	signer *Signer
}

// NewPGStore opens dsn and ensures the checkpoints table exists.
func NewPGStore(dsn string, cfg *PGConfig, signer *Signer) (*PGStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPGConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres checkpoint store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres checkpoint store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
		execution_id TEXT PRIMARY KEY,
		blob TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	return &PGStore{db: db, signer: signer}, nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}

func (s *PGStore) encode(blob Blob) (string, error) {
	if s.signer != nil {
		return s.signer.Sign(blob)
	}
	data, err := Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint blob: %w", err)
	}
	return string(data), nil
}

func (s *PGStore) decode(raw string) (Blob, error) {
	if s.signer != nil {
		return s.signer.Verify(raw)
	}
	return Unmarshal([]byte(raw))
}

func (s *PGStore) Save(ctx context.Context, executionID string, blob Blob) error {
	encoded, err := s.encode(blob)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (execution_id, blob, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (execution_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		executionID, encoded,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context, executionID string) (Blob, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT blob FROM checkpoints WHERE execution_id = $1`, executionID)
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

func (s *PGStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
