// Package postgres keeps the crawl checkpoint and processed identities in
// Postgres tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultCheckpointTable = "jobfeed_checkpoints"
	defaultProcessedTable  = "jobfeed_processed"
)

// Config controls the connection pool and table layout.
type Config struct {
	DSN             string
	CheckpointTable string
	ProcessedTable  string
	MaxConns        int32
	MaxConnLifetime time.Duration

	// Name keys the rows of one crawl so several crawls can share tables.
	Name string
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StateStore implements storage.CheckpointStore and storage.ProcessedLog.
type StateStore struct {
	pool            querier
	name            string
	checkpointTable string
	processedTable  string
}

// NewStateStore connects to Postgres using the provided config.
func NewStateStore(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStateStoreWithPool(pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(pool querier, cfg Config) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	checkpointTable := cfg.CheckpointTable
	if checkpointTable == "" {
		checkpointTable = defaultCheckpointTable
	}
	processedTable := cfg.ProcessedTable
	if processedTable == "" {
		processedTable = defaultProcessedTable
	}
	for _, table := range []string{checkpointTable, processedTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "default"
	}
	return &StateStore{
		pool:            pool,
		name:            name,
		checkpointTable: checkpointTable,
		processedTable:  processedTable,
	}, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name       TEXT PRIMARY KEY,
	next_page  INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.checkpointTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name        TEXT NOT NULL,
	identity    TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (name, identity)
)`, s.processedTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Load returns the stored page, or 0 when no row exists.
func (s *StateStore) Load(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT next_page FROM %s WHERE name = $1`, s.checkpointTable)
	var page int
	err := s.pool.QueryRow(ctx, query, s.name).Scan(&page)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select checkpoint: %w", err)
	}
	return page, nil
}

// Save upserts the checkpoint row.
func (s *StateStore) Save(ctx context.Context, page int) error {
	if page < 0 {
		return fmt.Errorf("checkpoint page must be non-negative, got %d", page)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, next_page, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE
SET next_page = EXCLUDED.next_page, updated_at = EXCLUDED.updated_at`, s.checkpointTable)
	if _, err := s.pool.Exec(ctx, query, s.name, page); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// LoadAll returns the recorded identities in insertion order.
func (s *StateStore) LoadAll(ctx context.Context) ([]identity.JobIdentity, error) {
	query := fmt.Sprintf(`SELECT identity FROM %s WHERE name = $1 ORDER BY recorded_at`, s.processedTable)
	rows, err := s.pool.Query(ctx, query, s.name)
	if err != nil {
		return nil, fmt.Errorf("select processed identities: %w", err)
	}
	defer rows.Close()

	var ids []identity.JobIdentity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan processed identity: %w", err)
		}
		ids = append(ids, identity.JobIdentity(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed identities: %w", err)
	}
	return ids, nil
}

// Append inserts id, ignoring duplicates.
func (s *StateStore) Append(ctx context.Context, id identity.JobIdentity) error {
	query := fmt.Sprintf(`
INSERT INTO %s (name, identity)
VALUES ($1, $2)
ON CONFLICT (name, identity) DO NOTHING`, s.processedTable)
	if _, err := s.pool.Exec(ctx, query, s.name, string(id)); err != nil {
		return fmt.Errorf("insert processed identity: %w", err)
	}
	return nil
}
