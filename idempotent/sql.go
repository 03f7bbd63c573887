package idempotent

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// SQLConfig configures a SQLRepository.
type SQLConfig struct {
	// ProcessorName scopes the keys, so several consumers can share a table.
	// Defaults to "default".
	ProcessorName string
	// SkipSchema disables creating the table on construction.
	SkipSchema bool
}

func (c SQLConfig) parse() SQLConfig {
	if c.ProcessorName == "" {
		c.ProcessorName = "default"
	}
	return c
}

const (
	sqlQueryCount  = "SELECT COUNT(*) FROM goroute_idempotent WHERE processor_name = ? AND message_id = ?"
	sqlQueryInsert = "INSERT INTO goroute_idempotent (processor_name, message_id, created_at) VALUES (?, ?, ?)"
	sqlQueryDelete = "DELETE FROM goroute_idempotent WHERE processor_name = ? AND message_id = ?"
)

// SQLRepository stores keys in a database table. Queries use "?" placeholders.
// Within a repository, operations are serialized; across repositories the
// primary key rejects a second insert of the same key, and the losing Add
// reports a duplicate.
type SQLRepository struct {
	db  *sql.DB
	cfg SQLConfig
	mu  sync.Mutex
}

// NewSQLRepository creates a repository on db and applies the schema unless
// SkipSchema is set.
func NewSQLRepository(ctx context.Context, db *sql.DB, cfg SQLConfig) (*SQLRepository, error) {
	cfg = cfg.parse()
	if !cfg.SkipSchema {
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			return nil, fmt.Errorf("idempotent: failed to apply schema: %w", err)
		}
	}
	return &SQLRepository{db: db, cfg: cfg}, nil
}

func (r *SQLRepository) contains(ctx context.Context, key string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, sqlQueryCount, r.cfg.ProcessorName, key).Scan(&n); err != nil {
		return false, fmt.Errorf("idempotent: sql contains %q: %w", key, err)
	}
	return n > 0, nil
}

// Add implements Repository.
func (r *SQLRepository) Add(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, err := r.contains(ctx, key)
	if err != nil || found {
		return false, err
	}
	if _, err := r.db.ExecContext(ctx, sqlQueryInsert, r.cfg.ProcessorName, key, time.Now().UTC()); err != nil {
		// another process inserted the key after the count
		if found, cerr := r.contains(ctx, key); cerr == nil && found {
			return false, nil
		}
		return false, fmt.Errorf("idempotent: sql add %q: %w", key, err)
	}
	return true, nil
}

// Contains implements Repository.
func (r *SQLRepository) Contains(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contains(ctx, key)
}

// Remove implements Repository.
func (r *SQLRepository) Remove(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.ExecContext(ctx, sqlQueryDelete, r.cfg.ProcessorName, key)
	if err != nil {
		return false, fmt.Errorf("idempotent: sql remove %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotent: sql remove %q: %w", key, err)
	}
	return n > 0, nil
}

// Confirm implements Repository. Rows are written on Add, so confirming only
// checks presence.
func (r *SQLRepository) Confirm(ctx context.Context, key string) (bool, error) {
	return r.Contains(ctx, key)
}
