// Package postgres provides Postgres-backed persistence for contact
// submissions.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"biosite/internal/contact"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ContactStoreConfig controls the Postgres connection pool used for contact
// rows.
type ContactStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// ContactStore writes contact submissions into Postgres and implements
// contact.Sink.
type ContactStore struct {
	pool  querier
	table string
}

// StoredContact is one persisted submission row.
type StoredContact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewContactStore creates a Postgres-backed ContactStore using the provided
// config.
func NewContactStore(ctx context.Context, cfg ContactStoreConfig) (*ContactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "contacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &ContactStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewContactStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewContactStoreWithPool(pool querier, table string) (*ContactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "contacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ContactStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ContactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save inserts a contact row and returns its generated ID.
func (s *ContactStore) Save(ctx context.Context, record contact.Record) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("contact store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	name,
	email,
	ip_address,
	user_agent,
	created_at
) VALUES (
	$1,$2,$3,$4,$5
) RETURNING id`, s.table)

	var id int64
	err := s.pool.QueryRow(ctx, query,
		record.Name,
		record.Email,
		nullable(record.IPAddress),
		nullable(record.UserAgent),
		record.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert contact: %w", err)
	}
	return id, nil
}

// List returns stored submissions, newest first.
func (s *ContactStore) List(ctx context.Context) ([]StoredContact, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("contact store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, name, email, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
FROM %s
ORDER BY created_at DESC`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []StoredContact
	for rows.Next() {
		var c StoredContact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.IPAddress, &c.UserAgent, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
