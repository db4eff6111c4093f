// Package postgres provides a Postgres-backed cover URL and ISBN cache.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	CoverTable      string
	ISBNTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Cache implements book.Cache. Writes are upserts, so the last writer wins.
type Cache struct {
	pool   pool
	covers string
	isbns  string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c, err := NewWithPool(p, cfg.CoverTable, cfg.ISBNTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return c, nil
}

// NewWithPool constructs a cache from an existing pool.
func NewWithPool(p pool, coverTable, isbnTable string) (*Cache, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if coverTable == "" {
		coverTable = "cover_urls"
	}
	if isbnTable == "" {
		isbnTable = "isbn_identifiers"
	}
	for _, table := range []string{coverTable, isbnTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Cache{pool: p, covers: coverTable, isbns: isbnTable}, nil
}

// Close releases the pool.
func (c *Cache) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// EnsureSchema creates the cache tables when missing.
func (c *Cache) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	identifier TEXT PRIMARY KEY,
	cover_url TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, c.covers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	isbn TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, c.isbns),
	}
	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure cache schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the cache answers queries.
func (c *Cache) Ping(ctx context.Context) error {
	var one int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping cache: %w", err)
	}
	return nil
}

// CoverURL returns the cached cover URL for identifier.
func (c *Cache) CoverURL(ctx context.Context, identifier string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT cover_url FROM %s WHERE identifier = $1`, c.covers)
	return c.lookup(ctx, query, identifier)
}

// SetCoverURL stores the cover URL for identifier.
func (c *Cache) SetCoverURL(ctx context.Context, identifier, url string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (identifier, cover_url, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (identifier) DO UPDATE SET cover_url = EXCLUDED.cover_url, updated_at = now()`, c.covers)
	if _, err := c.pool.Exec(ctx, query, identifier, url); err != nil {
		return fmt.Errorf("store cover url: %w", err)
	}
	return nil
}

// IdentifierByISBN returns the identifier cached for isbn.
func (c *Cache) IdentifierByISBN(ctx context.Context, isbn string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT identifier FROM %s WHERE isbn = $1`, c.isbns)
	return c.lookup(ctx, query, isbn)
}

// SetIdentifierByISBN stores the identifier for isbn.
func (c *Cache) SetIdentifierByISBN(ctx context.Context, isbn, identifier string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (isbn, identifier, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (isbn) DO UPDATE SET identifier = EXCLUDED.identifier, updated_at = now()`, c.isbns)
	if _, err := c.pool.Exec(ctx, query, isbn, identifier); err != nil {
		return fmt.Errorf("store isbn identifier: %w", err)
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, query, key string) (string, bool, error) {
	var value string
	err := c.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	return value, true, nil
}
