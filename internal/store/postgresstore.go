package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/router-for-me/CivitaiGallery/internal/config"
)

const defaultVersionTable = "model_versions"

// PostgresStore persists raw model version payloads in a JSONB table.
type PostgresStore struct {
	db  *sql.DB
	cfg config.MetadataStoreConfig
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(ctx context.Context, cfg config.MetadataStoreConfig) (*PostgresStore, error) {
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultVersionTable
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg}, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the schema (when configured) and the version table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, createVersionTableSQL(s.tableName())); err != nil {
		return fmt.Errorf("postgres store: create version table: %w", err)
	}
	return nil
}

// Get loads a raw payload. A missing row is reported as found=false.
func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.tableName())
	var content string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&content)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("postgres store: load version %s: %w", id, err)
	}
	return []byte(content), true, nil
}

// Put upserts a raw payload.
func (s *PostgresStore) Put(ctx context.Context, id string, raw []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.tableName())
	if _, err := s.db.ExecContext(ctx, query, id, string(raw)); err != nil {
		return fmt.Errorf("postgres store: save version %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) tableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.Table)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.Table)
}

func createVersionTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
