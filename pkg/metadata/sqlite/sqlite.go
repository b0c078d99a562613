// Package sqlite implements metadata.Gateway on an embedded SQLite database
// through mattn/go-sqlite3.
//
// Creation times are stored as INTEGER unix microseconds so ordering and
// round-tripping match the PostgreSQL gateway.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metadata"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config contains configuration for the SQLite gateway.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string `mapstructure:"path" validate:"required"`

	// AutoMigrate applies pending migrations in New.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Gateway is a metadata.Gateway backed by a single SQLite file.
//
// Thread Safety:
// The pool is limited to one connection, which serializes writers and makes
// multi-statement transactions safe without busy retries.
type Gateway struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at cfg.Path.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(cfg.Path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	logger.Info("Metadata: opened SQLite database at %s", cfg.Path)
	return &Gateway{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

// Migrate applies every pending migration to the database file at path.
func Migrate(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return fmt.Errorf("failed to initialise migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Metadata: SQLite schema at version %d (dirty: %t)", version, dirty)
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (g *Gateway) Healthcheck(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite unavailable: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (g *Gateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (g *Gateway) timestamp() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// placeholders returns "?, ?, ..." with n markers and ids as query args.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	marks := make([]byte, 0, len(ids)*3)
	for i, id := range ids {
		if i > 0 {
			marks = append(marks, ", "...)
		}
		marks = append(marks, '?')
		args[i] = id
	}
	return string(marks), args
}

var _ metadata.Gateway = (*Gateway)(nil)
