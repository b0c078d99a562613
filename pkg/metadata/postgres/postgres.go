// Package postgres implements metadata.Gateway on PostgreSQL with pgx.
//
// The schema is owned by embedded golang-migrate migrations; Migrate
// applies them and New can run it on start-up.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config contains configuration for the PostgreSQL gateway.
type Config struct {
	// DSN is a libpq-style or URL connection string.
	DSN string `mapstructure:"dsn" validate:"required"`

	// MaxConns caps the pool size (default: pgx default).
	MaxConns int32 `mapstructure:"max_conns" validate:"gte=0"`

	// AutoMigrate applies pending migrations in New.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Gateway is a metadata.Gateway backed by a pgx connection pool.
//
// Thread Safety: Safe for concurrent use.
type Gateway struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.AutoMigrate {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("Metadata: connected to PostgreSQL %s:%d/%s",
		poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port, poolCfg.ConnConfig.Database)

	return &Gateway{pool: pool, now: time.Now}, nil
}

// Migrate applies every pending migration to the database at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to initialise migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Metadata: PostgreSQL schema at version %d (dirty: %t)", version, dirty)
	return nil
}

// migrateURL rewrites a postgres:// URL to the scheme the pgx/v5 migrate
// driver registers.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

// Healthcheck pings the database.
func (g *Gateway) Healthcheck(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

// Close releases the pool.
func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

// timestamp returns the creation time stored for new rows. PostgreSQL
// keeps microseconds, so the returned record matches what is read back.
func (g *Gateway) timestamp() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

var _ metadata.Gateway = (*Gateway)(nil)
