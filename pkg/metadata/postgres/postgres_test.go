package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/metadata"
	metadatatesting "github.com/marmos91/dittodrive/pkg/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a disposable PostgreSQL, applies the migrations and
// returns a connected gateway.
func setupPostgres(t *testing.T) *Gateway {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("dittodrive_test"),
		tcpostgres.WithUsername("dittodrive"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to stop postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gw, err := New(ctx, Config{DSN: dsn, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestPostgresGateway(t *testing.T) {
	gw := setupPostgres(t)

	suite := &metadatatesting.GatewayTestSuite{
		NewGateway: func(t *testing.T) metadata.Gateway {
			_, err := gw.pool.Exec(context.Background(), `TRUNCATE files, folders`)
			require.NoError(t, err)
			return gw
		},
	}
	suite.Run(t)
}

func TestMigrateIsIdempotent(t *testing.T) {
	gw := setupPostgres(t)

	dsn := gw.pool.Config().ConnString()
	assert.NoError(t, Migrate(dsn))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db", migrateURL("postgres://u:p@h:5432/db"))
	assert.Equal(t, "pgx5://u:p@h/db?sslmode=disable", migrateURL("postgresql://u:p@h/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestTimestampIsTruncatedToMicroseconds(t *testing.T) {
	g := &Gateway{now: func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("X", 3600))
	}}

	got := g.timestamp()

	assert.Equal(t, 123456000, got.Nanosecond())
	assert.Equal(t, time.UTC, got.Location())
}
