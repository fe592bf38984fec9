// Package pgtest starts a throwaway Postgres for repository tests. Tests
// using it are skipped under -short or when Docker is not available.
package pgtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
	"github.com/niceverygood/maria-reservation-sub000/migrations"
)

const image = "postgres:16-alpine"

// Start returns a pool on a fresh, fully migrated database. The container
// is removed when the test ends.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in -short mode")
	}
	ctx := context.Background()

	container, err := startContainer(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.Files).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func startContainer(ctx context.Context) (c *postgres.PostgresContainer, err error) {
	// testcontainers panics when no Docker daemon can be found.
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase("clinic"),
		postgres.WithUsername("clinic"),
		postgres.WithPassword("clinic"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
}

// Truncate empties every table between subtests.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE daily_slot_summary, appointment, schedule_exception, weekly_template, doctor CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
