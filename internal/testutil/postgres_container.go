package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// GetPostgresDSN starts a shared Postgres container on first use and
// returns a DSN for the test database. Tests are skipped when Docker is
// unreachable.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	startPostgresOnce(t)
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

func startPostgresOnce(t *testing.T) {
	t.Helper()

	pgOnce.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					// Actively verify SQL connectivity with a simple query
					// using a DSN built from the mapped host:port.
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://floe:floe@%s:%s/floe_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "floe",
				"POSTGRES_PASSWORD": "floe",
				"POSTGRES_DB":       "floe_test",
			}),
		)

		if err != nil {
			pgErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, postgresC)
		})

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background()) // best-effort cleanup
			pgErr = err
			return
		}

		pgDSN = fmt.Sprintf("postgres://floe:floe@%s/floe_test?sslmode=disable", endpoint)
	})
}
