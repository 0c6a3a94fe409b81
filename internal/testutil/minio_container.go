package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Credentials used by the shared MinIO test container.
const (
	MinIOAccessKey = "floe"
	MinIOSecretKey = "floesecret"
)

var (
	minioOnce sync.Once
	minioURI  string
	minioErr  error
)

// GetMinIOEndpoint starts a shared MinIO container on first use and
// returns its host:port endpoint. Tests are skipped when Docker is
// unreachable.
func GetMinIOEndpoint(t *testing.T) string {
	t.Helper()
	startMinIOContainer(t)
	if minioErr != nil {
		t.Skipf("minio container unavailable: %v", minioErr)
	}
	return minioURI
}

func startMinIOContainer(t *testing.T) {
	t.Helper()

	// Give generous timeout in CI environments
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	minioOnce.Do(func() {
		minioC, err := testcontainers.Run(
			ctx, "minio/minio:latest",
			testcontainers.WithExposedPorts("9000/tcp"),
			testcontainers.WithEnv(map[string]string{
				"MINIO_ROOT_USER":     MinIOAccessKey,
				"MINIO_ROOT_PASSWORD": MinIOSecretKey,
			}),
			testcontainers.WithCmd("server", "/data"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("9000/tcp"),
				wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
			),
		)

		if err != nil {
			minioErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, minioC)
		})

		endpoint, err := minioC.Endpoint(ctx, "")
		if err != nil {
			_ = minioC.Terminate(context.Background()) // best-effort cleanup
			minioErr = err
			return
		}

		minioURI = endpoint
	})
}
