package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"github.com/jkarhu/floe/internal/testutil"
	"github.com/jkarhu/floe/pkg/api"
)

func newTestMinIOStore(t *testing.T) *MinIOStore {
	t.Helper()

	endpoint := testutil.GetMinIOEndpoint(t)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(testutil.MinIOAccessKey, testutil.MinIOSecretKey, ""),
		Secure: false,
	})
	require.NoError(t, err)

	// Bucket names must be lowercase; one bucket per test keeps the
	// shared container clean.
	bucket := strings.ToLower(strings.ReplaceAll(t.Name(), "_", "-"))
	store, err := NewMinIOStore(context.Background(), client, fmt.Sprintf("floe-%s", bucket))
	require.NoError(t, err)
	return store
}

func TestMinIOStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestMinIOStore(t)

	key := SnapshotKey(api.StrategyCoordinated, "w1", 7)
	if err := store.Put(ctx, key, []byte("snapshot-bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "snapshot-bytes" {
		t.Fatalf("Get returned %q, want %q", got, "snapshot-bytes")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete returned %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
}

func TestMinIOStore_ListOrderAndPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestMinIOStore(t)

	for _, gen := range []uint64{20, 3, 11} {
		key := SnapshotKey(api.StrategyCoordinated, "w1", gen)
		if err := store.Put(ctx, key, []byte{byte(gen)}); err != nil {
			t.Fatalf("Put gen %d failed: %v", gen, err)
		}
	}
	if err := store.Put(ctx, SnapshotKey(api.StrategyCoordinated, "w2", 1), []byte("x")); err != nil {
		t.Fatalf("Put other worker failed: %v", err)
	}

	keys, err := store.List(ctx, WorkerPrefix(api.StrategyCoordinated, "w1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("List returned %d keys, want 3: %v", len(keys), keys)
	}
	want := []uint64{3, 11, 20}
	for i, key := range keys {
		_, gen, err := ParseSnapshotKey(key)
		if err != nil {
			t.Fatalf("ParseSnapshotKey(%q) failed: %v", key, err)
		}
		if gen != want[i] {
			t.Fatalf("position %d: generation %d, want %d", i, gen, want[i])
		}
	}
}
