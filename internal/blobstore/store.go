// Package blobstore abstracts the durable blob storage backend used for
// snapshot data. Writes are atomic from the caller's perspective: no
// partial write is ever visible through Get or List. Keys are unique per
// generation and history is never overwritten in place.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jkarhu/floe/pkg/api"
)

// ErrNotFound is returned by Get for keys that do not exist.
var ErrNotFound = errors.New("blobstore: key not found")

// Store is the contract the checkpointing core consumes.
type Store interface {
	// Put writes data under key. The write is atomic: a concurrent Get or
	// List sees either nothing or the full object, never a prefix.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix in key order. Snapshot
	// keys embed zero-padded generation numbers, so key order for a single
	// worker's prefix is creation order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object stored under key. Deleting a missing key
	// is not an error; compaction passes must be idempotent.
	Delete(ctx context.Context, key string) error
}

// Key layout: <strategy>/<worker>/<generation>.bin with the generation
// zero-padded to 20 digits so lexical order equals numeric order.

const keySuffix = ".bin"

func strategyDir(s api.Strategy) string {
	return strings.ToLower(string(s))
}

// SnapshotKey builds the storage key for one snapshot generation.
func SnapshotKey(strategy api.Strategy, worker api.WorkerID, generation uint64) string {
	return fmt.Sprintf("%s/%s/%020d%s", strategyDir(strategy), worker, generation, keySuffix)
}

// WorkerPrefix builds the List prefix covering all of one worker's
// generations under the given strategy.
func WorkerPrefix(strategy api.Strategy, worker api.WorkerID) string {
	return fmt.Sprintf("%s/%s/", strategyDir(strategy), worker)
}

// ParseSnapshotKey extracts the worker and generation from a key built by
// SnapshotKey.
func ParseSnapshotKey(key string) (api.WorkerID, uint64, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], keySuffix) {
		return "", 0, fmt.Errorf("blobstore: malformed snapshot key %q", key)
	}
	gen, err := strconv.ParseUint(strings.TrimSuffix(parts[2], keySuffix), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: malformed generation in key %q: %w", key, err)
	}
	return api.WorkerID(parts[1]), gen, nil
}
