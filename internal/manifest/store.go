// Package manifest persists the durable mapping of epochs and per-worker
// sequences to snapshot locations. It is the coordinator's sole durable
// mutable structure: entries are created PENDING and only ever transition
// to COMPLETE or INCOMPLETE, and snapshot records are never mutated once
// written.
package manifest

import (
	"context"
	"errors"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

var (
	// ErrEpochNotFound is returned when no manifest entry exists for an
	// epoch, or when LatestComplete finds no complete entry at all.
	ErrEpochNotFound = errors.New("manifest: epoch not found")

	// ErrRecordNotFound is returned when a worker has no stored records.
	ErrRecordNotFound = errors.New("manifest: record not found")
)

// Store handles storage of manifest entries (coordinated strategy) and
// per-worker record sequences (uncoordinated strategy).
type Store interface {
	// CreateEntry persists a new PENDING entry for an epoch.
	CreateEntry(ctx context.Context, entry *api.ManifestEntry) error

	// GetEntry returns the entry for an epoch with all its records.
	GetEntry(ctx context.Context, epoch api.Epoch) (*api.ManifestEntry, error)

	// AddRecord attaches one worker's acknowledged record to an epoch.
	AddRecord(ctx context.Context, epoch api.Epoch, rec api.SnapshotRecord) error

	// MarkComplete transitions an entry to COMPLETE. It is called exactly
	// once per completed epoch.
	MarkComplete(ctx context.Context, epoch api.Epoch, at time.Time) error

	// MarkAbandoned transitions an entry to INCOMPLETE. Abandoned epochs
	// are never reused or retried.
	MarkAbandoned(ctx context.Context, epoch api.Epoch) error

	// LatestComplete returns the COMPLETE entry with the highest epoch,
	// or ErrEpochNotFound when none exists.
	LatestComplete(ctx context.Context) (*api.ManifestEntry, error)

	// ListCompleted returns the epochs of all COMPLETE entries in
	// ascending order.
	ListCompleted(ctx context.Context) ([]api.Epoch, error)

	// ListAbandoned returns the epochs of all INCOMPLETE entries in
	// ascending order. Compaction prunes them once they fall behind the
	// retained horizon.
	ListAbandoned(ctx context.Context) ([]api.Epoch, error)

	// DeleteEntry removes an entry and its records after compaction has
	// deleted the underlying blobs. Deleting a missing entry is not an
	// error.
	DeleteEntry(ctx context.Context, epoch api.Epoch) error

	// SaveWorkerRecord stores one uncoordinated, locally-sequenced record.
	SaveWorkerRecord(ctx context.Context, rec api.SnapshotRecord) error

	// LatestWorkerRecord returns the record with the highest local
	// sequence for a worker, or ErrRecordNotFound.
	LatestWorkerRecord(ctx context.Context, worker api.WorkerID) (*api.SnapshotRecord, error)

	// ListWorkerRecords returns all of a worker's records in ascending
	// sequence order.
	ListWorkerRecords(ctx context.Context, worker api.WorkerID) ([]api.SnapshotRecord, error)

	// DeleteWorkerRecord removes one superseded record. Deleting a
	// missing record is not an error.
	DeleteWorkerRecord(ctx context.Context, worker api.WorkerID, generation uint64) error

	// Workers returns every worker that has at least one uncoordinated
	// record.
	Workers(ctx context.Context) ([]api.WorkerID, error)
}
