// Package recovery selects the state to restart from after a failure and
// replays unconsumed input past the chosen snapshot.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jkarhu/floe/internal/blobstore"
	"github.com/jkarhu/floe/internal/eventlog"
	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/pkg/api"
)

// Manager picks recovery points out of the manifest and verifies that the
// snapshot blobs they point at are intact before handing them out.
type Manager struct {
	strategy api.Strategy
	manifest manifest.Store
	store    blobstore.Store
}

// NewManager creates a recovery Manager for the given strategy.
func NewManager(strategy api.Strategy, m manifest.Store, s blobstore.Store) *Manager {
	return &Manager{strategy: strategy, manifest: m, store: s}
}

// SelectRecoveryPoint returns the point the system must restart from.
//
// Coordinated strategy: the highest complete epoch; every worker restores
// from that epoch's records regardless of newer per-worker state. There is
// no partial fallback: if no complete epoch exists the error wraps
// api.ErrNoRecoveryPoint and the caller must treat recovery as impossible.
//
// Uncoordinated strategy: each worker's own newest record, independently
// of every other worker. Workers without any record are absent from the
// result; a deployment with no records at all is ErrNoRecoveryPoint.
func (m *Manager) SelectRecoveryPoint(ctx context.Context) (*api.RecoveryPoint, error) {
	switch m.strategy {
	case api.StrategyCoordinated:
		return m.selectCoordinated(ctx)
	case api.StrategyUncoordinated:
		return m.selectUncoordinated(ctx)
	default:
		return nil, fmt.Errorf("recovery: unknown strategy %q", m.strategy)
	}
}

func (m *Manager) selectCoordinated(ctx context.Context) (*api.RecoveryPoint, error) {
	entry, err := m.manifest.LatestComplete(ctx)
	if err != nil {
		if errors.Is(err, manifest.ErrEpochNotFound) {
			return nil, fmt.Errorf("no complete epoch in manifest: %w", api.ErrNoRecoveryPoint)
		}
		return nil, err
	}

	for id, rec := range entry.Records {
		if err := m.verify(ctx, rec); err != nil {
			return nil, fmt.Errorf("epoch %d worker %s: %w", entry.Epoch, id, err)
		}
	}

	records := make(map[api.WorkerID]api.SnapshotRecord, len(entry.Records))
	for id, rec := range entry.Records {
		records[id] = rec
	}
	return &api.RecoveryPoint{
		Strategy: api.StrategyCoordinated,
		Epoch:    entry.Epoch,
		Records:  records,
	}, nil
}

func (m *Manager) selectUncoordinated(ctx context.Context) (*api.RecoveryPoint, error) {
	workers, err := m.manifest.Workers(ctx)
	if err != nil {
		return nil, err
	}

	records := make(map[api.WorkerID]api.SnapshotRecord)
	for _, worker := range workers {
		rec, err := m.manifest.LatestWorkerRecord(ctx, worker)
		if err != nil {
			if errors.Is(err, manifest.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		if err := m.verify(ctx, *rec); err != nil {
			return nil, fmt.Errorf("worker %s generation %d: %w", worker, rec.Generation, err)
		}
		records[worker] = *rec
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no worker records in manifest: %w", api.ErrNoRecoveryPoint)
	}
	return &api.RecoveryPoint{
		Strategy: api.StrategyUncoordinated,
		Records:  records,
	}, nil
}

// verify fetches the blob behind rec and checks it against the recorded
// checksum. A manifest record whose blob is missing or corrupt makes the
// recovery point unusable.
func (m *Manager) verify(ctx context.Context, rec api.SnapshotRecord) error {
	data, err := m.store.Get(ctx, rec.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch snapshot %s: %w", rec.StorageKey, err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != rec.Checksum {
		return fmt.Errorf("snapshot %s: checksum mismatch", rec.StorageKey)
	}
	return nil
}

// Replay streams every event at or past the worker's recorded input
// offsets to fn, partition by partition. Offsets in rec mark the next
// unconsumed position, so replay starts exactly there.
func Replay(ctx context.Context, log eventlog.Log, rec api.SnapshotRecord, fn func(eventlog.Event) error) error {
	for partition, offset := range rec.InputOffsets {
		events, err := log.ReplayFrom(ctx, partition, offset)
		if err != nil {
			return fmt.Errorf("replay partition %s from %d: %w", partition, offset, err)
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
