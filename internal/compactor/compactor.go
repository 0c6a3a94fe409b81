// Package compactor prunes superseded snapshot generations to bound
// storage growth and recovery cost. It runs on its own interval, decoupled
// from snapshot writes: deletion failures are reported and retried on the
// next pass, and never block new snapshots.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkarhu/floe/internal/blobstore"
	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/pkg/api"
)

// Compactor deletes snapshot generations that a newer durable generation
// fully supersedes.
//
// Coordinated strategy: once epoch N is complete, generations strictly
// older than the previous complete epoch become eligible; the most recent
// complete generation before N stays retained as a safety margin against a
// crash during compaction. Uncoordinated strategy: per worker, every
// generation older than that worker's newest is eligible, independent of
// other workers.
type Compactor struct {
	strategy api.Strategy
	manifest manifest.Store
	store    blobstore.Store
	interval time.Duration
	observer api.Observer

	// completed carries epoch-completion signals from the epoch manager
	// so compaction can follow completion promptly instead of waiting a
	// full interval. Optional.
	completed <-chan api.Epoch
}

// Options configures a Compactor.
type Options struct {
	Strategy  api.Strategy
	Manifest  manifest.Store
	Store     blobstore.Store
	Interval  time.Duration
	Completed <-chan api.Epoch
	Observer  api.Observer
}

// New creates a Compactor from opts.
func New(opts Options) *Compactor {
	obs := opts.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Compactor{
		strategy:  opts.Strategy,
		manifest:  opts.Manifest,
		store:     opts.Store,
		interval:  opts.Interval,
		observer:  obs,
		completed: opts.Completed,
	}
}

// Run compacts on every interval tick and on every epoch-completion signal
// until ctx is cancelled. Errors are surfaced through the observer and the
// failed deletions retried next pass.
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.completedCh():
		case <-ctx.Done():
			return
		}

		deleted, err := c.CompactOnce(ctx)
		c.observer.OnCompaction(ctx, deleted, err)
	}
}

func (c *Compactor) completedCh() <-chan api.Epoch {
	if c.completed != nil {
		return c.completed
	}
	// Nil channel blocks forever; the ticker still drives the loop.
	return nil
}

// CompactOnce performs one compaction pass and returns the number of blobs
// deleted. Passes are idempotent: re-running over an already-compacted
// generation set deletes nothing and returns no error.
func (c *Compactor) CompactOnce(ctx context.Context) (int, error) {
	switch c.strategy {
	case api.StrategyCoordinated:
		return c.compactCoordinated(ctx)
	case api.StrategyUncoordinated:
		return c.compactUncoordinated(ctx)
	default:
		return 0, fmt.Errorf("compactor: unknown strategy %q", c.strategy)
	}
}

func (c *Compactor) compactCoordinated(ctx context.Context) (int, error) {
	completed, err := c.manifest.ListCompleted(ctx)
	if err != nil {
		return 0, err
	}
	// Retain the newest complete epoch and the one before it; everything
	// strictly older is superseded.
	if len(completed) <= 2 {
		return 0, nil
	}
	horizon := completed[len(completed)-2]

	var (
		deleted int
		errs    []error
	)
	for _, epoch := range completed[:len(completed)-2] {
		n, err := c.dropEpoch(ctx, epoch)
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Abandoned epochs are never recovery points; drop the ones behind
	// the horizon so the manifest stays bounded.
	abandoned, err := c.manifest.ListAbandoned(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, epoch := range abandoned {
		if epoch >= horizon {
			continue
		}
		n, err := c.dropEpoch(ctx, epoch)
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return deleted, errors.Join(errs...)
}

// dropEpoch deletes one epoch's blobs and then its manifest entry. The
// entry is dropped only once every blob is gone so a partial pass stays
// visible and is retried.
func (c *Compactor) dropEpoch(ctx context.Context, epoch api.Epoch) (int, error) {
	entry, err := c.manifest.GetEntry(ctx, epoch)
	if err != nil {
		if errors.Is(err, manifest.ErrEpochNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var (
		deleted int
		errs    []error
	)
	failed := false
	for _, rec := range entry.Records {
		if err := c.store.Delete(ctx, rec.StorageKey); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rec.StorageKey, err))
			failed = true
			continue
		}
		deleted++
	}
	if !failed {
		if err := c.manifest.DeleteEntry(ctx, epoch); err != nil {
			errs = append(errs, fmt.Errorf("delete manifest entry %d: %w", epoch, err))
		}
	}
	return deleted, errors.Join(errs...)
}

func (c *Compactor) compactUncoordinated(ctx context.Context) (int, error) {
	workers, err := c.manifest.Workers(ctx)
	if err != nil {
		return 0, err
	}

	var (
		deleted int
		errs    []error
	)
	for _, worker := range workers {
		recs, err := c.manifest.ListWorkerRecords(ctx, worker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(recs) <= 1 {
			continue
		}

		// Keep only the newest generation; each older one is fully
		// superseded by it.
		for _, rec := range recs[:len(recs)-1] {
			if err := c.store.Delete(ctx, rec.StorageKey); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", rec.StorageKey, err))
				continue
			}
			deleted++
			if err := c.manifest.DeleteWorkerRecord(ctx, worker, rec.Generation); err != nil {
				errs = append(errs, fmt.Errorf("delete record %s/%d: %w", worker, rec.Generation, err))
			}
		}
	}
	return deleted, errors.Join(errs...)
}

// Horizon reports the oldest retained generation per worker: the
// compaction horizon. For the coordinated strategy this derives from the
// retained complete epochs; for the uncoordinated strategy from each
// worker's remaining records.
func (c *Compactor) Horizon(ctx context.Context) (map[api.WorkerID]uint64, error) {
	horizon := make(map[api.WorkerID]uint64)

	switch c.strategy {
	case api.StrategyCoordinated:
		epochs, err := c.manifest.ListCompleted(ctx)
		if err != nil {
			return nil, err
		}
		if len(epochs) == 0 {
			return horizon, nil
		}
		oldest := epochs[0]
		if len(epochs) > 2 {
			oldest = epochs[len(epochs)-2]
		}
		entry, err := c.manifest.GetEntry(ctx, oldest)
		if err != nil {
			return nil, err
		}
		for id := range entry.Records {
			horizon[id] = uint64(oldest)
		}

	case api.StrategyUncoordinated:
		workers, err := c.manifest.Workers(ctx)
		if err != nil {
			return nil, err
		}
		for _, worker := range workers {
			recs, err := c.manifest.ListWorkerRecords(ctx, worker)
			if err != nil {
				return nil, err
			}
			if len(recs) > 0 {
				horizon[worker] = recs[0].Generation
			}
		}
	}

	return horizon, nil
}
