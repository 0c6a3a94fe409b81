package floe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jkarhu/floe/internal/blobstore"
	"github.com/jkarhu/floe/internal/compactor"
	"github.com/jkarhu/floe/internal/coordinator"
	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/internal/recovery"
	"github.com/jkarhu/floe/pkg/api"
	"github.com/jkarhu/floe/pkg/config"
	"github.com/jkarhu/floe/pkg/worker"
)

// LocalClusterConfig configures a LocalCluster.
type LocalClusterConfig struct {
	// Cluster holds the checkpointing settings. Zero value uses
	// config.Default().
	Cluster config.Config

	// Workers is the number of worker engines to run. Zero means one.
	Workers int

	// WorkerIDs optionally fixes the worker identifiers. When shorter
	// than Workers the remainder get generated IDs.
	WorkerIDs []WorkerID

	// Source builds the state source for each worker. Required.
	Source func(id WorkerID) worker.StateSource

	Observer Observer
}

// LocalCluster bundles a coordinator, an in-memory blob store and
// manifest, a compactor, and a set of worker snapshot engines into a
// single-process deployment for development, tests, and demos.
//
// Typical usage:
//
//	cluster, err := floe.NewLocalCluster(floe.LocalClusterConfig{
//		Workers: 3,
//		Source:  func(id floe.WorkerID) worker.StateSource { ... },
//	})
//	if err != nil { ... }
//	_ = cluster.Start(ctx)
//	...
//	cluster.Stop()
type LocalCluster struct {
	// Coordinator owns liveness and, in coordinated mode, epochs.
	Coordinator *coordinator.Coordinator

	// Blobs is the in-memory snapshot blob store shared by all workers.
	Blobs *blobstore.MemoryStore

	// Manifest is the in-memory snapshot manifest.
	Manifest *manifest.MemoryStore

	// Compactor prunes superseded generations in the background.
	Compactor *compactor.Compactor

	// Workers holds the per-worker snapshot engines, keyed by ID.
	Workers map[WorkerID]*worker.Engine

	strategy api.Strategy

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalCluster wires the full subsystem in process: coordinator,
// stores, compactor, and cfg.Workers worker engines. Barriers, acks, and
// heartbeats travel over direct method calls instead of a transport.
func NewLocalCluster(cfg LocalClusterConfig) (*LocalCluster, error) {
	if cfg.Source == nil {
		return nil, errors.New("floe: LocalClusterConfig.Source is required")
	}
	cluster := cfg.Cluster
	if cluster == (config.Config{}) {
		cluster = config.Default()
	}
	if err := cluster.Validate(); err != nil {
		return nil, err
	}

	n := cfg.Workers
	if n <= 0 {
		n = 1
	}

	blobs := blobstore.NewMemoryStore()
	mstore := manifest.NewMemoryStore()

	lc := &LocalCluster{
		Blobs:    blobs,
		Manifest: mstore,
		Workers:  make(map[WorkerID]*worker.Engine, n),
		strategy: cluster.Strategy,
	}

	// The barrier fans out to each addressed worker in its own goroutine
	// so one slow serialization never stalls the rest of the round.
	broadcast := func(ctx context.Context, epoch api.Epoch, workers []api.WorkerID) {
		for _, id := range workers {
			eng, ok := lc.Workers[id]
			if !ok {
				continue
			}
			go func() {
				_, _ = eng.TakeSnapshot(ctx, api.Trigger{Kind: api.TriggerEpoch, Epoch: epoch})
			}()
		}
	}

	coord := coordinator.New(coordinator.Options{
		Strategy:               cluster.Strategy,
		Manifest:               mstore,
		Broadcast:              broadcast,
		SnapshotFrequency:      cluster.SnapshotFrequency,
		HeartbeatTimeout:       cluster.HeartbeatTimeout,
		HeartbeatCheckInterval: cluster.HeartbeatCheckInterval,
		Observer:               cfg.Observer,
	})
	lc.Coordinator = coord

	var completed <-chan api.Epoch
	if epochs := coord.Epochs(); epochs != nil {
		completed = epochs.Completed()
	}
	lc.Compactor = compactor.New(compactor.Options{
		Strategy:  cluster.Strategy,
		Manifest:  mstore,
		Store:     blobs,
		Interval:  cluster.CompactionInterval,
		Completed: completed,
		Observer:  cfg.Observer,
	})

	onRecord := func(ctx context.Context, rec api.SnapshotRecord) error {
		if cluster.Strategy == api.StrategyCoordinated {
			return coord.Ack(ctx, rec)
		}
		return coord.RecordSnapshot(ctx, rec)
	}

	for i := 0; i < n; i++ {
		id := workerID(cfg.WorkerIDs, i)
		eng := worker.New(worker.Config{
			ID:                id,
			Strategy:          cluster.Strategy,
			Source:            cfg.Source(id),
			Store:             blobs,
			SnapshotInterval:  cluster.SnapshotFrequency,
			HeartbeatInterval: cluster.HeartbeatCheckInterval,
			SendHeartbeat: func(ctx context.Context, id api.WorkerID) error {
				return coord.Heartbeat(id)
			},
			OnRecord: onRecord,
			Observer: cfg.Observer,
		})
		lc.Workers[id] = eng
		coord.Register(id, "local")
	}

	return lc, nil
}

func workerID(fixed []WorkerID, i int) WorkerID {
	if i < len(fixed) && fixed[i] != "" {
		return fixed[i]
	}
	return WorkerID(fmt.Sprintf("worker-%s", uuid.NewString()))
}

// Start launches the coordinator loops, the compactor, and every worker
// engine. It returns an error if the cluster is already running.
func (lc *LocalCluster) Start(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.running {
		return errors.New("floe: LocalCluster already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	if err := lc.Coordinator.Start(ctx); err != nil {
		cancel()
		return err
	}

	lc.cancel = cancel
	lc.running = true

	lc.wg.Add(1)
	go func() {
		defer lc.wg.Done()
		lc.Compactor.Run(ctx)
	}()

	for _, eng := range lc.Workers {
		lc.wg.Add(1)
		go func() {
			defer lc.wg.Done()
			eng.Run(ctx)
		}()
	}

	return nil
}

// Stop cancels every loop started by Start and waits for them to exit.
func (lc *LocalCluster) Stop() {
	lc.mu.Lock()
	if !lc.running {
		lc.mu.Unlock()
		return
	}
	cancel := lc.cancel
	lc.running = false
	lc.cancel = nil
	lc.mu.Unlock()

	cancel()
	lc.Coordinator.Stop()
	lc.wg.Wait()
}

// TriggerSnapshot forces a snapshot round immediately. In coordinated mode
// it starts a new epoch; in uncoordinated mode every worker takes a local
// snapshot.
func (lc *LocalCluster) TriggerSnapshot(ctx context.Context) error {
	if lc.strategy == api.StrategyCoordinated {
		_, err := lc.Coordinator.TriggerEpoch(ctx)
		return err
	}
	var errs []error
	for _, eng := range lc.Workers {
		if _, err := eng.TakeSnapshot(ctx, api.Trigger{Kind: api.TriggerLocalTimer}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecoveryPoint selects the point the cluster would restart from if it
// failed now.
func (lc *LocalCluster) RecoveryPoint(ctx context.Context) (*api.RecoveryPoint, error) {
	return recovery.NewManager(lc.strategy, lc.Manifest, lc.Blobs).SelectRecoveryPoint(ctx)
}
