package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/pkg/api"
)

// Options configures a Coordinator.
type Options struct {
	// Strategy selects the checkpointing protocol. Uncoordinated
	// coordinators never run the epoch loop; they only track liveness and
	// index worker-reported records.
	Strategy api.Strategy

	// Manifest is the durable manifest store.
	Manifest manifest.Store

	// Broadcast delivers snapshot barriers to workers (coordinated only).
	Broadcast BarrierFunc

	// SnapshotFrequency is the epoch period (coordinated only).
	SnapshotFrequency time.Duration

	// HeartbeatTimeout is how long a worker may stay silent before DEAD.
	HeartbeatTimeout time.Duration

	// HeartbeatCheckInterval is how often the liveness table is scanned.
	HeartbeatCheckInterval time.Duration

	Observer api.Observer
}

// Coordinator owns the liveness table and, under the coordinated strategy,
// the epoch state machine. It is the single writer of both; every other
// component reads stable, already-completed views.
type Coordinator struct {
	strategy api.Strategy
	liveness *Monitor
	epochs   *EpochManager
	manifest manifest.Store
	observer api.Observer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Coordinator from opts. For the coordinated strategy
// opts.Broadcast must be set.
func New(opts Options) *Coordinator {
	obs := opts.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}

	c := &Coordinator{
		strategy: opts.Strategy,
		liveness: NewMonitor(opts.HeartbeatTimeout, opts.HeartbeatCheckInterval, obs),
		manifest: opts.Manifest,
		observer: obs,
	}

	if opts.Strategy == api.StrategyCoordinated {
		c.epochs = NewEpochManager(opts.Manifest, opts.SnapshotFrequency, c.liveness.Alive, opts.Broadcast, obs)
		c.liveness.OnDead(func(id api.WorkerID) {
			// Detach from the scan loop so a slow manifest write never
			// delays liveness detection.
			go func() {
				_ = c.epochs.WorkerDead(context.Background(), id)
			}()
		})
	}

	return c
}

// Start launches the background loops: the liveness scan, and the epoch
// timer under the coordinated strategy. It returns an error if the
// coordinator is already running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("coordinator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.liveness.Run(ctx)
	}()

	if c.epochs != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.epochs.Run(ctx)
		}()
	}

	return nil
}

// Stop cancels the background loops and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}

// Register adds a worker to the liveness table (or revives it after a
// restart).
func (c *Coordinator) Register(id api.WorkerID, addr string) {
	c.liveness.Register(id, addr)
}

// Heartbeat records a worker liveness ping.
func (c *Coordinator) Heartbeat(id api.WorkerID) error {
	return c.liveness.Heartbeat(id)
}

// Ack records a worker's barrier acknowledgment for the in-flight epoch
// (coordinated strategy only).
func (c *Coordinator) Ack(ctx context.Context, rec api.SnapshotRecord) error {
	if c.epochs == nil {
		return errors.New("coordinator runs the uncoordinated strategy; no epochs to ack")
	}
	return c.epochs.Ack(ctx, rec)
}

// RecordSnapshot indexes an uncoordinated worker's completed snapshot. The
// notification is advisory: workers never block on it, and recovery works
// from the manifest regardless of when it lands.
func (c *Coordinator) RecordSnapshot(ctx context.Context, rec api.SnapshotRecord) error {
	return c.manifest.SaveWorkerRecord(ctx, rec)
}

// TriggerEpoch starts a snapshot round immediately instead of waiting for
// the timer (coordinated strategy only).
func (c *Coordinator) TriggerEpoch(ctx context.Context) (api.Epoch, error) {
	if c.epochs == nil {
		return 0, errors.New("coordinator runs the uncoordinated strategy; no epochs")
	}
	return c.epochs.StartEpoch(ctx)
}

// Liveness returns the monitor for status queries.
func (c *Coordinator) Liveness() *Monitor {
	return c.liveness
}

// Epochs returns the epoch manager, or nil under the uncoordinated
// strategy.
func (c *Coordinator) Epochs() *EpochManager {
	return c.epochs
}

// Manifest returns the durable manifest store.
func (c *Coordinator) Manifest() manifest.Store {
	return c.manifest
}
