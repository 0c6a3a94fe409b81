package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/pkg/api"
)

// Phase is the epoch manager's state machine position.
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhaseSnapshotRequested Phase = "SNAPSHOT_REQUESTED"
	PhaseCollectingAcks    Phase = "COLLECTING_ACKS"
	PhaseComplete          Phase = "COMPLETE"
)

// BarrierFunc broadcasts a snapshot barrier for an epoch to the given
// workers. The transport is external; implementations must not block the
// caller for long.
type BarrierFunc func(ctx context.Context, epoch api.Epoch, workers []api.WorkerID)

// EpochManager assigns monotonically increasing epochs, broadcasts
// snapshot barriers, collects acknowledgments, and declares completion.
// Only one epoch is ever in flight: a new one starts only after the
// previous reaches COMPLETE (or is abandoned), trading latency for
// protocol simplicity.
type EpochManager struct {
	mu sync.Mutex

	epoch    api.Epoch
	phase    Phase
	required map[api.WorkerID]struct{}
	acked    map[api.WorkerID]struct{}
	started  time.Time

	manifest  manifest.Store
	broadcast BarrierFunc
	alive     func() []api.WorkerID
	period    time.Duration
	observer  api.Observer
	completed chan api.Epoch
	now       func() time.Time
}

// NewEpochManager creates an epoch manager. alive supplies the set of
// workers required to acknowledge a new epoch; broadcast delivers the
// barrier to them.
func NewEpochManager(store manifest.Store, period time.Duration, alive func() []api.WorkerID, broadcast BarrierFunc, observer api.Observer) *EpochManager {
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &EpochManager{
		phase:     PhaseIdle,
		manifest:  store,
		broadcast: broadcast,
		alive:     alive,
		period:    period,
		observer:  observer,
		completed: make(chan api.Epoch, 16),
		now:       time.Now,
	}
}

// StartEpoch begins the next snapshot round. It is a no-op error if the
// previous epoch is still collecting acknowledgments.
func (em *EpochManager) StartEpoch(ctx context.Context) (api.Epoch, error) {
	em.mu.Lock()

	if em.phase == PhaseSnapshotRequested || em.phase == PhaseCollectingAcks {
		epoch := em.epoch
		em.mu.Unlock()
		return 0, fmt.Errorf("epoch %d still in flight: %w", epoch, api.ErrEpochClosed)
	}

	required := em.alive()
	if len(required) == 0 {
		em.mu.Unlock()
		return 0, fmt.Errorf("no alive workers to snapshot")
	}

	em.epoch++
	epoch := em.epoch
	em.phase = PhaseSnapshotRequested
	em.started = em.now()
	em.required = make(map[api.WorkerID]struct{}, len(required))
	for _, id := range required {
		em.required[id] = struct{}{}
	}
	em.acked = make(map[api.WorkerID]struct{}, len(required))
	em.mu.Unlock()

	entry := &api.ManifestEntry{
		Epoch:     epoch,
		Status:    api.EntryPending,
		Records:   make(map[api.WorkerID]api.SnapshotRecord),
		CreatedAt: em.now(),
	}
	if err := em.manifest.CreateEntry(ctx, entry); err != nil {
		// Nothing was broadcast yet; roll the state machine back so the
		// next tick can retry with a fresh epoch number.
		em.mu.Lock()
		em.phase = PhaseIdle
		em.mu.Unlock()
		return 0, fmt.Errorf("create manifest entry for epoch %d: %w", epoch, err)
	}

	em.observer.OnEpochStarted(ctx, epoch, len(required))
	em.broadcast(ctx, epoch, required)

	em.mu.Lock()
	if em.phase == PhaseSnapshotRequested && em.epoch == epoch {
		em.phase = PhaseCollectingAcks
	}
	em.mu.Unlock()

	// Acks may have raced the broadcast; settle completion now.
	return epoch, em.maybeComplete(ctx)
}

// Ack records one worker's acknowledged snapshot for the epoch. Acks for
// past or not-yet-started epochs are rejected with api.ErrEpochClosed.
func (em *EpochManager) Ack(ctx context.Context, rec api.SnapshotRecord) error {
	epoch := api.Epoch(rec.Generation)

	em.mu.Lock()
	if epoch != em.epoch || (em.phase != PhaseCollectingAcks && em.phase != PhaseSnapshotRequested) {
		em.mu.Unlock()
		return fmt.Errorf("ack for epoch %d: %w", epoch, api.ErrEpochClosed)
	}
	em.mu.Unlock()

	// The record must be durable before the ack counts: the moment this
	// worker enters the acked set, a concurrent final ack may publish
	// the epoch as COMPLETE, and a COMPLETE entry carries every required
	// record.
	if err := em.manifest.AddRecord(ctx, epoch, rec); err != nil {
		return fmt.Errorf("record ack for epoch %d: %w", epoch, err)
	}

	em.mu.Lock()
	if epoch != em.epoch || (em.phase != PhaseCollectingAcks && em.phase != PhaseSnapshotRequested) {
		em.mu.Unlock()
		return fmt.Errorf("ack for epoch %d: %w", epoch, api.ErrEpochClosed)
	}
	em.acked[rec.WorkerID] = struct{}{}
	em.mu.Unlock()

	return em.maybeComplete(ctx)
}

// WorkerDead removes a worker from the in-flight epoch's required-ack set.
// The epoch completes if the remaining requirements are already satisfied,
// or is abandoned as INCOMPLETE when no acknowledgment arrived and nobody
// is left to send one.
func (em *EpochManager) WorkerDead(ctx context.Context, id api.WorkerID) error {
	em.mu.Lock()
	if em.phase != PhaseCollectingAcks && em.phase != PhaseSnapshotRequested {
		em.mu.Unlock()
		return nil
	}
	delete(em.required, id)

	if len(em.required) == 0 && len(em.acked) == 0 {
		epoch := em.epoch
		em.phase = PhaseIdle
		em.mu.Unlock()

		if err := em.manifest.MarkAbandoned(ctx, epoch); err != nil {
			return fmt.Errorf("abandon epoch %d: %w", epoch, err)
		}
		em.observer.OnEpochAbandoned(ctx, epoch)
		return nil
	}
	em.mu.Unlock()

	return em.maybeComplete(ctx)
}

// maybeComplete declares the in-flight epoch COMPLETE when the
// acknowledged set covers the required set. Completion happens exactly
// once per epoch.
func (em *EpochManager) maybeComplete(ctx context.Context) error {
	em.mu.Lock()
	if em.phase != PhaseCollectingAcks {
		em.mu.Unlock()
		return nil
	}
	for id := range em.required {
		if _, ok := em.acked[id]; !ok {
			em.mu.Unlock()
			return nil
		}
	}
	epoch := em.epoch
	em.phase = PhaseComplete
	em.mu.Unlock()

	completedAt := em.now()
	if err := em.manifest.MarkComplete(ctx, epoch, completedAt); err != nil {
		return fmt.Errorf("complete epoch %d: %w", epoch, err)
	}

	entry, err := em.manifest.GetEntry(ctx, epoch)
	if err != nil {
		return fmt.Errorf("load completed epoch %d: %w", epoch, err)
	}
	em.observer.OnEpochCompleted(ctx, entry)

	// Signal the compactor; drop the signal rather than block if it has
	// fallen behind, the next pass will observe the manifest anyway.
	select {
	case em.completed <- epoch:
	default:
	}
	return nil
}

// Run starts a new epoch every period until ctx is cancelled. Ticks that
// land while an epoch is still in flight are skipped.
func (em *EpochManager) Run(ctx context.Context) {
	ticker := time.NewTicker(em.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			em.mu.Lock()
			inFlight := em.phase == PhaseSnapshotRequested || em.phase == PhaseCollectingAcks
			em.mu.Unlock()
			if inFlight {
				continue
			}
			if _, err := em.StartEpoch(ctx); err != nil {
				continue
			}
		case <-ctx.Done():
			return
		}
	}
}

// Completed exposes completion signals for the compactor.
func (em *EpochManager) Completed() <-chan api.Epoch {
	return em.completed
}

// CurrentEpoch returns the highest epoch assigned so far.
func (em *EpochManager) CurrentEpoch() api.Epoch {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.epoch
}

// CurrentPhase returns the state machine position.
func (em *EpochManager) CurrentPhase() Phase {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.phase
}

// StalledFor reports how long the in-flight epoch has been waiting for
// acknowledgments, or zero when no epoch is in flight. A stuck epoch (ack
// missing, worker not yet DEAD) is an accepted bounded-liveness risk; it is
// surfaced here for operators rather than auto-resolved.
func (em *EpochManager) StalledFor() time.Duration {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.phase != PhaseCollectingAcks && em.phase != PhaseSnapshotRequested {
		return 0
	}
	return em.now().Sub(em.started)
}
