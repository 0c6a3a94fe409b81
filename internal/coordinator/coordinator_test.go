package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/pkg/api"
)

func TestCoordinator_CoordinatedRoundViaFacade(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	rec := newBarrierRecorder()

	c := New(Options{
		Strategy:               api.StrategyCoordinated,
		Manifest:               store,
		Broadcast:              rec.broadcast,
		SnapshotFrequency:      time.Minute,
		HeartbeatTimeout:       time.Minute,
		HeartbeatCheckInterval: time.Second,
	})

	c.Register("w1", "addr1")
	c.Register("w2", "addr2")

	epoch, err := c.TriggerEpoch(ctx)
	if err != nil {
		t.Fatalf("TriggerEpoch failed: %v", err)
	}
	for _, w := range []api.WorkerID{"w1", "w2"} {
		if err := c.Ack(ctx, ackFor(w, epoch)); err != nil {
			t.Fatalf("Ack(%s) failed: %v", w, err)
		}
	}

	entry, err := c.Manifest().LatestComplete(ctx)
	if err != nil {
		t.Fatalf("LatestComplete failed: %v", err)
	}
	if entry.Epoch != epoch {
		t.Fatalf("latest complete epoch = %d, want %d", entry.Epoch, epoch)
	}
}

func TestCoordinator_UncoordinatedRejectsEpochOps(t *testing.T) {
	ctx := context.Background()
	c := New(Options{
		Strategy:               api.StrategyUncoordinated,
		Manifest:               manifest.NewMemoryStore(),
		HeartbeatTimeout:       time.Minute,
		HeartbeatCheckInterval: time.Second,
	})

	if _, err := c.TriggerEpoch(ctx); err == nil {
		t.Fatal("TriggerEpoch succeeded under uncoordinated strategy")
	}
	if err := c.Ack(ctx, ackFor("w1", 1)); err == nil {
		t.Fatal("Ack succeeded under uncoordinated strategy")
	}
	if c.Epochs() != nil {
		t.Fatal("uncoordinated coordinator has an epoch manager")
	}

	// Worker-reported records are indexed regardless.
	if err := c.RecordSnapshot(ctx, api.SnapshotRecord{
		WorkerID:   "w1",
		Strategy:   api.StrategyUncoordinated,
		Generation: 1,
		TakenAt:    time.Now().UTC(),
		StorageKey: "uncoordinated/w1/1",
	}); err != nil {
		t.Fatalf("RecordSnapshot failed: %v", err)
	}
	latest, err := c.Manifest().LatestWorkerRecord(ctx, "w1")
	if err != nil {
		t.Fatalf("LatestWorkerRecord failed: %v", err)
	}
	if latest.Generation != 1 {
		t.Fatalf("generation = %d, want 1", latest.Generation)
	}
}

func TestCoordinator_StartStop(t *testing.T) {
	c := New(Options{
		Strategy:               api.StrategyUncoordinated,
		Manifest:               manifest.NewMemoryStore(),
		HeartbeatTimeout:       time.Minute,
		HeartbeatCheckInterval: 10 * time.Millisecond,
	})

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
	c.Stop()
	// Stop after Stop is a no-op.
	c.Stop()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	c.Stop()
}

func TestCoordinator_DeadWorkerCompletesEpoch(t *testing.T) {
	ctx := context.Background()
	store := manifest.NewMemoryStore()
	rec := newBarrierRecorder()

	c := New(Options{
		Strategy:               api.StrategyCoordinated,
		Manifest:               store,
		Broadcast:              rec.broadcast,
		SnapshotFrequency:      time.Minute,
		HeartbeatTimeout:       100 * time.Millisecond,
		HeartbeatCheckInterval: 10 * time.Millisecond,
	})

	clock := newFakeClock()
	c.Liveness().setNow(clock.Now)

	c.Register("w1", "a")
	c.Register("w2", "b")

	epoch, err := c.TriggerEpoch(ctx)
	if err != nil {
		t.Fatalf("TriggerEpoch failed: %v", err)
	}
	if err := c.Ack(ctx, ackFor("w1", epoch)); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	// w2 goes silent past the timeout; the scan marks it DEAD, which
	// shrinks the required set and completes the epoch.
	clock.Advance(time.Second)
	_ = c.Heartbeat("w1")
	c.Liveness().Scan(ctx)

	deadline := time.After(2 * time.Second)
	for {
		entry, err := store.GetEntry(ctx, epoch)
		if err == nil && entry.Status == api.EntryComplete {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("epoch %d never completed after w2 died", epoch)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
