package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// runStoreTests exercises the full Store contract against one backend.
// Each backend's test file supplies a fresh, empty store per subtest.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	rec := func(worker api.WorkerID, strategy api.Strategy, gen uint64) api.SnapshotRecord {
		return api.SnapshotRecord{
			WorkerID:   worker,
			Strategy:   strategy,
			Generation: gen,
			TakenAt:    time.Unix(1700000000, 0).UTC(),
			StorageKey: "key-" + string(worker),
			Size:       128,
			Checksum:   "abc123",
			InputOffsets: map[string]int64{
				"partition-0": int64(gen) * 10,
			},
		}
	}

	t.Run("EntryLifecycle", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		created := time.Unix(1700000000, 0).UTC()
		entry := &api.ManifestEntry{Epoch: 1, Status: api.EntryPending, CreatedAt: created}
		if err := store.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry failed: %v", err)
		}

		got, err := store.GetEntry(ctx, 1)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if got.Status != api.EntryPending {
			t.Fatalf("new entry status = %v, want PENDING", got.Status)
		}
		if len(got.Records) != 0 {
			t.Fatalf("new entry has %d records, want 0", len(got.Records))
		}

		if err := store.AddRecord(ctx, 1, rec("w1", api.StrategyCoordinated, 1)); err != nil {
			t.Fatalf("AddRecord failed: %v", err)
		}

		completedAt := created.Add(2 * time.Second)
		if err := store.MarkComplete(ctx, 1, completedAt); err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}

		got, err = store.GetEntry(ctx, 1)
		if err != nil {
			t.Fatalf("GetEntry after complete failed: %v", err)
		}
		if got.Status != api.EntryComplete {
			t.Fatalf("status = %v, want COMPLETE", got.Status)
		}
		if !got.CompletedAt.Equal(completedAt) {
			t.Fatalf("CompletedAt = %v, want %v", got.CompletedAt, completedAt)
		}
		r, ok := got.Records["w1"]
		if !ok {
			t.Fatal("record for w1 missing")
		}
		if r.InputOffsets["partition-0"] != 10 {
			t.Fatalf("offsets not preserved: %v", r.InputOffsets)
		}
	})

	t.Run("GetEntryUnknownEpoch", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetEntry(context.Background(), 99); !errors.Is(err, ErrEpochNotFound) {
			t.Fatalf("GetEntry(99) = %v, want ErrEpochNotFound", err)
		}
	})

	t.Run("MarkAbandoned", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		entry := &api.ManifestEntry{Epoch: 5, Status: api.EntryPending, CreatedAt: time.Now().UTC()}
		if err := store.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry failed: %v", err)
		}
		if err := store.MarkAbandoned(ctx, 5); err != nil {
			t.Fatalf("MarkAbandoned failed: %v", err)
		}

		got, err := store.GetEntry(ctx, 5)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if got.Status != api.EntryAbandoned {
			t.Fatalf("status = %v, want INCOMPLETE", got.Status)
		}

		// Abandoned entries never count as recovery candidates.
		if _, err := store.LatestComplete(ctx); !errors.Is(err, ErrEpochNotFound) {
			t.Fatalf("LatestComplete = %v, want ErrEpochNotFound", err)
		}
	})

	t.Run("LatestCompleteAndListCompleted", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, epoch := range []api.Epoch{2, 4, 3} {
			entry := &api.ManifestEntry{Epoch: epoch, Status: api.EntryPending, CreatedAt: time.Now().UTC()}
			if err := store.CreateEntry(ctx, entry); err != nil {
				t.Fatalf("CreateEntry(%d) failed: %v", epoch, err)
			}
			if epoch != 3 {
				if err := store.MarkComplete(ctx, epoch, time.Now().UTC()); err != nil {
					t.Fatalf("MarkComplete(%d) failed: %v", epoch, err)
				}
			}
		}

		latest, err := store.LatestComplete(ctx)
		if err != nil {
			t.Fatalf("LatestComplete failed: %v", err)
		}
		if latest.Epoch != 4 {
			t.Fatalf("LatestComplete epoch = %d, want 4", latest.Epoch)
		}

		completed, err := store.ListCompleted(ctx)
		if err != nil {
			t.Fatalf("ListCompleted failed: %v", err)
		}
		if len(completed) != 2 || completed[0] != 2 || completed[1] != 4 {
			t.Fatalf("ListCompleted = %v, want [2 4]", completed)
		}
	})

	t.Run("ListAbandoned", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, epoch := range []api.Epoch{5, 2, 3} {
			entry := &api.ManifestEntry{Epoch: epoch, Status: api.EntryPending, CreatedAt: time.Now().UTC()}
			if err := store.CreateEntry(ctx, entry); err != nil {
				t.Fatalf("CreateEntry(%d) failed: %v", epoch, err)
			}
		}
		for _, epoch := range []api.Epoch{5, 2} {
			if err := store.MarkAbandoned(ctx, epoch); err != nil {
				t.Fatalf("MarkAbandoned(%d) failed: %v", epoch, err)
			}
		}
		if err := store.MarkComplete(ctx, 3, time.Now().UTC()); err != nil {
			t.Fatalf("MarkComplete(3) failed: %v", err)
		}

		abandoned, err := store.ListAbandoned(ctx)
		if err != nil {
			t.Fatalf("ListAbandoned failed: %v", err)
		}
		if len(abandoned) != 2 || abandoned[0] != 2 || abandoned[1] != 5 {
			t.Fatalf("ListAbandoned = %v, want [2 5]", abandoned)
		}
	})

	t.Run("DeleteEntry", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		entry := &api.ManifestEntry{Epoch: 7, Status: api.EntryPending, CreatedAt: time.Now().UTC()}
		if err := store.CreateEntry(ctx, entry); err != nil {
			t.Fatalf("CreateEntry failed: %v", err)
		}
		if err := store.AddRecord(ctx, 7, rec("w1", api.StrategyCoordinated, 7)); err != nil {
			t.Fatalf("AddRecord failed: %v", err)
		}

		if err := store.DeleteEntry(ctx, 7); err != nil {
			t.Fatalf("DeleteEntry failed: %v", err)
		}
		if _, err := store.GetEntry(ctx, 7); !errors.Is(err, ErrEpochNotFound) {
			t.Fatalf("GetEntry after delete = %v, want ErrEpochNotFound", err)
		}
		// Idempotent.
		if err := store.DeleteEntry(ctx, 7); err != nil {
			t.Fatalf("repeat DeleteEntry failed: %v", err)
		}
	})

	t.Run("WorkerRecords", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, gen := range []uint64{2, 1, 3} {
			if err := store.SaveWorkerRecord(ctx, rec("w1", api.StrategyUncoordinated, gen)); err != nil {
				t.Fatalf("SaveWorkerRecord gen %d failed: %v", gen, err)
			}
		}
		if err := store.SaveWorkerRecord(ctx, rec("w2", api.StrategyUncoordinated, 1)); err != nil {
			t.Fatalf("SaveWorkerRecord w2 failed: %v", err)
		}

		latest, err := store.LatestWorkerRecord(ctx, "w1")
		if err != nil {
			t.Fatalf("LatestWorkerRecord failed: %v", err)
		}
		if latest.Generation != 3 {
			t.Fatalf("latest generation = %d, want 3", latest.Generation)
		}

		recs, err := store.ListWorkerRecords(ctx, "w1")
		if err != nil {
			t.Fatalf("ListWorkerRecords failed: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("ListWorkerRecords returned %d records, want 3", len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i-1].Generation >= recs[i].Generation {
				t.Fatalf("records out of order: %d before %d", recs[i-1].Generation, recs[i].Generation)
			}
		}

		workers, err := store.Workers(ctx)
		if err != nil {
			t.Fatalf("Workers failed: %v", err)
		}
		if len(workers) != 2 {
			t.Fatalf("Workers = %v, want 2 entries", workers)
		}

		if err := store.DeleteWorkerRecord(ctx, "w1", 1); err != nil {
			t.Fatalf("DeleteWorkerRecord failed: %v", err)
		}
		recs, err = store.ListWorkerRecords(ctx, "w1")
		if err != nil {
			t.Fatalf("ListWorkerRecords after delete failed: %v", err)
		}
		if len(recs) != 2 || recs[0].Generation != 2 {
			t.Fatalf("after delete: %v", recs)
		}
		// Idempotent.
		if err := store.DeleteWorkerRecord(ctx, "w1", 1); err != nil {
			t.Fatalf("repeat DeleteWorkerRecord failed: %v", err)
		}
	})

	t.Run("LatestWorkerRecordUnknownWorker", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.LatestWorkerRecord(context.Background(), "ghost"); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("LatestWorkerRecord(ghost) = %v, want ErrRecordNotFound", err)
		}
	})
}
