package manifest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// MemoryStore is a goroutine-safe in-memory Store backed by maps.
// It is non-durable and intended for tests and single-process development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[api.Epoch]*api.ManifestEntry
	records map[api.WorkerID][]api.SnapshotRecord // kept sorted by Generation
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[api.Epoch]*api.ManifestEntry),
		records: make(map[api.WorkerID][]api.SnapshotRecord),
	}
}

func copyEntry(e *api.ManifestEntry) *api.ManifestEntry {
	out := *e
	out.Records = make(map[api.WorkerID]api.SnapshotRecord, len(e.Records))
	for id, rec := range e.Records {
		out.Records[id] = rec
	}
	return &out
}

func (s *MemoryStore) CreateEntry(ctx context.Context, entry *api.ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Epoch] = copyEntry(entry)
	return nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, epoch api.Epoch) (*api.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[epoch]
	if !ok {
		return nil, ErrEpochNotFound
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) AddRecord(ctx context.Context, epoch api.Epoch, rec api.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[epoch]
	if !ok {
		return ErrEpochNotFound
	}
	if entry.Records == nil {
		entry.Records = make(map[api.WorkerID]api.SnapshotRecord)
	}
	entry.Records[rec.WorkerID] = rec
	return nil
}

func (s *MemoryStore) MarkComplete(ctx context.Context, epoch api.Epoch, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[epoch]
	if !ok {
		return ErrEpochNotFound
	}
	entry.Status = api.EntryComplete
	entry.CompletedAt = at
	return nil
}

func (s *MemoryStore) MarkAbandoned(ctx context.Context, epoch api.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[epoch]
	if !ok {
		return ErrEpochNotFound
	}
	entry.Status = api.EntryAbandoned
	return nil
}

func (s *MemoryStore) LatestComplete(ctx context.Context) (*api.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *api.ManifestEntry
	for _, entry := range s.entries {
		if entry.Status != api.EntryComplete {
			continue
		}
		if latest == nil || entry.Epoch > latest.Epoch {
			latest = entry
		}
	}
	if latest == nil {
		return nil, ErrEpochNotFound
	}
	return copyEntry(latest), nil
}

func (s *MemoryStore) ListCompleted(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(api.EntryComplete), nil
}

func (s *MemoryStore) ListAbandoned(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(api.EntryAbandoned), nil
}

func (s *MemoryStore) listByStatus(status api.EntryStatus) []api.Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var epochs []api.Epoch
	for _, entry := range s.entries {
		if entry.Status == status {
			epochs = append(epochs, entry.Epoch)
		}
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

func (s *MemoryStore) DeleteEntry(ctx context.Context, epoch api.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, epoch)
	return nil
}

func (s *MemoryStore) SaveWorkerRecord(ctx context.Context, rec api.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[rec.WorkerID]
	recs = append(recs, rec)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Generation < recs[j].Generation })
	s.records[rec.WorkerID] = recs
	return nil
}

func (s *MemoryStore) LatestWorkerRecord(ctx context.Context, worker api.WorkerID) (*api.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[worker]
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (s *MemoryStore) ListWorkerRecords(ctx context.Context, worker api.WorkerID) ([]api.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[worker]
	out := make([]api.SnapshotRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) DeleteWorkerRecord(ctx context.Context, worker api.WorkerID, generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[worker]
	for i, rec := range recs {
		if rec.Generation == generation {
			s.records[worker] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Workers(ctx context.Context) ([]api.WorkerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var workers []api.WorkerID
	for id, recs := range s.records {
		if len(recs) > 0 {
			workers = append(workers, id)
		}
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
	return workers, nil
}
