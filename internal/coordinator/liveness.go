package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// Monitor owns the coordinator's liveness table. It records last-seen
// timestamps from worker heartbeats and runs a periodic scan that marks
// silent workers SUSPECT and then DEAD. Only the Monitor writes the table;
// all other components observe stable copies.
type Monitor struct {
	mu      sync.RWMutex
	workers map[api.WorkerID]*api.WorkerLiveness

	timeout       time.Duration
	checkInterval time.Duration

	now      func() time.Time
	onDead   []func(api.WorkerID)
	observer api.Observer
}

// NewMonitor creates a liveness monitor. A worker silent longer than
// timeout is marked DEAD on the next scan; scans run every checkInterval.
func NewMonitor(timeout, checkInterval time.Duration, observer api.Observer) *Monitor {
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &Monitor{
		workers:       make(map[api.WorkerID]*api.WorkerLiveness),
		timeout:       timeout,
		checkInterval: checkInterval,
		now:           time.Now,
		observer:      observer,
	}
}

// OnDead registers a callback invoked (outside the table lock) whenever a
// worker transitions to DEAD. The epoch manager uses this to shrink an
// in-flight epoch's required-ack set.
func (m *Monitor) OnDead(fn func(api.WorkerID)) {
	m.mu.Lock()
	m.onDead = append(m.onDead, fn)
	m.mu.Unlock()
}

// Register creates (or revives) the liveness entry for a worker.
func (m *Monitor) Register(id api.WorkerID, addr string) {
	now := m.now()

	m.mu.Lock()
	entry, exists := m.workers[id]
	var from api.LivenessStatus
	if exists {
		from = entry.Status
		entry.Status = api.StatusAlive
		entry.LastHeartbeat = now
		entry.Addr = addr
	} else {
		m.workers[id] = &api.WorkerLiveness{
			WorkerID:      id,
			Addr:          addr,
			Status:        api.StatusAlive,
			LastHeartbeat: now,
			RegisteredAt:  now,
		}
	}
	m.mu.Unlock()

	if exists && from != api.StatusAlive {
		m.observer.OnWorkerStatusChanged(context.Background(), id, from, api.StatusAlive)
	}
}

// Heartbeat records a liveness ping. Any status, including DEAD, resets to
// ALIVE: reconnection is always allowed. Unknown workers get
// api.ErrUnknownWorker; they must register first.
func (m *Monitor) Heartbeat(id api.WorkerID) error {
	m.mu.Lock()
	entry, ok := m.workers[id]
	if !ok {
		m.mu.Unlock()
		return api.ErrUnknownWorker
	}
	from := entry.Status
	entry.Status = api.StatusAlive
	entry.LastHeartbeat = m.now()
	m.mu.Unlock()

	if from != api.StatusAlive {
		m.observer.OnWorkerStatusChanged(context.Background(), id, from, api.StatusAlive)
	}
	return nil
}

// Scan walks the table once, applying the silence thresholds: silent longer
// than half the timeout moves ALIVE workers to SUSPECT, longer than the
// full timeout moves them to DEAD. DEAD callbacks fire after the lock is
// released.
func (m *Monitor) Scan(ctx context.Context) {
	now := m.now()

	type transition struct {
		id       api.WorkerID
		from, to api.LivenessStatus
	}
	var transitions []transition

	m.mu.Lock()
	for id, entry := range m.workers {
		if entry.Status == api.StatusDead {
			continue
		}
		silent := now.Sub(entry.LastHeartbeat)
		switch {
		case silent > m.timeout:
			transitions = append(transitions, transition{id, entry.Status, api.StatusDead})
			entry.Status = api.StatusDead
		case silent > m.timeout/2 && entry.Status == api.StatusAlive:
			transitions = append(transitions, transition{id, entry.Status, api.StatusSuspect})
			entry.Status = api.StatusSuspect
		}
	}
	onDead := make([]func(api.WorkerID), len(m.onDead))
	copy(onDead, m.onDead)
	m.mu.Unlock()

	for _, tr := range transitions {
		m.observer.OnWorkerStatusChanged(ctx, tr.id, tr.from, tr.to)
		if tr.to == api.StatusDead {
			for _, fn := range onDead {
				fn(tr.id)
			}
		}
	}
}

// Run scans the table every check interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Scan(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Status returns a copy of one worker's liveness row.
func (m *Monitor) Status(id api.WorkerID) (api.WorkerLiveness, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.workers[id]
	if !ok {
		return api.WorkerLiveness{}, false
	}
	return *entry, true
}

// Alive returns the IDs of all workers currently not DEAD, sorted. SUSPECT
// workers still count: they are excluded from epochs only once the scan
// declares them DEAD.
func (m *Monitor) Alive() []api.WorkerID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []api.WorkerID
	for id, entry := range m.workers {
		if entry.Status != api.StatusDead {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// setNow overrides the clock; tests only.
func (m *Monitor) setNow(now func() time.Time) {
	m.now = now
}
