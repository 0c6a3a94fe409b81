package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// fakeClock drives Monitor scans deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, timeout time.Duration) (*Monitor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewMonitor(timeout, timeout/5, api.NoopObserver{})
	m.setNow(clock.Now)
	return m, clock
}

func TestMonitor_DeadAfterTimeout(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 5*time.Second)
	m.Register("w1", "addr1")

	// Silent for 6 seconds with 1-second scans: DEAD by the 6s mark and
	// never before the 5s timeout has elapsed.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		m.Scan(ctx)
		st, _ := m.Status("w1")
		if st.Status == api.StatusDead {
			t.Fatalf("worker DEAD after only %ds of silence", i+1)
		}
	}

	clock.Advance(time.Second)
	m.Scan(ctx)
	st, _ := m.Status("w1")
	if st.Status != api.StatusDead {
		t.Fatalf("worker not DEAD after 6s of silence, status = %v", st.Status)
	}
}

func TestMonitor_SuspectAfterHalfTimeout(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 4*time.Second)
	m.Register("w1", "addr1")

	clock.Advance(3 * time.Second)
	m.Scan(ctx)

	st, _ := m.Status("w1")
	if st.Status != api.StatusSuspect {
		t.Fatalf("status = %v, want SUSPECT after exceeding half the timeout", st.Status)
	}
}

func TestMonitor_HeartbeatRestoresAlive(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 4*time.Second)
	m.Register("w1", "addr1")

	clock.Advance(3 * time.Second)
	m.Scan(ctx)
	if st, _ := m.Status("w1"); st.Status != api.StatusSuspect {
		t.Fatalf("setup: status = %v, want SUSPECT", st.Status)
	}

	if err := m.Heartbeat("w1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	st, _ := m.Status("w1")
	if st.Status != api.StatusAlive {
		t.Fatalf("status = %v, want ALIVE after heartbeat", st.Status)
	}
}

func TestMonitor_DeadWorkerRevivesOnHeartbeat(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 2*time.Second)
	m.Register("w1", "addr1")

	clock.Advance(3 * time.Second)
	m.Scan(ctx)
	if st, _ := m.Status("w1"); st.Status != api.StatusDead {
		t.Fatalf("setup: status = %v, want DEAD", st.Status)
	}

	// Reconnection is always allowed.
	if err := m.Heartbeat("w1"); err != nil {
		t.Fatalf("Heartbeat after DEAD failed: %v", err)
	}
	st, _ := m.Status("w1")
	if st.Status != api.StatusAlive {
		t.Fatalf("status = %v, want ALIVE after reconnect", st.Status)
	}
}

func TestMonitor_HeartbeatUnknownWorker(t *testing.T) {
	m, _ := newTestMonitor(t, time.Second)
	if err := m.Heartbeat("ghost"); !errors.Is(err, api.ErrUnknownWorker) {
		t.Fatalf("Heartbeat(ghost) = %v, want ErrUnknownWorker", err)
	}
}

func TestMonitor_OnDeadFiresOncePerTransition(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 2*time.Second)

	var dead []api.WorkerID
	m.OnDead(func(id api.WorkerID) {
		dead = append(dead, id)
	})
	m.Register("w1", "addr1")

	clock.Advance(3 * time.Second)
	m.Scan(ctx)
	m.Scan(ctx) // already DEAD, must not fire again

	if len(dead) != 1 || dead[0] != "w1" {
		t.Fatalf("OnDead fired %v, want exactly [w1]", dead)
	}
}

func TestMonitor_AliveExcludesDeadIncludesSuspect(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 4*time.Second)
	m.Register("alive", "a")
	m.Register("suspect", "b")
	m.Register("dead", "c")

	clock.Advance(3 * time.Second)
	_ = m.Heartbeat("alive")
	m.Scan(ctx) // suspect and dead exceed half the timeout

	clock.Advance(2 * time.Second)
	_ = m.Heartbeat("alive")
	_ = m.Heartbeat("suspect")
	clock.Advance(3 * time.Second)
	_ = m.Heartbeat("alive")
	m.Scan(ctx) // dead exceeds the full timeout, suspect only half

	ids := m.Alive()
	if len(ids) != 2 || ids[0] != "alive" || ids[1] != "suspect" {
		t.Fatalf("Alive() = %v, want [alive suspect]", ids)
	}
}

func TestMonitor_OnDeadRegistrationConcurrentWithScan(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMonitor(t, 5*time.Second)
	m.Register("w1", "addr1")
	clock.Advance(6 * time.Second)

	// Registration and scanning race under the table lock; the race
	// detector flags any unguarded access to the callback list.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.Scan(ctx)
		}
	}()
	for i := 0; i < 50; i++ {
		m.OnDead(func(api.WorkerID) {})
	}
	<-done

	st, _ := m.Status("w1")
	if st.Status != api.StatusDead {
		t.Fatalf("status = %v after 6s of silence, want DEAD", st.Status)
	}
}
