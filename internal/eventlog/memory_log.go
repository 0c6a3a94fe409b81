package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is a goroutine-safe in-memory Log backed by per-partition
// slices. It is non-durable and intended for tests and single-process
// development.
type MemoryLog struct {
	mu         sync.RWMutex
	partitions map[string][]Event
}

// Ensure MemoryLog implements Log.
var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates a new MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		partitions: make(map[string][]Event),
	}
}

func (l *MemoryLog) Append(ctx context.Context, partition string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	offset := int64(len(l.partitions[partition]))
	l.partitions[partition] = append(l.partitions[partition], Event{
		Partition:  partition,
		Offset:     offset,
		Payload:    buf,
		AppendedAt: time.Now(),
	})
	return offset, nil
}

func (l *MemoryLog) ReplayFrom(ctx context.Context, partition string, offset int64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.partitions[partition]
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(events)) {
		return nil, nil
	}

	out := make([]Event, len(events[offset:]))
	copy(out, events[offset:])
	return out, nil
}

func (l *MemoryLog) LatestOffset(ctx context.Context, partition string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.partitions[partition])) - 1, nil
}
