// Package eventlog defines the append-only event log contract the recovery
// manager consumes. The log itself is an external collaborator; the
// checkpointing core only needs stable per-partition offsets and
// replay-from-offset capability.
package eventlog

import (
	"context"
	"time"
)

// Event is one durable log entry.
type Event struct {
	Partition  string
	Offset     int64
	Payload    []byte
	AppendedAt time.Time
}

// Log is an append-only event log with stable per-partition offsets.
type Log interface {
	// Append writes payload to a partition and returns the offset it was
	// assigned. Offsets per partition start at 0 and increase by one.
	Append(ctx context.Context, partition string, payload []byte) (int64, error)

	// ReplayFrom returns all events of a partition with Offset >= offset,
	// in offset order.
	ReplayFrom(ctx context.Context, partition string, offset int64) ([]Event, error)

	// LatestOffset returns the highest assigned offset of a partition, or
	// -1 when the partition is empty.
	LatestOffset(ctx context.Context, partition string) (int64, error)
}
