package api

import (
	"time"
)

// WorkerID is the stable identifier of a partition owner.
type WorkerID string

// Epoch is the global monotonic counter marking one coordinated snapshot
// round. Epochs are assigned exactly once, by the coordinator's epoch
// manager, and never reused.
type Epoch uint64

// Strategy selects how snapshots are triggered across the cluster.
type Strategy string

const (
	// StrategyCoordinated drives snapshots with global barrier epochs
	// issued by a central coordinator.
	StrategyCoordinated Strategy = "COORDINATED"

	// StrategyUncoordinated lets every worker snapshot on its own local
	// timer, independent of the coordinator and of other workers.
	StrategyUncoordinated Strategy = "UNCOORDINATED"
)

// TriggerKind identifies what caused a snapshot to be taken.
type TriggerKind string

const (
	TriggerEpoch      TriggerKind = "epoch"
	TriggerLocalTimer TriggerKind = "local-timer"
)

// Trigger describes a single snapshot request. For TriggerEpoch the Epoch
// field carries the coordinated epoch number; for TriggerLocalTimer the
// worker assigns its own local sequence number.
type Trigger struct {
	Kind  TriggerKind
	Epoch Epoch
}

// SnapshotRecord describes one durable snapshot generation. Records are
// immutable once written; compaction deletes whole records, it never
// rewrites them.
type SnapshotRecord struct {
	WorkerID WorkerID
	Strategy Strategy

	// Generation is the coordinated epoch or the worker-local sequence
	// number, depending on Strategy.
	Generation uint64

	TakenAt    time.Time
	StorageKey string
	Size       int64
	Checksum   string

	// InputOffsets maps event-log partitions to the offset up to which
	// the snapshot image covers them. Recovery replays each partition
	// from its recorded offset forward.
	InputOffsets map[string]int64

	// OutputOffsets mirrors InputOffsets for produced partitions. Kept
	// for parity with the sequencer metadata recorded alongside each
	// snapshot; recovery does not consult it.
	OutputOffsets map[string]int64
}

// EntryStatus is the lifecycle state of a manifest entry.
type EntryStatus string

const (
	// EntryPending means the epoch is in flight and acks are still being
	// collected.
	EntryPending EntryStatus = "PENDING"

	// EntryComplete means every worker required at request time has an
	// acknowledged record for the epoch. Complete entries are valid
	// recovery points.
	EntryComplete EntryStatus = "COMPLETE"

	// EntryAbandoned means all required workers died before the epoch
	// completed. Abandoned epochs are never retried under the same number.
	EntryAbandoned EntryStatus = "INCOMPLETE"
)

// ManifestEntry maps one coordinated epoch to the per-worker records that
// make it up. The manifest is the coordinator's sole durable mutable
// structure; entries only ever transition PENDING -> COMPLETE|INCOMPLETE.
type ManifestEntry struct {
	Epoch       Epoch
	Status      EntryStatus
	Records     map[WorkerID]SnapshotRecord
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Complete reports whether the entry is a valid coordinated recovery point.
func (e *ManifestEntry) Complete() bool {
	return e != nil && e.Status == EntryComplete
}

// LivenessStatus is the coordinator-side view of a worker's health.
type LivenessStatus string

const (
	StatusAlive   LivenessStatus = "ALIVE"
	StatusSuspect LivenessStatus = "SUSPECT"
	StatusDead    LivenessStatus = "DEAD"
)

// WorkerLiveness is one row of the coordinator's liveness table.
type WorkerLiveness struct {
	WorkerID      WorkerID
	Addr          string
	Status        LivenessStatus
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// RecoveryPoint is the result of recovery-point selection. For the
// coordinated strategy all records share the same Epoch; for the
// uncoordinated strategy each worker resumes from its own latest record
// and Epoch is zero.
type RecoveryPoint struct {
	Strategy Strategy
	Epoch    Epoch
	Records  map[WorkerID]SnapshotRecord
}

// RetryPolicy bounds how storage writes are retried before a snapshot
// attempt is abandoned.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values <= 0 are treated as 1.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-retry delay; <= 0 means no cap.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Values <= 0
	// default to 2.0.
	BackoffMultiplier float64
}

// DefaultRetryPolicy is used by worker engines when no policy is given.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       4,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        2 * time.Second,
	BackoffMultiplier: 2.0,
}
