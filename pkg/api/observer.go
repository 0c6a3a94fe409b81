package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the checkpointing subsystem for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay snapshotting or epoch progress.
type Observer interface {
	// OnSnapshotStart is called when a worker begins capturing a snapshot,
	// before serialization and the durable write.
	OnSnapshotStart(ctx context.Context, worker WorkerID, strategy Strategy, generation uint64)

	// OnSnapshotCompleted is called after the snapshot is durably written
	// and its record constructed.
	OnSnapshotCompleted(ctx context.Context, rec SnapshotRecord, duration time.Duration)

	// OnSnapshotFailed is called when a snapshot attempt is abandoned,
	// either because serialization failed (fatal to the worker) or because
	// the storage write exhausted its retries (warning).
	OnSnapshotFailed(ctx context.Context, worker WorkerID, generation uint64, err error)

	// OnEpochStarted is called when the coordinator broadcasts a new
	// barrier. required is the number of workers that must acknowledge.
	OnEpochStarted(ctx context.Context, epoch Epoch, required int)

	// OnEpochCompleted is called exactly once per epoch that reaches
	// COMPLETE.
	OnEpochCompleted(ctx context.Context, entry *ManifestEntry)

	// OnEpochAbandoned is called when every required worker died before
	// the epoch completed.
	OnEpochAbandoned(ctx context.Context, epoch Epoch)

	// OnWorkerStatusChanged is called on every liveness transition
	// (ALIVE -> SUSPECT -> DEAD, or back to ALIVE on reconnect).
	OnWorkerStatusChanged(ctx context.Context, worker WorkerID, from, to LivenessStatus)

	// OnCompaction is called after each compaction pass with the number of
	// blobs deleted. err is non-nil when some deletions failed; they are
	// retried on the next interval.
	OnCompaction(ctx context.Context, deleted int, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSnapshotStart(ctx context.Context, w WorkerID, s Strategy, gen uint64) {}
func (NoopObserver) OnSnapshotCompleted(ctx context.Context, rec SnapshotRecord, d time.Duration) {
}
func (NoopObserver) OnSnapshotFailed(ctx context.Context, w WorkerID, gen uint64, err error) {}
func (NoopObserver) OnEpochStarted(ctx context.Context, epoch Epoch, required int)           {}
func (NoopObserver) OnEpochCompleted(ctx context.Context, entry *ManifestEntry)              {}
func (NoopObserver) OnEpochAbandoned(ctx context.Context, epoch Epoch)                       {}
func (NoopObserver) OnWorkerStatusChanged(ctx context.Context, w WorkerID, from, to LivenessStatus) {
}
func (NoopObserver) OnCompaction(ctx context.Context, deleted int, err error) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSnapshotStart(ctx context.Context, w WorkerID, s Strategy, gen uint64) {
	for _, o := range c.observers {
		o.OnSnapshotStart(ctx, w, s, gen)
	}
}

func (c *CompositeObserver) OnSnapshotCompleted(ctx context.Context, rec SnapshotRecord, d time.Duration) {
	for _, o := range c.observers {
		o.OnSnapshotCompleted(ctx, rec, d)
	}
}

func (c *CompositeObserver) OnSnapshotFailed(ctx context.Context, w WorkerID, gen uint64, err error) {
	for _, o := range c.observers {
		o.OnSnapshotFailed(ctx, w, gen, err)
	}
}

func (c *CompositeObserver) OnEpochStarted(ctx context.Context, epoch Epoch, required int) {
	for _, o := range c.observers {
		o.OnEpochStarted(ctx, epoch, required)
	}
}

func (c *CompositeObserver) OnEpochCompleted(ctx context.Context, entry *ManifestEntry) {
	for _, o := range c.observers {
		o.OnEpochCompleted(ctx, entry)
	}
}

func (c *CompositeObserver) OnEpochAbandoned(ctx context.Context, epoch Epoch) {
	for _, o := range c.observers {
		o.OnEpochAbandoned(ctx, epoch)
	}
}

func (c *CompositeObserver) OnWorkerStatusChanged(ctx context.Context, w WorkerID, from, to LivenessStatus) {
	for _, o := range c.observers {
		o.OnWorkerStatusChanged(ctx, w, from, to)
	}
}

func (c *CompositeObserver) OnCompaction(ctx context.Context, deleted int, err error) {
	for _, o := range c.observers {
		o.OnCompaction(ctx, deleted, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs snapshot / epoch /
// liveness lifecycle events using the provided slog.Logger. If logger is
// nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSnapshotStart(ctx context.Context, w WorkerID, s Strategy, gen uint64) {
	o.Logger.DebugContext(ctx, "snapshot_start",
		slog.String("worker", string(w)),
		slog.String("strategy", string(s)),
		slog.Uint64("generation", gen),
	)
}

func (o *LoggingObserver) OnSnapshotCompleted(ctx context.Context, rec SnapshotRecord, d time.Duration) {
	o.Logger.InfoContext(ctx, "snapshot_completed",
		slog.String("worker", string(rec.WorkerID)),
		slog.String("strategy", string(rec.Strategy)),
		slog.Uint64("generation", rec.Generation),
		slog.String("key", rec.StorageKey),
		slog.Int64("size", rec.Size),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnSnapshotFailed(ctx context.Context, w WorkerID, gen uint64, err error) {
	level := slog.LevelWarn
	if IsSerializationError(err) {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "snapshot_failed",
		slog.String("worker", string(w)),
		slog.Uint64("generation", gen),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEpochStarted(ctx context.Context, epoch Epoch, required int) {
	o.Logger.InfoContext(ctx, "epoch_started",
		slog.Uint64("epoch", uint64(epoch)),
		slog.Int("required", required),
	)
}

func (o *LoggingObserver) OnEpochCompleted(ctx context.Context, entry *ManifestEntry) {
	o.Logger.InfoContext(ctx, "epoch_completed",
		slog.Uint64("epoch", uint64(entry.Epoch)),
		slog.Int("records", len(entry.Records)),
	)
}

func (o *LoggingObserver) OnEpochAbandoned(ctx context.Context, epoch Epoch) {
	o.Logger.WarnContext(ctx, "epoch_abandoned",
		slog.Uint64("epoch", uint64(epoch)),
	)
}

func (o *LoggingObserver) OnWorkerStatusChanged(ctx context.Context, w WorkerID, from, to LivenessStatus) {
	level := slog.LevelInfo
	if to == StatusDead {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "worker_status_changed",
		slog.String("worker", string(w)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnCompaction(ctx context.Context, deleted int, err error) {
	if err != nil {
		o.Logger.WarnContext(ctx, "compaction_pass",
			slog.Int("deleted", deleted),
			slog.Any("error", err),
		)
		return
	}
	o.Logger.DebugContext(ctx, "compaction_pass",
		slog.Int("deleted", deleted),
	)
}

// BasicMetrics collects simple counters and aggregate snapshot durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	snapshotsCompleted atomic.Int64
	snapshotsFailed    atomic.Int64
	epochsCompleted    atomic.Int64
	epochsAbandoned    atomic.Int64
	workersDead        atomic.Int64
	blobsCompacted     atomic.Int64
	totalSnapshotNanos atomic.Int64
	totalSnapshotBytes atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SnapshotsCompleted int64
	SnapshotsFailed    int64
	EpochsCompleted    int64
	EpochsAbandoned    int64
	WorkersDead        int64
	BlobsCompacted     int64

	AvgSnapshotDuration time.Duration
	TotalSnapshotBytes  int64
}

func (m *BasicMetrics) OnSnapshotCompleted(ctx context.Context, rec SnapshotRecord, d time.Duration) {
	m.snapshotsCompleted.Add(1)
	m.totalSnapshotNanos.Add(d.Nanoseconds())
	m.totalSnapshotBytes.Add(rec.Size)
}

func (m *BasicMetrics) OnSnapshotFailed(ctx context.Context, w WorkerID, gen uint64, err error) {
	m.snapshotsFailed.Add(1)
}

func (m *BasicMetrics) OnEpochCompleted(ctx context.Context, entry *ManifestEntry) {
	m.epochsCompleted.Add(1)
}

func (m *BasicMetrics) OnEpochAbandoned(ctx context.Context, epoch Epoch) {
	m.epochsAbandoned.Add(1)
}

func (m *BasicMetrics) OnWorkerStatusChanged(ctx context.Context, w WorkerID, from, to LivenessStatus) {
	if to == StatusDead {
		m.workersDead.Add(1)
	}
}

func (m *BasicMetrics) OnCompaction(ctx context.Context, deleted int, err error) {
	m.blobsCompacted.Add(int64(deleted))
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	completed := m.snapshotsCompleted.Load()
	totalNs := m.totalSnapshotNanos.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalNs / completed)
	}

	return BasicMetricsSnapshot{
		SnapshotsCompleted:  completed,
		SnapshotsFailed:     m.snapshotsFailed.Load(),
		EpochsCompleted:     m.epochsCompleted.Load(),
		EpochsAbandoned:     m.epochsAbandoned.Load(),
		WorkersDead:         m.workersDead.Load(),
		BlobsCompacted:      m.blobsCompacted.Load(),
		AvgSnapshotDuration: avg,
		TotalSnapshotBytes:  m.totalSnapshotBytes.Load(),
	}
}
