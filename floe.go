package floe

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/jkarhu/floe/internal/blobstore"
	"github.com/jkarhu/floe/internal/compactor"
	"github.com/jkarhu/floe/internal/coordinator"
	"github.com/jkarhu/floe/internal/eventlog"
	"github.com/jkarhu/floe/internal/manifest"
	"github.com/jkarhu/floe/internal/recovery"
	"github.com/jkarhu/floe/pkg/api"
	"github.com/jkarhu/floe/pkg/config"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	WorkerID             = api.WorkerID
	Epoch                = api.Epoch
	Strategy             = api.Strategy
	Trigger              = api.Trigger
	TriggerKind          = api.TriggerKind
	SnapshotRecord       = api.SnapshotRecord
	ManifestEntry        = api.ManifestEntry
	EntryStatus          = api.EntryStatus
	LivenessStatus       = api.LivenessStatus
	WorkerLiveness       = api.WorkerLiveness
	RecoveryPoint        = api.RecoveryPoint
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Aliases for the storage interfaces so callers can declare fields and
// parameters without importing internal packages.

type (
	BlobStore = blobstore.Store
	Manifest  = manifest.Store
	EventLog  = eventlog.Log
	Event     = eventlog.Event
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export sentinel errors.

var (
	ErrNoRecoveryPoint = api.ErrNoRecoveryPoint
	ErrEpochClosed     = api.ErrEpochClosed
	ErrUnknownWorker   = api.ErrUnknownWorker
)

// Re-export strategy and status values for convenience.

const (
	StrategyCoordinated   = api.StrategyCoordinated
	StrategyUncoordinated = api.StrategyUncoordinated

	EntryPending   = api.EntryPending
	EntryComplete  = api.EntryComplete
	EntryAbandoned = api.EntryAbandoned

	StatusAlive   = api.StatusAlive
	StatusSuspect = api.StatusSuspect
	StatusDead    = api.StatusDead

	TriggerEpoch      = api.TriggerEpoch
	TriggerLocalTimer = api.TriggerLocalTimer
)

// Store constructors
// These wrap the internal packages so external callers never need to
// import them directly.

// NewMemoryBlobStore returns a snapshot blob store held entirely in
// process memory. Intended for tests and local development.
func NewMemoryBlobStore() *blobstore.MemoryStore {
	return blobstore.NewMemoryStore()
}

// NewRedisBlobStore returns a snapshot blob store backed by Redis. All
// keys are namespaced under prefix.
func NewRedisBlobStore(client *redis.Client, prefix string) *blobstore.RedisStore {
	return blobstore.NewRedisStore(client, prefix)
}

// NewMinIOBlobStore returns a snapshot blob store backed by a MinIO (or
// any S3-compatible) bucket. The bucket is created if it does not exist.
func NewMinIOBlobStore(ctx context.Context, client *minio.Client, bucket string) (*blobstore.MinIOStore, error) {
	return blobstore.NewMinIOStore(ctx, client, bucket)
}

// NewMinIOBlobStoreFromConfig dials MinIO using cfg and returns a blob
// store on cfg.Bucket.
func NewMinIOBlobStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig) (*blobstore.MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("dial blob store %s: %w", cfg.Endpoint(), err)
	}
	return blobstore.NewMinIOStore(ctx, client, cfg.Bucket)
}

// NewMemoryManifest returns an in-memory snapshot manifest.
func NewMemoryManifest() *manifest.MemoryStore {
	return manifest.NewMemoryStore()
}

// NewSQLiteManifest returns a manifest persisted in a SQLite database.
// The schema is created on first use.
func NewSQLiteManifest(db *sql.DB) (*manifest.SQLiteStore, error) {
	return manifest.NewSQLiteStore(db)
}

// NewPostgresManifest returns a manifest persisted in PostgreSQL.
// The schema is created on first use.
func NewPostgresManifest(db *sql.DB) (*manifest.PostgresStore, error) {
	return manifest.NewPostgresStore(db)
}

// NewMemoryEventLog returns an in-memory partitioned event log.
func NewMemoryEventLog() *eventlog.MemoryLog {
	return eventlog.NewMemoryLog()
}

// NewRedisEventLog returns an event log backed by Redis Streams, one
// stream per partition, namespaced under prefix.
func NewRedisEventLog(client *redis.Client, prefix string) *eventlog.RedisLog {
	return eventlog.NewRedisLog(client, prefix)
}

// Control-plane constructors

// NewCoordinator creates the deployment's coordinator: the single writer
// of the liveness table and, under the coordinated strategy, the epoch
// state machine. broadcast delivers snapshot barriers to workers and may
// be nil under the uncoordinated strategy.
func NewCoordinator(cfg config.Config, m Manifest, broadcast coordinator.BarrierFunc, obs Observer) *coordinator.Coordinator {
	return coordinator.New(coordinator.Options{
		Strategy:               cfg.Strategy,
		Manifest:               m,
		Broadcast:              broadcast,
		SnapshotFrequency:      cfg.SnapshotFrequency,
		HeartbeatTimeout:       cfg.HeartbeatTimeout,
		HeartbeatCheckInterval: cfg.HeartbeatCheckInterval,
		Observer:               obs,
	})
}

// NewCompactor creates the background pruner of superseded snapshot
// generations. completed, when non-nil, carries epoch-completion signals
// (see Coordinator.Epochs().Completed()) so compaction follows completion
// promptly.
func NewCompactor(cfg config.Config, m Manifest, s BlobStore, completed <-chan Epoch, obs Observer) *compactor.Compactor {
	return compactor.New(compactor.Options{
		Strategy:  cfg.Strategy,
		Manifest:  m,
		Store:     s,
		Interval:  cfg.CompactionInterval,
		Completed: completed,
		Observer:  obs,
	})
}

// NewRecoveryManager creates the selector of restart points after a
// failure.
func NewRecoveryManager(strategy Strategy, m Manifest, s BlobStore) *recovery.Manager {
	return recovery.NewManager(strategy, m, s)
}

// Replay streams every event at or past rec's input offsets to fn. It is
// the worker-side half of recovery: restore state from rec, then Replay
// to catch up with the log.
func Replay(ctx context.Context, log EventLog, rec SnapshotRecord, fn func(Event) error) error {
	return recovery.Replay(ctx, log, rec, fn)
}
