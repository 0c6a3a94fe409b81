package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jkarhu/floe/internal/blobstore"
	"github.com/jkarhu/floe/pkg/api"
)

// State is the immutable point-in-time image captured from a worker's
// owned partition state, together with the event-log offsets the image
// covers. The Image value must be gob-encodable; callers register concrete
// types with encoding/gob the usual way.
type State struct {
	Image         any
	InputOffsets  map[string]int64
	OutputOffsets map[string]int64
}

// StateSource supplies snapshots of the worker's owned state. Capture must
// return an image that later mutations cannot reach: the worker freezes
// briefly, hands out the immutable image, and resumes processing against a
// fresh mutable copy. The engine never holds the worker's processing locks
// itself.
type StateSource interface {
	Capture() (State, error)
}

// StateSourceFunc adapts a function to the StateSource interface.
type StateSourceFunc func() (State, error)

func (f StateSourceFunc) Capture() (State, error) { return f() }

// Config describes how to construct an Engine.
type Config struct {
	ID       api.WorkerID
	Strategy api.Strategy
	Source   StateSource
	Store    blobstore.Store

	// Retry bounds storage-write retries. Zero value uses
	// api.DefaultRetryPolicy.
	Retry api.RetryPolicy

	// SnapshotInterval drives the local timer under the uncoordinated
	// strategy. Ignored for coordinated workers, whose snapshots arrive
	// as barrier requests.
	SnapshotInterval time.Duration

	// HeartbeatInterval drives the liveness ping loop; zero disables it.
	HeartbeatInterval time.Duration

	// SendHeartbeat delivers one liveness ping to the coordinator.
	SendHeartbeat func(ctx context.Context, id api.WorkerID) error

	// OnRecord is invoked after each successful snapshot with the new
	// record: the barrier acknowledgment in coordinated mode, the
	// advisory completion notice in uncoordinated mode.
	OnRecord func(ctx context.Context, rec api.SnapshotRecord) error

	// OnFatal is invoked when the worker cannot serialize its own state.
	// That failure is fatal to the worker and escalates to a restart.
	OnFatal func(err error)

	Observer api.Observer
}

// Engine is the per-worker snapshot engine. It serializes owned state on
// request or timer, writes it through the blob store, and reports a
// SnapshotRecord on success.
type Engine struct {
	id       api.WorkerID
	strategy api.Strategy
	source   StateSource
	store    blobstore.Store
	retry    api.RetryPolicy
	interval time.Duration

	heartbeatInterval time.Duration
	sendHeartbeat     func(ctx context.Context, id api.WorkerID) error

	onRecord func(ctx context.Context, rec api.SnapshotRecord) error
	onFatal  func(err error)
	observer api.Observer

	mu         sync.Mutex
	seq        uint64
	inProgress bool
	lastGood   *api.SnapshotRecord
	now        func() time.Time
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = api.DefaultRetryPolicy
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Engine{
		id:                cfg.ID,
		strategy:          cfg.Strategy,
		source:            cfg.Source,
		store:             cfg.Store,
		retry:             retry,
		interval:          cfg.SnapshotInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		sendHeartbeat:     cfg.SendHeartbeat,
		onRecord:          cfg.OnRecord,
		onFatal:           cfg.OnFatal,
		observer:          obs,
		now:               time.Now,
	}
}

// ID returns the worker's identifier.
func (e *Engine) ID() api.WorkerID { return e.id }

// LastGood returns the most recent successfully written record, or nil.
func (e *Engine) LastGood() *api.SnapshotRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastGood == nil {
		return nil
	}
	rec := *e.lastGood
	return &rec
}

// imageEnvelope is the serialized snapshot layout. It carries enough
// identity to validate a blob independently of the manifest.
type imageEnvelope struct {
	WorkerID   api.WorkerID
	Strategy   api.Strategy
	Generation uint64
	TakenAt    time.Time
	State      State
}

func encodeImage(env imageEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte) (*imageEnvelope, error) {
	var env imageEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TakeSnapshot captures, serializes and durably writes one snapshot. For
// TriggerEpoch the record's generation is the epoch; for TriggerLocalTimer
// the worker assigns the next local sequence number, which advances only
// on success.
//
// A serialization failure is fatal to the worker: OnFatal fires and the
// returned error wraps api.SerializationError. A storage write that
// exhausts its retries abandons the attempt: the error wraps
// api.StorageWriteError, the worker keeps its previous good baseline, and
// processing continues.
//
// Only one snapshot runs at a time per worker; a second trigger while one
// is in flight is skipped with a nil record.
func (e *Engine) TakeSnapshot(ctx context.Context, trigger api.Trigger) (*api.SnapshotRecord, error) {
	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		return nil, nil
	}
	e.inProgress = true

	var generation uint64
	switch trigger.Kind {
	case api.TriggerEpoch:
		generation = uint64(trigger.Epoch)
	case api.TriggerLocalTimer:
		generation = e.seq + 1
	default:
		e.inProgress = false
		e.mu.Unlock()
		return nil, fmt.Errorf("unknown snapshot trigger %q", trigger.Kind)
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inProgress = false
		e.mu.Unlock()
	}()

	start := e.now()
	e.observer.OnSnapshotStart(ctx, e.id, e.strategy, generation)

	// Brief state freeze: Capture returns an immutable image and the
	// worker resumes processing; everything below runs off to the side.
	state, err := e.source.Capture()
	if err != nil {
		return nil, e.fatal(ctx, generation, err)
	}

	env := imageEnvelope{
		WorkerID:   e.id,
		Strategy:   e.strategy,
		Generation: generation,
		TakenAt:    start,
		State:      state,
	}
	data, err := encodeImage(env)
	if err != nil {
		return nil, e.fatal(ctx, generation, err)
	}

	key := blobstore.SnapshotKey(e.strategy, e.id, generation)
	if err := e.writeWithRetry(ctx, key, data); err != nil {
		e.observer.OnSnapshotFailed(ctx, e.id, generation, err)
		return nil, err
	}

	rec := api.SnapshotRecord{
		WorkerID:      e.id,
		Strategy:      e.strategy,
		Generation:    generation,
		TakenAt:       start,
		StorageKey:    key,
		Size:          int64(len(data)),
		Checksum:      checksum(data),
		InputOffsets:  state.InputOffsets,
		OutputOffsets: state.OutputOffsets,
	}

	e.mu.Lock()
	if trigger.Kind == api.TriggerLocalTimer {
		e.seq = generation
	}
	e.lastGood = &rec
	e.mu.Unlock()

	e.observer.OnSnapshotCompleted(ctx, rec, e.now().Sub(start))

	if e.onRecord != nil {
		if err := e.onRecord(ctx, rec); err != nil {
			// The snapshot itself is durable; a lost notification only
			// delays the coordinator's view of it.
			return &rec, fmt.Errorf("report snapshot record: %w", err)
		}
	}
	return &rec, nil
}

func (e *Engine) fatal(ctx context.Context, generation uint64, cause error) error {
	err := &api.SerializationError{WorkerID: e.id, Err: cause}
	e.observer.OnSnapshotFailed(ctx, e.id, generation, err)
	if e.onFatal != nil {
		e.onFatal(err)
	}
	return err
}

// writeWithRetry puts data under key, retrying with bounded exponential
// backoff per the engine's retry policy.
func (e *Engine) writeWithRetry(ctx context.Context, key string, data []byte) error {
	maxAttempts := e.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := e.retry.InitialBackoff
	multiplier := e.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &api.StorageWriteError{WorkerID: e.id, StorageKey: key, Attempts: attempt - 1, Err: ctx.Err()}
		default:
		}

		lastErr = e.store.Put(ctx, key, data)
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if e.retry.MaxBackoff > 0 && delay > e.retry.MaxBackoff {
				delay = e.retry.MaxBackoff
			}
			select {
			case <-ctx.Done():
				return &api.StorageWriteError{WorkerID: e.id, StorageKey: key, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
			backoff = time.Duration(float64(backoff) * multiplier)
		}
	}

	return &api.StorageWriteError{WorkerID: e.id, StorageKey: key, Attempts: maxAttempts, Err: lastErr}
}

// Restore fetches a snapshot blob, verifies its checksum against the
// record, and decodes the captured state.
func (e *Engine) Restore(ctx context.Context, rec api.SnapshotRecord) (State, error) {
	data, err := e.store.Get(ctx, rec.StorageKey)
	if err != nil {
		return State{}, fmt.Errorf("fetch snapshot %s: %w", rec.StorageKey, err)
	}
	if sum := checksum(data); sum != rec.Checksum {
		return State{}, fmt.Errorf("snapshot %s: checksum mismatch (have %s, want %s)",
			rec.StorageKey, sum, rec.Checksum)
	}

	env, err := decodeImage(data)
	if err != nil {
		return State{}, fmt.Errorf("decode snapshot %s: %w", rec.StorageKey, err)
	}
	if env.WorkerID != rec.WorkerID || env.Generation != rec.Generation {
		return State{}, fmt.Errorf("snapshot %s: envelope identity mismatch", rec.StorageKey)
	}
	return env.State, nil
}

// Run drives the engine's background loops until ctx is cancelled: the
// heartbeat ping loop, and the local snapshot timer under the
// uncoordinated strategy. Neither loop ever waits on the coordinator or on
// other workers.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if e.heartbeatInterval > 0 && e.sendHeartbeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runHeartbeats(ctx)
		}()
	}

	if e.strategy == api.StrategyUncoordinated && e.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runLocalTimer(ctx)
		}()
	}

	wg.Wait()
}

func (e *Engine) runHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A missed ping is indistinguishable from a network blip;
			// the liveness scan decides when silence becomes DEAD.
			_ = e.sendHeartbeat(ctx, e.id)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) runLocalTimer(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.TakeSnapshot(ctx, api.Trigger{Kind: api.TriggerLocalTimer}); err != nil {
				if api.IsSerializationError(err) {
					// Fatal to this worker; OnFatal already escalated.
					return
				}
				// Write exhaustion: keep the previous baseline and try
				// again on the next tick.
			}
		case <-ctx.Done():
			return
		}
	}
}

// Seq returns the worker's current local sequence number (uncoordinated
// strategy). It only advances on successful snapshots.
func (e *Engine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
