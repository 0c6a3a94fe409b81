package manifest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS manifest_entries (
			epoch INTEGER PRIMARY KEY,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS snapshot_records (
			worker_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			generation INTEGER NOT NULL,
			taken_at INTEGER NOT NULL,
			storage_key TEXT NOT NULL,
			size INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			input_offsets BLOB,
			output_offsets BLOB,
			PRIMARY KEY (worker_id, strategy, generation)
		);`,
	)
	return err
}

func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *api.ManifestEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest_entries (epoch, status, created_at, completed_at)
		VALUES (?, ?, ?, 0)`,
		int64(entry.Epoch),
		string(entry.Status),
		entry.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetEntry(ctx context.Context, epoch api.Epoch) (*api.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT epoch, status, created_at, completed_at
		FROM manifest_entries
		WHERE epoch = ?`,
		int64(epoch),
	)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntryRecords(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*api.ManifestEntry, error) {
	var (
		epoch       int64
		status      string
		createdAt   int64
		completedAt int64
	)
	if err := row.Scan(&epoch, &status, &createdAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpochNotFound
		}
		return nil, err
	}

	entry := &api.ManifestEntry{
		Epoch:     api.Epoch(epoch),
		Status:    api.EntryStatus(status),
		Records:   make(map[api.WorkerID]api.SnapshotRecord),
		CreatedAt: time.Unix(0, createdAt),
	}
	if completedAt != 0 {
		entry.CompletedAt = time.Unix(0, completedAt)
	}
	return entry, nil
}

func (s *SQLiteStore) loadEntryRecords(ctx context.Context, entry *api.ManifestEntry) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE strategy = ? AND generation = ?`,
		string(api.StrategyCoordinated),
		int64(entry.Epoch),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		entry.Records[rec.WorkerID] = *rec
	}
	return rows.Err()
}

func scanRecord(row rowScanner) (*api.SnapshotRecord, error) {
	var (
		rec           api.SnapshotRecord
		workerID      string
		strategy      string
		generation    int64
		takenAt       int64
		inputOffsets  []byte
		outputOffsets []byte
	)
	if err := row.Scan(&workerID, &strategy, &generation, &takenAt,
		&rec.StorageKey, &rec.Size, &rec.Checksum, &inputOffsets, &outputOffsets); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	rec.WorkerID = api.WorkerID(workerID)
	rec.Strategy = api.Strategy(strategy)
	rec.Generation = uint64(generation)
	rec.TakenAt = time.Unix(0, takenAt)

	in, err := decodeOffsets(inputOffsets)
	if err != nil {
		return nil, err
	}
	rec.InputOffsets = in

	out, err := decodeOffsets(outputOffsets)
	if err != nil {
		return nil, err
	}
	rec.OutputOffsets = out

	return &rec, nil
}

func (s *SQLiteStore) insertRecord(ctx context.Context, rec api.SnapshotRecord) error {
	inputOffsets, err := encodeOffsets(rec.InputOffsets)
	if err != nil {
		return err
	}
	outputOffsets, err := encodeOffsets(rec.OutputOffsets)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot_records (worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.WorkerID),
		string(rec.Strategy),
		int64(rec.Generation),
		rec.TakenAt.UnixNano(),
		rec.StorageKey,
		rec.Size,
		rec.Checksum,
		inputOffsets,
		outputOffsets,
	)
	return err
}

func (s *SQLiteStore) AddRecord(ctx context.Context, epoch api.Epoch, rec api.SnapshotRecord) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manifest_entries WHERE epoch = ?`, int64(epoch),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrEpochNotFound
	}
	return s.insertRecord(ctx, rec)
}

func (s *SQLiteStore) setStatus(ctx context.Context, epoch api.Epoch, status api.EntryStatus, completedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE manifest_entries
		SET status = ?, completed_at = ?
		WHERE epoch = ?`,
		string(status),
		completedAt,
		int64(epoch),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEpochNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkComplete(ctx context.Context, epoch api.Epoch, at time.Time) error {
	return s.setStatus(ctx, epoch, api.EntryComplete, at.UnixNano())
}

func (s *SQLiteStore) MarkAbandoned(ctx context.Context, epoch api.Epoch) error {
	return s.setStatus(ctx, epoch, api.EntryAbandoned, 0)
}

func (s *SQLiteStore) LatestComplete(ctx context.Context) (*api.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT epoch, status, created_at, completed_at
		FROM manifest_entries
		WHERE status = ?
		ORDER BY epoch DESC
		LIMIT 1`,
		string(api.EntryComplete),
	)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntryRecords(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStore) ListCompleted(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(ctx, api.EntryComplete)
}

func (s *SQLiteStore) ListAbandoned(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(ctx, api.EntryAbandoned)
}

func (s *SQLiteStore) listByStatus(ctx context.Context, status api.EntryStatus) ([]api.Epoch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch FROM manifest_entries
		WHERE status = ?
		ORDER BY epoch ASC`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []api.Epoch
	for rows.Next() {
		var epoch int64
		if err := rows.Scan(&epoch); err != nil {
			return nil, err
		}
		epochs = append(epochs, api.Epoch(epoch))
	}
	return epochs, rows.Err()
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, epoch api.Epoch) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot_records WHERE strategy = ? AND generation = ?`,
		string(api.StrategyCoordinated), int64(epoch),
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM manifest_entries WHERE epoch = ?`, int64(epoch),
	)
	return err
}

func (s *SQLiteStore) SaveWorkerRecord(ctx context.Context, rec api.SnapshotRecord) error {
	return s.insertRecord(ctx, rec)
}

func (s *SQLiteStore) LatestWorkerRecord(ctx context.Context, worker api.WorkerID) (*api.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE worker_id = ? AND strategy = ?
		ORDER BY generation DESC
		LIMIT 1`,
		string(worker),
		string(api.StrategyUncoordinated),
	)
	return scanRecord(row)
}

func (s *SQLiteStore) ListWorkerRecords(ctx context.Context, worker api.WorkerID) ([]api.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE worker_id = ? AND strategy = ?
		ORDER BY generation ASC`,
		string(worker),
		string(api.StrategyUncoordinated),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []api.SnapshotRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) DeleteWorkerRecord(ctx context.Context, worker api.WorkerID, generation uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshot_records
		WHERE worker_id = ? AND strategy = ? AND generation = ?`,
		string(worker),
		string(api.StrategyUncoordinated),
		int64(generation),
	)
	return err
}

func (s *SQLiteStore) Workers(ctx context.Context) ([]api.WorkerID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT worker_id FROM snapshot_records
		WHERE strategy = ?
		ORDER BY worker_id ASC`,
		string(api.StrategyUncoordinated),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []api.WorkerID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		workers = append(workers, api.WorkerID(id))
	}
	return workers, rows.Err()
}
