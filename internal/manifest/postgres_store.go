package manifest

import (
	"context"
	"database/sql"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS manifest_entries (
			epoch BIGINT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS snapshot_records (
			worker_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			generation BIGINT NOT NULL,
			taken_at BIGINT NOT NULL,
			storage_key TEXT NOT NULL,
			size BIGINT NOT NULL,
			checksum TEXT NOT NULL,
			input_offsets BYTEA,
			output_offsets BYTEA,
			PRIMARY KEY (worker_id, strategy, generation)
		);
	`)
	return err
}

func (s *PostgresStore) CreateEntry(ctx context.Context, entry *api.ManifestEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest_entries (epoch, status, created_at, completed_at)
		VALUES ($1, $2, $3, 0)`,
		int64(entry.Epoch),
		string(entry.Status),
		entry.CreatedAt.UnixNano(),
	)
	return err
}

func (s *PostgresStore) GetEntry(ctx context.Context, epoch api.Epoch) (*api.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT epoch, status, created_at, completed_at
		FROM manifest_entries
		WHERE epoch = $1`,
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

func (s *PostgresStore) loadEntryRecords(ctx context.Context, entry *api.ManifestEntry) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE strategy = $1 AND generation = $2`,
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

func (s *PostgresStore) insertRecord(ctx context.Context, rec api.SnapshotRecord) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *PostgresStore) AddRecord(ctx context.Context, epoch api.Epoch, rec api.SnapshotRecord) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manifest_entries WHERE epoch = $1`, int64(epoch),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrEpochNotFound
	}
	return s.insertRecord(ctx, rec)
}

func (s *PostgresStore) setStatus(ctx context.Context, epoch api.Epoch, status api.EntryStatus, completedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE manifest_entries
		SET status = $1, completed_at = $2
		WHERE epoch = $3`,
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

func (s *PostgresStore) MarkComplete(ctx context.Context, epoch api.Epoch, at time.Time) error {
	return s.setStatus(ctx, epoch, api.EntryComplete, at.UnixNano())
}

func (s *PostgresStore) MarkAbandoned(ctx context.Context, epoch api.Epoch) error {
	return s.setStatus(ctx, epoch, api.EntryAbandoned, 0)
}

func (s *PostgresStore) LatestComplete(ctx context.Context) (*api.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT epoch, status, created_at, completed_at
		FROM manifest_entries
		WHERE status = $1
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

func (s *PostgresStore) ListCompleted(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(ctx, api.EntryComplete)
}

func (s *PostgresStore) ListAbandoned(ctx context.Context) ([]api.Epoch, error) {
	return s.listByStatus(ctx, api.EntryAbandoned)
}

func (s *PostgresStore) listByStatus(ctx context.Context, status api.EntryStatus) ([]api.Epoch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch FROM manifest_entries
		WHERE status = $1
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

func (s *PostgresStore) DeleteEntry(ctx context.Context, epoch api.Epoch) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot_records WHERE strategy = $1 AND generation = $2`,
		string(api.StrategyCoordinated), int64(epoch),
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM manifest_entries WHERE epoch = $1`, int64(epoch),
	)
	return err
}

func (s *PostgresStore) SaveWorkerRecord(ctx context.Context, rec api.SnapshotRecord) error {
	return s.insertRecord(ctx, rec)
}

func (s *PostgresStore) LatestWorkerRecord(ctx context.Context, worker api.WorkerID) (*api.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE worker_id = $1 AND strategy = $2
		ORDER BY generation DESC
		LIMIT 1`,
		string(worker),
		string(api.StrategyUncoordinated),
	)
	return scanRecord(row)
}

func (s *PostgresStore) ListWorkerRecords(ctx context.Context, worker api.WorkerID) ([]api.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, strategy, generation, taken_at, storage_key, size, checksum, input_offsets, output_offsets
		FROM snapshot_records
		WHERE worker_id = $1 AND strategy = $2
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

func (s *PostgresStore) DeleteWorkerRecord(ctx context.Context, worker api.WorkerID, generation uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshot_records
		WHERE worker_id = $1 AND strategy = $2 AND generation = $3`,
		string(worker),
		string(api.StrategyUncoordinated),
		int64(generation),
	)
	return err
}

func (s *PostgresStore) Workers(ctx context.Context) ([]api.WorkerID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT worker_id FROM snapshot_records
		WHERE strategy = $1
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
