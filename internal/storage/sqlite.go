//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"reactsens/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveParameterSet(ctx context.Context, record model.ParameterSetRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeParameterSet(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO parameter_sets (model, idx, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model, idx) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.Model, record.Set.Index, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetParameterSet(ctx context.Context, modelName string, index int) (model.ParameterSetRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ParameterSetRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM parameter_sets WHERE model = ? AND idx = ?`, modelName, index).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ParameterSetRecord{}, false, nil
		}
		return model.ParameterSetRecord{}, false, err
	}

	record, err := DecodeParameterSet(payload)
	if err != nil {
		return model.ParameterSetRecord{}, false, fmt.Errorf("decode parameter set %s/%d: %w", modelName, index, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListParameterSets(ctx context.Context, modelName string) ([]int, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT idx FROM parameter_sets WHERE model = ? ORDER BY idx`, modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	indices := make([]int, 0, 16)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

// SaveCoefficients replaces the tensor for key in a single upsert so readers see
// either the previous or the new tensor.
func (s *SQLiteStore) SaveCoefficients(ctx context.Context, key model.CacheKey, tensor model.Tensor4) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTensor(tensor)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO coefficients (model, metric, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(model, metric) DO UPDATE SET
			payload = excluded.payload
	`, key.Model, key.Metric, payload)
	return err
}

func (s *SQLiteStore) GetCoefficients(ctx context.Context, key model.CacheKey) (model.Tensor4, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Tensor4{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM coefficients WHERE model = ? AND metric = ?`, key.Model, key.Metric).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Tensor4{}, false, nil
		}
		return model.Tensor4{}, false, err
	}

	tensor, err := DecodeTensor(payload)
	if err != nil {
		return model.Tensor4{}, false, fmt.Errorf("decode coefficients %s: %w", key, err)
	}
	return tensor, true, nil
}

func (s *SQLiteStore) DeleteCoefficients(ctx context.Context, key model.CacheKey) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM coefficients WHERE model = ? AND metric = ?`, key.Model, key.Metric)
	return err
}

func (s *SQLiteStore) SaveRun(ctx context.Context, record model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if record.RunID == "" {
		return errors.New("run id is required")
	}

	payload, err := EncodeRun(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, model, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			model = excluded.model,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, record.RunID, record.Model, record.CreatedAtUTC, payload)
	return err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, modelName string) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT payload FROM runs
		WHERE ? = '' OR model = ?
		ORDER BY created_at DESC, rowid DESC
	`, modelName, modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RunRecord, 0, 16)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS parameter_sets (
			model TEXT NOT NULL,
			idx INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (model, idx)
		);
		CREATE TABLE IF NOT EXISTS coefficients (
			model TEXT NOT NULL,
			metric TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (model, metric)
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
