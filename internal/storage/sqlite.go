//go:build !nosqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"forecastnet/internal/model"

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

// DefaultStoreKind reports the backend used when none is configured.
func DefaultStoreKind() string {
	return "sqlite"
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLiteStore(path), nil
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

func (s *SQLiteStore) SaveReport(ctx context.Context, report model.EvaluationReport) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeReport(report)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO reports (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, report.ID, report.CreatedAtUTC, report.SchemaVersion, report.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (model.EvaluationReport, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.EvaluationReport{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvaluationReport{}, false, nil
		}
		return model.EvaluationReport{}, false, err
	}

	report, err := DecodeReport(payload)
	if err != nil {
		return model.EvaluationReport{}, false, fmt.Errorf("decode report %s: %w", id, err)
	}
	return report, true, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]model.EvaluationReport, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, payload FROM reports
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EvaluationReport
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		report, err := DecodeReport(payload)
		if err != nil {
			return nil, fmt.Errorf("decode report %s: %w", id, err)
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTopology(ctx context.Context, topology model.TopologyRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTopology(topology)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO topologies (name, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, topology.Name, topology.SchemaVersion, topology.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetTopology(ctx context.Context, name string) (model.TopologyRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.TopologyRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM topologies WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TopologyRecord{}, false, nil
		}
		return model.TopologyRecord{}, false, err
	}

	topology, err := DecodeTopology(payload)
	if err != nil {
		return model.TopologyRecord{}, false, fmt.Errorf("decode topology %s: %w", name, err)
	}
	return topology, true, nil
}

func (s *SQLiteStore) ListTopologies(ctx context.Context) ([]model.TopologyRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name, payload FROM topologies ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TopologyRecord
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}
		topology, err := DecodeTopology(payload)
		if err != nil {
			return nil, fmt.Errorf("decode topology %s: %w", name, err)
		}
		out = append(out, topology)
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
		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS reports_created_at ON reports (created_at);
		CREATE TABLE IF NOT EXISTS topologies (
			name TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
