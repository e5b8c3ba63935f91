package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Skufu/veincheck/internal/triage"
)

// SQLiteStore keeps each record as a JSON payload next to a few indexed
// columns. Row order is insertion order.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		recorded_at TEXT NOT NULL,
		severity_level INTEGER NOT NULL,
		category TEXT NOT NULL,
		photo_analyzed INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_recorded_at ON assessments(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_assessments_category ON assessments(category);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, rec triage.AssessmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, recorded_at, severity_level, category, photo_analyzed, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.ID.String(),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		int(rec.Level),
		string(rec.Category),
		rec.PhotoAnalyzed(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]triage.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM assessments ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	records := []triage.AssessmentRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec triage.AssessmentRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
