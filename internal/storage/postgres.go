package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/triage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the postgres schema up to date.
func Migrate(databaseURL string, logger *logrus.Logger) error {
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return nil
		}
		return fmt.Errorf("running migrations up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.WithError(err).Warn("could not read migration version")
		return nil
	}
	logger.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("migrations applied")
	return nil
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec triage.AssessmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO assessments (id, recorded_at, severity_level, category, photo_analyzed, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Timestamp.UTC(), int(rec.Level), string(rec.Category), rec.PhotoAnalyzed(), payload)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]triage.AssessmentRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT payload FROM assessments ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	records := []triage.AssessmentRecord{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec triage.AssessmentRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
