// Package storage persists completed assessments. Every backend keeps the
// dataset append-only and returns records in the order they were written.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/triage"
)

var ErrClosed = errors.New("store is closed")

// Store is the append-only assessment dataset.
type Store interface {
	Append(ctx context.Context, rec triage.AssessmentRecord) error
	LoadAll(ctx context.Context) ([]triage.AssessmentRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend     string
	CSVPath     string
	SQLitePath  string
	DatabaseURL string
}

// Open builds the store selected by cfg.Backend. The postgres backend runs
// its migrations before returning.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendCSV:
		return NewCSVStore(cfg.CSVPath, logger)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case BackendPostgres:
		if err := Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
