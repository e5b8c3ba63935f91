package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/triage"
)

// CSVStore keeps the dataset in one tabular file. Appends are funnelled
// through a single writer goroutine which rewrites the file via a temp file
// and rename, so readers never observe a partial write.
type CSVStore struct {
	path string
	log  *logrus.Logger

	queue chan appendJob
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

type appendJob struct {
	rec  triage.AssessmentRecord
	errc chan error
}

func NewCSVStore(path string, logger *logrus.Logger) (*CSVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &CSVStore{
		path:  path,
		log:   logger,
		queue: make(chan appendJob),
		quit:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *CSVStore) writer() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			err := s.appendNow(job.rec)
			if err != nil {
				s.log.WithError(err).WithField("path", s.path).Error("append assessment failed")
			}
			job.errc <- err
		case <-s.quit:
			return
		}
	}
}

// Append waits until the record is durable or ctx ends. A record handed to
// the writer is written even if the caller stops waiting.
func (s *CSVStore) Append(ctx context.Context, rec triage.AssessmentRecord) error {
	job := appendJob{rec: rec, errc: make(chan error, 1)}

	select {
	case <-s.quit:
		return ErrClosed
	default:
	}

	select {
	case s.queue <- job:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CSVStore) appendNow(rec triage.AssessmentRecord) error {
	records, err := s.read()
	if err != nil {
		return err
	}
	records = append(records, rec)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".assessments-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod assessments: %w", err)
	}

	if err := WriteCSV(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("write assessments: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync assessments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace assessments file: %w", err)
	}
	return nil
}

// LoadAll reads the whole file. A missing file is an empty dataset.
func (s *CSVStore) LoadAll(ctx context.Context) ([]triage.AssessmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read()
}

func (s *CSVStore) read() ([]triage.AssessmentRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []triage.AssessmentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open assessments: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func (s *CSVStore) Ping(ctx context.Context) error {
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

func (s *CSVStore) Close() error {
	s.once.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
	return nil
}
