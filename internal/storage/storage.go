// Package storage persists the reconciled snapshot and the run log, either
// on local disk or in S3 and DynamoDB.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/olivestudio/leadrecon/internal/config"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
	"github.com/olivestudio/leadrecon/internal/table"
)

// ErrNoSnapshot is returned when no run has produced a snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot available")

const (
	runLogFile   = "runs.json"
	maxLocalRuns = 200
)

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunEmpty     RunStatus = "empty"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one entry of the run log.
type RunRecord struct {
	ID         string    `json:"id" dynamodbav:"ID"`
	StartedAt  time.Time `json:"started_at" dynamodbav:"StartedAt"`
	FinishedAt time.Time `json:"finished_at" dynamodbav:"FinishedAt"`
	Status     RunStatus `json:"status" dynamodbav:"Status"`
	Reports    int       `json:"reports" dynamodbav:"Reports"`
	Records    int       `json:"records" dynamodbav:"Records"`
	Published  []string  `json:"published,omitempty" dynamodbav:"Published,omitempty"`
	Error      string    `json:"error,omitempty" dynamodbav:"Error,omitempty"`
}

// Storage holds the snapshot at a fixed local cache path and, for the
// "aws" type, mirrors it to S3 and logs runs to DynamoDB.
type Storage struct {
	cfg       config.StorageConfig
	cachePath string
	aws       *AWSStorage

	mu sync.Mutex
}

// New creates the store described by cfg. cachePath is where the snapshot
// CSV lives locally.
func New(ctx context.Context, cfg config.StorageConfig, cachePath string) (*Storage, error) {
	s := &Storage{cfg: cfg, cachePath: cachePath}

	switch cfg.Type {
	case "aws":
		a, err := NewAWSStorage(ctx, cfg.DynamoDBTable, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		s.aws = a
	case "local", "":
		if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	return s, nil
}

// NewWithAWS is New with an already-built AWS backend.
func NewWithAWS(cfg config.StorageConfig, cachePath string, a *AWSStorage) *Storage {
	return &Storage{cfg: cfg, cachePath: cachePath, aws: a}
}

// SaveSnapshot overwrites the cached snapshot with t as UTF-8 CSV with a
// byte-order mark.
func (s *Storage) SaveSnapshot(ctx context.Context, t *table.Table) error {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, t, true); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	err := writeFileAtomic(s.cachePath, buf.Bytes())
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if s.aws != nil {
		if err := s.aws.PutSnapshot(ctx, buf.Bytes()); err != nil {
			return err
		}
	}
	logger.Info("snapshot saved", "path", s.cachePath, "rows", t.Len())
	return nil
}

// LoadSnapshot reads the cached snapshot, falling back to S3 when the
// local copy is missing.
func (s *Storage) LoadSnapshot(ctx context.Context) (*table.Table, error) {
	data, err := os.ReadFile(s.cachePath)
	if errors.Is(err, os.ErrNotExist) && s.aws != nil {
		data, err = s.aws.GetSnapshot(ctx)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrNoSnapshot) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return table.ReadCSV(bytes.NewReader(data))
}

// RecordRun appends rec to the run log.
func (s *Storage) RecordRun(ctx context.Context, rec RunRecord) error {
	if s.aws != nil {
		return s.aws.PutRun(ctx, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	runs, err := s.readLocalRuns()
	if err != nil {
		return err
	}
	runs = append(runs, rec)
	if len(runs) > maxLocalRuns {
		runs = runs[len(runs)-maxLocalRuns:]
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.cfg.LocalPath, runLogFile), data)
}

// RecentRuns returns up to limit runs, newest first.
func (s *Storage) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.aws != nil {
		return s.aws.RecentRuns(ctx, limit)
	}

	s.mu.Lock()
	runs, err := s.readLocalRuns()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Storage) readLocalRuns() ([]RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.LocalPath, runLogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var runs []RunRecord
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("parsing run log: %w", err)
	}
	return runs, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
