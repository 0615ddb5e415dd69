package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

const (
	ResultsFile = "results.jsonl"
	OverallFile = "overall.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dataset writes one JSON line per job to results.jsonl as jobs complete,
// and the run aggregate to overall.json at the end.
type Dataset struct {
	dir string

	mu      sync.Mutex
	results *os.File
	closed  bool
}

// NewDataset creates dir (a leading ~ is expanded) and opens results.jsonl
// for appending.
func NewDataset(dir string) (*Dataset, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand dataset dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(expanded, ResultsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	return &Dataset{dir: expanded, results: f}, nil
}

// Dir returns the expanded dataset directory.
func (d *Dataset) Dir() string { return d.dir }

func (d *Dataset) WriteResult(_ context.Context, r *job.Result) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result of job %s: %w", r.JobID, err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return os.ErrClosed
	}
	if _, err := d.results.Write(line); err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	return nil
}

// WriteSummary replaces overall.json through a temp file and rename.
func (d *Dataset) WriteSummary(_ context.Context, s job.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode overall record: %w", err)
	}
	tmp, err := os.CreateTemp(d.dir, OverallFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create overall record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write overall record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write overall record: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, OverallFile)); err != nil {
		return fmt.Errorf("failed to publish overall record: %w", err)
	}
	return nil
}

// Close syncs and closes results.jsonl.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.results.Sync(); err != nil {
		d.results.Close()
		return err
	}
	return d.results.Close()
}
