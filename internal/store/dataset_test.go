package store

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/mocks"
)

func TestDataset(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "datasets")

	d, err := NewDataset(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, d.Dir())

	results := []*job.Result{
		sampleResult("job-1", job.StatusSuccess),
		sampleResult("job-2", job.StatusFailure),
	}
	var wg sync.WaitGroup
	for _, r := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.WriteResult(ctx, r))
		}()
	}
	wg.Wait()

	summary := job.Summary{TotalJobs: 2, SuccessfulJobs: 1, FailedJobs: 1, Results: []job.Result{*results[0], *results[1]}}
	require.NoError(t, d.WriteSummary(ctx, summary))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "closing twice is harmless")
	assert.ErrorIs(t, d.WriteResult(ctx, results[0]), os.ErrClosed)

	f, err := os.Open(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	defer f.Close()

	seen := map[string]job.Result{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r job.Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		seen[r.JobID] = r
	}
	require.NoError(t, scanner.Err())
	require.Len(t, seen, 2)
	assert.Equal(t, job.StatusSuccess, seen["job-1"].Status)
	assert.Equal(t, "media duration unavailable", seen["job-2"].Error.Message)
	assert.Nil(t, seen["job-2"].DurationFoundSec)

	raw, err := os.ReadFile(filepath.Join(dir, OverallFile))
	require.NoError(t, err)
	var got job.Summary
	require.NoError(t, json.Unmarshal(raw, &got))
	if diff := cmp.Diff(summary.TotalJobs, got.TotalJobs); diff != "" {
		t.Errorf("overall total mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, got.Results, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestDatasetOmitsUnsetFinishTime(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewDataset(dir)
	require.NoError(t, err)

	pending := sampleResult("job-pending", job.StatusPending)
	require.NoError(t, d.WriteResult(ctx, pending))
	require.NoError(t, d.WriteResult(ctx, sampleResult("job-done", job.StatusSuccess)))
	require.NoError(t, d.WriteSummary(ctx, job.Summary{TotalJobs: 2, StartedAt: pending.StartedAt}))
	require.NoError(t, d.Close())

	lines, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(lines)), "\n")
	require.Len(t, rows, 2)
	assert.NotContains(t, rows[0], "finished_at")
	assert.NotContains(t, rows[0], "0001-01-01")
	assert.Contains(t, rows[1], `"finished_at":"2025-11-20T10:02:00-05:00"`)

	overall, err := os.ReadFile(filepath.Join(dir, OverallFile))
	require.NoError(t, err)
	assert.NotContains(t, string(overall), "finished_at")
}

func TestDatasetAppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		d, err := NewDataset(dir)
		require.NoError(t, err)
		require.NoError(t, d.WriteResult(context.Background(), sampleResult("job", job.StatusSuccess)))
		require.NoError(t, d.Close())
	}
	raw, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(raw))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	r := sampleResult("job-1", job.StatusSuccess)

	good := new(mocks.MockResultSink)
	bad := new(mocks.MockResultSink)
	good.On("WriteResult", mock.Anything, r).Return(nil).Once()
	bad.On("WriteResult", mock.Anything, r).Return(errors.New("db down")).Once()
	good.On("WriteSummary", mock.Anything, mock.Anything).Return(nil).Once()
	bad.On("WriteSummary", mock.Anything, mock.Anything).Return(nil).Once()

	m := Multi{bad, good}
	err := m.WriteResult(ctx, r)
	assert.ErrorContains(t, err, "db down")
	assert.NoError(t, m.WriteSummary(ctx, job.Summary{}))

	good.AssertExpectations(t)
	bad.AssertExpectations(t)
	assert.NoError(t, Multi(nil).WriteResult(ctx, r))
}
