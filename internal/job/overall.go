// internal/job/overall.go
package job

import (
	"sync"
	"time"
)

// Summary is an immutable snapshot of an Overall, safe to hand to sinks.
type Summary struct {
	TotalJobs      int        `json:"total_jobs"`
	SuccessfulJobs int        `json:"successful_jobs"`
	FailedJobs     int        `json:"failed_jobs"`
	Results        []Result   `json:"results"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Overall is the run-wide aggregate. Completion callbacks from concurrent jobs
// call Record, so every access goes through the mutex.
type Overall struct {
	mu sync.Mutex

	totalJobs      int
	successfulJobs int
	failedJobs     int
	results        []*Result
	startedAt      time.Time
	finishedAt     time.Time
}

// NewOverall starts an aggregate for a run of total jobs.
func NewOverall(total int, startedAt time.Time) *Overall {
	return &Overall{
		totalJobs: total,
		results:   make([]*Result, 0, total),
		startedAt: startedAt,
	}
}

// Record appends a completed result in completion order. Anything other than
// success counts as failed.
func (o *Overall) Record(r *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.results = append(o.results, r)
	if r.Status == StatusSuccess {
		o.successfulJobs++
	} else {
		o.failedJobs++
	}
}

// Finish stamps the end of the run.
func (o *Overall) Finish(at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishedAt = at
}

// Counts returns total, successful and failed job counts.
func (o *Overall) Counts() (total, successful, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalJobs, o.successfulJobs, o.failedJobs
}

// Snapshot copies the aggregate, including every recorded result.
func (o *Overall) Snapshot() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]Result, len(o.results))
	for i, r := range o.results {
		results[i] = *r
	}
	s := Summary{
		TotalJobs:      o.totalJobs,
		SuccessfulJobs: o.successfulJobs,
		FailedJobs:     o.failedJobs,
		Results:        results,
		StartedAt:      o.startedAt,
	}
	if !o.finishedAt.IsZero() {
		finished := o.finishedAt
		s.FinishedAt = &finished
	}
	return s
}
