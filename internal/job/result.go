// internal/job/result.go
package job

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a Result.
type Status string

const (
	StatusPending             Status = "pending"
	StatusSuccess             Status = "success"
	StatusFailure             Status = "failure"
	StatusCatastrophicFailure Status = "catastrophic_failure"
)

// ErrStatusTerminal is returned when a transition is attempted on a result that
// already reached a terminal status.
var ErrStatusTerminal = errors.New("job result status is already terminal")

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCatastrophicFailure
}

// ErrorInfo is the serializable form of the fault that ended a job.
type ErrorInfo struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Result accumulates the outcome of one job. It is owned by a single runner
// until returned to the scheduler, so it carries no lock of its own.
type Result struct {
	JobID                 string     `json:"job_id"`
	URL                   string     `json:"url"`
	VideoID               string     `json:"video_id"`
	Platform              Platform   `json:"platform"`
	Status                Status     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at,omitempty"`
	DurationFoundSec      *float64   `json:"duration_found_sec"`
	WatchTimeRequestedSec int        `json:"watch_time_requested_sec"`
	WatchTimeActualSec    float64    `json:"watch_time_actual_sec"`
	ProxyUsed             string     `json:"proxy_used,omitempty"`
	Error                 *ErrorInfo `json:"error"`
}

// NewResult opens a pending result for j.
func NewResult(j Job, startedAt time.Time) *Result {
	return &Result{
		JobID:     j.ID,
		URL:       j.URL,
		VideoID:   j.VideoID,
		Platform:  j.Platform,
		Status:    StatusPending,
		StartedAt: startedAt,
	}
}

// SetDuration records the media duration discovered on the page.
func (r *Result) SetDuration(sec float64) {
	r.DurationFoundSec = &sec
}

// Succeed marks the result successful.
func (r *Result) Succeed(at time.Time) error {
	return r.finish(StatusSuccess, at, nil, "")
}

// Fail marks the result as an ordinary job failure.
func (r *Result) Fail(at time.Time, cause error, trace string) error {
	return r.finish(StatusFailure, at, cause, trace)
}

// Catastrophic marks the result as an orchestration fault, distinct from an
// expected failure such as an unavailable video.
func (r *Result) Catastrophic(at time.Time, cause error, trace string) error {
	return r.finish(StatusCatastrophicFailure, at, cause, trace)
}

func (r *Result) finish(status Status, at time.Time, cause error, trace string) error {
	if r.Status.Terminal() {
		return ErrStatusTerminal
	}
	r.Status = status
	r.FinishedAt = &at
	if cause != nil {
		r.Error = &ErrorInfo{Message: cause.Error(), Trace: trace}
	}
	return nil
}
