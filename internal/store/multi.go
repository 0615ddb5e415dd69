package store

import (
	"context"
	"errors"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

// Sink receives finished job results and the run aggregate.
type Sink interface {
	WriteResult(ctx context.Context, r *job.Result) error
	WriteSummary(ctx context.Context, s job.Summary) error
}

// Multi fans every write out to all sinks. A failing sink does not stop the
// others; the errors are joined.
type Multi []Sink

var (
	_ Sink = Multi(nil)
	_ Sink = (*Dataset)(nil)
	_ Sink = (*Postgres)(nil)
)

func (m Multi) WriteResult(ctx context.Context, r *job.Result) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteResult(ctx, r))
	}
	return errors.Join(errs...)
}

func (m Multi) WriteSummary(ctx context.Context, s job.Summary) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.WriteSummary(ctx, s))
	}
	return errors.Join(errs...)
}
