// internal/engine/scheduler.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/job"
)

// ErrNoJobs is returned before any session opens when the run has nothing to do.
var ErrNoJobs = errors.New("no valid jobs to run")

// JobRunner executes a single job.
type JobRunner interface {
	Run(ctx context.Context, j job.Job) *job.Result
}

// ResultSink receives one record per finished job and one overall record per run.
type ResultSink interface {
	WriteResult(ctx context.Context, r *job.Result) error
	WriteSummary(ctx context.Context, s job.Summary) error
}

// Scheduler dispatches jobs under a concurrency limit with a pacing gap
// between starts, gated by host capacity.
type Scheduler struct {
	runner      JobRunner
	sink        ResultSink
	capacity    CapacityProbe
	concurrency int64
	interval    time.Duration
	backoff     time.Duration
	clock       clock.Clock
	logger      *zap.Logger
}

// NewScheduler validates its dependencies. sink and capacity may be nil.
func NewScheduler(cfg config.SchedulerConfig, runner JobRunner, sink ResultSink, capacity CapacityProbe, clk clock.Clock, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("job runner cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		runner:      runner,
		sink:        sink,
		capacity:    capacity,
		concurrency: int64(cfg.Concurrency),
		interval:    cfg.ConcurrencyInterval,
		backoff:     cfg.CapacityBackoff,
		clock:       clk,
		logger:      logger.With(zap.String("component", "scheduler")),
	}, nil
}

// Run dispatches jobs in input order and waits for all of them. The returned
// aggregate is valid even when an error is returned. Errors mean the run
// bookkeeping failed or ctx ended.
func (s *Scheduler) Run(ctx context.Context, jobs []job.Job) (*job.Overall, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	overall := job.NewOverall(len(jobs), s.clock.Now())
	sem := semaphore.NewWeighted(s.concurrency)
	gate := newCapacityGate(s.capacity, s.backoff, s.clock, s.logger)

	var (
		wg        sync.WaitGroup
		sinkMu    sync.Mutex
		sinkErrs  []error
		dispatch  = 0
		stopCause error
	)
	recordSinkErr := func(err error) {
		sinkMu.Lock()
		sinkErrs = append(sinkErrs, err)
		sinkMu.Unlock()
	}

	s.logger.Info("Run started.", zap.Int("jobs", len(jobs)), zap.Int64("concurrency", s.concurrency),
		zap.Duration("interval", s.interval))

dispatchLoop:
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			stopCause = err
			break
		}
		ok, err := gate.admit(ctx)
		if err != nil {
			stopCause = err
			break
		}
		if !ok {
			s.logger.Warn("Dispatch stopped by capacity gate.", zap.Int("remaining", len(jobs)-i))
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			stopCause = err
			break
		}

		wg.Add(1)
		dispatch++
		go func(j job.Job) {
			defer wg.Done()
			defer sem.Release(1)

			res := s.runJob(ctx, j)
			overall.Record(res)
			if s.sink != nil {
				if err := s.sink.WriteResult(context.WithoutCancel(ctx), res); err != nil {
					s.logger.Error("Failed to emit job result.", zap.String("job_id", j.ID), zap.Error(err))
					recordSinkErr(fmt.Errorf("emitting result of job %s: %w", j.ID, err))
				}
			}
		}(j)

		if i < len(jobs)-1 && s.interval > 0 {
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				stopCause = err
				break dispatchLoop
			}
		}
	}

	wg.Wait()
	overall.Finish(s.clock.Now())
	total, ok, failed := overall.Counts()
	s.logger.Info("Run finished.", zap.Int("total", total), zap.Int("dispatched", dispatch),
		zap.Int("successful", ok), zap.Int("failed", failed))

	if s.sink != nil {
		if err := s.sink.WriteSummary(context.WithoutCancel(ctx), overall.Snapshot()); err != nil {
			recordSinkErr(fmt.Errorf("emitting overall record: %w", err))
		}
	}
	if stopCause != nil {
		s.logger.Warn("Run interrupted.", zap.Error(stopCause))
		sinkErrs = append(sinkErrs, fmt.Errorf("run interrupted: %w", stopCause))
	}
	return overall, errors.Join(sinkErrs...)
}

// runJob shields the scheduler from runner faults.
func (s *Scheduler) runJob(ctx context.Context, j job.Job) (res *job.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Job runner panicked.", zap.String("job_id", j.ID), zap.Any("panic", rec))
			res = job.NewResult(j, s.clock.Now())
			_ = res.Catastrophic(s.clock.Now(), fmt.Errorf("runner panic: %v", rec), string(debug.Stack()))
		}
	}()

	res = s.runner.Run(ctx, j)
	if res == nil {
		res = job.NewResult(j, s.clock.Now())
		_ = res.Catastrophic(s.clock.Now(), errors.New("runner returned no result"), "")
	} else if !res.Status.Terminal() {
		_ = res.Catastrophic(s.clock.Now(), errors.New("runner returned a non-terminal result"), "")
	}
	return res
}
