// Package jobs holds the batch job bodies and the runtime that frames every
// run: parameter validation, execution, guaranteed cleanup, and the detail
// and log trail that makes a run auditable afterwards.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Job is one batch job body. Implementations hold their collaborators and
// stay stateless between runs; everything run-specific arrives through the
// context and params.
type Job interface {
	// ID is the stable identifier used in definitions, the execution
	// ledger and metric labels.
	ID() string
	// Type classifies the body for the ledger.
	Type() domain.JobType
	// Validate rejects malformed params before any work starts.
	Validate(ctx domain.Context, params domain.JobParams) error
	// Execute does the work. The returned outcome is honored even when
	// err is non-nil, so partial progress stays visible.
	Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error)
	// Cleanup releases per-run resources. The runtime calls it on every
	// exit path with a context that survives cancellation.
	Cleanup(ctx domain.Context)
}

// Runtime frames job runs. It owns the validate/execute/cleanup sequence and
// writes the per-execution detail and log rows; envelope rows (start and end
// records) belong to the caller.
type Runtime struct {
	ledger domain.ExecutionLedger
}

// NewRuntime builds a runtime. A nil ledger disables the detail/log trail,
// which single-shot CLI runs without a database use.
func NewRuntime(ledger domain.ExecutionLedger) *Runtime {
	return &Runtime{ledger: ledger}
}

// Run drives one attempt: validate, execute, cleanup. Cleanup runs on every
// exit path, a panicking body surfaces as an error instead of taking the
// process down, and the outcome is returned alongside the error so callers
// can record partial progress.
func (rt *Runtime) Run(ctx domain.Context, job Job, params domain.JobParams) (outcome *domain.JobOutcome, err error) {
	execID := observability.ExecutionIDFromContext(ctx)
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("job_id", job.ID()),
		slog.String("execution_id", execID))
	start := time.Now()

	defer func() {
		// The run context may already be cancelled or past its deadline;
		// cleanup and the closing trail still have to land.
		tail := context.WithoutCancel(ctx)
		job.Cleanup(tail)
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("op=jobs.Run: job=%s: panic: %v: %w", job.ID(), r, domain.ErrInternal)
			lg.Error("job panicked", slog.Any("panic", r))
			rt.trailLog(tail, execID, "error", fmt.Sprintf("panic: %v", r))
		}
	}()

	rt.trailLog(ctx, execID, "info", "run started")

	if err := job.Validate(ctx, params); err != nil {
		lg.Error("job params rejected", slog.Any("error", err))
		rt.trailLog(ctx, execID, "error", "params rejected: "+err.Error())
		return nil, fmt.Errorf("op=jobs.Run: job=%s: validate: %w", job.ID(), err)
	}

	outcome, err = job.Execute(ctx, params)
	rt.trailDetails(context.WithoutCancel(ctx), execID, outcome)

	if err != nil {
		lg.Error("job run failed",
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		rt.trailLog(context.WithoutCancel(ctx), execID, "error", err.Error())
		return outcome, err
	}

	lg.Info("job run finished",
		slog.Int("processed", outcomeProcessed(outcome)),
		slog.Int("failed", outcomeFailed(outcome)),
		slog.Duration("duration", time.Since(start)))
	rt.trailLog(ctx, execID, "info",
		fmt.Sprintf("run finished: processed=%d failed=%d", outcomeProcessed(outcome), outcomeFailed(outcome)))
	return outcome, nil
}

// trailLog appends one log row to the execution trail. Trail writes are best
// effort; losing one must not fail the run.
func (rt *Runtime) trailLog(ctx domain.Context, execID, level, message string) {
	if rt.ledger == nil || execID == "" {
		return
	}
	if err := rt.ledger.AppendLog(ctx, execID, level, message); err != nil {
		slog.Warn("execution log write failed",
			slog.String("execution_id", execID),
			slog.Any("error", err))
	}
}

func (rt *Runtime) trailDetails(ctx domain.Context, execID string, outcome *domain.JobOutcome) {
	if rt.ledger == nil || execID == "" || outcome == nil {
		return
	}
	for key, value := range outcome.Details {
		if err := rt.ledger.AppendDetail(ctx, execID, key, value); err != nil {
			slog.Warn("execution detail write failed",
				slog.String("execution_id", execID),
				slog.String("key", key),
				slog.Any("error", err))
		}
	}
}

func outcomeProcessed(o *domain.JobOutcome) int {
	if o == nil {
		return 0
	}
	return o.ProcessedRecords
}

func outcomeFailed(o *domain.JobOutcome) int {
	if o == nil {
		return 0
	}
	return o.FailedRecords
}
