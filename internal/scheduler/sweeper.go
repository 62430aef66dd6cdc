package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Sweeper reaps executions stuck in Running, usually left behind by a crash
// between the start and terminal records. Anything running longer than the
// maximum age is marked Failed so dependency checks and dashboards see the
// truth.
type Sweeper struct {
	ledger        domain.ExecutionLedger
	maxRunningAge time.Duration
	interval      time.Duration
	now           func() time.Time
}

// NewSweeper builds a sweeper; zero durations select two hours and one
// minute, and a nil now means the wall clock.
func NewSweeper(ledger domain.ExecutionLedger, maxRunningAge, interval time.Duration, now func() time.Time) *Sweeper {
	if ledger == nil {
		return nil
	}
	if maxRunningAge <= 0 {
		maxRunningAge = 2 * time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{ledger: ledger, maxRunningAge: maxRunningAge, interval: interval, now: now}
}

// Run sweeps once immediately and then on every tick until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("execution sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce reaps every overdue Running execution and returns how many were
// checked and how many reaped.
func (s *Sweeper) SweepOnce(ctx context.Context) (checked, reaped int) {
	tracer := otel.Tracer("scheduler.sweeper")
	ctx, span := tracer.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("sweep.max_running_age_seconds", s.maxRunningAge.Seconds()),
	)

	running, err := s.ledger.ListRunning(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("execution sweep list failed", slog.Any("error", err))
		return 0, 0
	}
	checked = len(running)
	cutoff := s.now().Add(-s.maxRunningAge)

	for _, exec := range running {
		if !exec.StartedAt.Before(cutoff) {
			continue
		}
		end := s.now()
		exec.Status = domain.ExecutionFailed
		exec.CompletedAt = &end
		exec.Severity = domain.SeverityHigh
		exec.ErrorMessage = fmt.Sprintf("running longer than %s, reaped by sweeper", s.maxRunningAge)
		if err := s.ledger.Update(ctx, exec); err != nil {
			span.RecordError(err)
			slog.Error("execution sweep update failed",
				slog.String("execution_id", exec.ID),
				slog.Any("error", err))
			continue
		}
		reaped++
		slog.Warn("stale execution reaped",
			slog.String("job_id", exec.JobID),
			slog.String("execution_id", exec.ID),
			slog.Time("started_at", exec.StartedAt))
	}

	span.SetAttributes(
		attribute.Int("sweep.checked", checked),
		attribute.Int("sweep.reaped", reaped),
	)
	return checked, reaped
}
