// Package scheduler drives the registered job definitions: per-definition
// trigger loops, a bounded worker pool, dependency gating, per-attempt
// timeouts, retries on exponential backoff, and the execution envelope
// around every run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/jobs"
)

const (
	defaultWorkers = 20
	// dependencyWindow is how recent a dependency's success must be for a
	// dependent run to proceed.
	dependencyWindow = 24 * time.Hour
)

// Options wires a Scheduler.
type Options struct {
	Registry *jobs.Registry
	Runtime  *jobs.Runtime
	Ledger   domain.ExecutionLedger
	Notifier domain.Notifier
	// Location is the calendar cron expressions fire in.
	Location *time.Location
	// Workers bounds concurrently executing jobs; <= 0 selects the default.
	Workers int
	// DependencyWindow overrides the stock 24h freshness requirement.
	DependencyWindow time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Scheduler runs job definitions. Start spawns one trigger loop per enabled
// definition; RunJob serves one-shot operator runs through the same
// execution path.
type Scheduler struct {
	registry *jobs.Registry
	runtime  *jobs.Runtime
	ledger   domain.ExecutionLedger
	notifier domain.Notifier
	loc      *time.Location
	depWin   time.Duration
	now      func() time.Time

	newID    func() string
	newBatch func() string

	slots chan struct{}

	mu      sync.Mutex
	running map[string]bool

	wg         sync.WaitGroup
	loopCtx    context.Context
	loopCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc
	started    bool
}

func New(opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	depWin := opts.DependencyWindow
	if depWin <= 0 {
		depWin = dependencyWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		registry: opts.Registry,
		runtime:  opts.Runtime,
		ledger:   opts.Ledger,
		notifier: opts.Notifier,
		loc:      loc,
		depWin:   depWin,
		now:      now,
		newID:    uuid.NewString,
		newBatch: func() string { return ulid.Make().String() },
		slots:    make(chan struct{}, workers),
		running:  map[string]bool{},
	}
}

// Start validates every enabled trigger, runs misfire catch-up, and spawns
// the trigger loops. It returns once the loops are running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("op=scheduler.Start: already started: %w", domain.ErrConflict)
	}

	enabled := make([]domain.JobDefinition, 0)
	schedules := map[string]cron.Schedule{}
	for _, def := range s.registry.Definitions() {
		if !def.Enabled {
			continue
		}
		if def.Trigger.Interval <= 0 {
			sched, err := cron.ParseStandard(def.Trigger.Cron)
			if err != nil {
				return fmt.Errorf("op=scheduler.Start: job=%s: cron %q: %v: %w",
					def.ID, def.Trigger.Cron, err, domain.ErrConfig)
			}
			schedules[def.ID] = sched
		}
		enabled = append(enabled, def)
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(ctx)
	s.loopCtx = loopCtx
	s.loopCancel = loopCancel
	s.runCtx = runCtx
	s.runCancel = runCancel
	s.started = true

	// Misfire catch-up: definitions whose next fire came and went while the
	// process was down get one immediate run, highest priority first, as
	// long as the overshoot stays within one period.
	catchUp := s.missedDefinitions(ctx, enabled, schedules)
	if len(catchUp) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for _, def := range catchUp {
				slog.Info("misfire catch-up", slog.String("job_id", def.ID))
				s.fire(loopCtx, def, 0)
			}
		}()
	}

	for _, def := range enabled {
		s.wg.Add(1)
		go s.loop(loopCtx, def, schedules[def.ID])
	}

	slog.Info("scheduler started",
		slog.Int("jobs", len(enabled)),
		slog.Int("workers", cap(s.slots)),
		slog.Int("catch_up", len(catchUp)))
	return nil
}

// Stop halts the trigger loops and waits for in-flight runs to drain. When
// ctx expires first, the remaining runs are cancelled and reported.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.loopCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.runCancel()
		slog.Info("scheduler drained")
		return nil
	case <-ctx.Done():
		s.runCancel()
		<-done
		return fmt.Errorf("op=scheduler.Stop: drain deadline passed, running jobs cancelled: %w", domain.ErrTimeout)
	}
}

// RunJob executes one definition immediately, outside its trigger, through
// the same dependency, timeout and envelope path. The returned envelope is
// terminal.
func (s *Scheduler) RunJob(ctx context.Context, jobID string) (domain.JobExecution, error) {
	def, ok := s.registry.Definition(jobID)
	if !ok {
		return domain.JobExecution{}, fmt.Errorf("op=scheduler.RunJob: unknown job %q: %w", jobID, domain.ErrNotFound)
	}
	if !s.tryAcquireJob(def.ID) {
		return domain.JobExecution{}, fmt.Errorf("op=scheduler.RunJob: job %q already running: %w", jobID, domain.ErrConflict)
	}
	defer s.releaseJob(def.ID)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return domain.JobExecution{}, fmt.Errorf("op=scheduler.RunJob: %w", ctx.Err())
	}
	defer func() { <-s.slots }()

	return s.execute(ctx, def, 0)
}

// RunAll executes every enabled definition once, dependencies before
// dependents, sequentially. Used by the operator CLI; errors do not stop
// later jobs, the joined error carries everything that went wrong.
func (s *Scheduler) RunAll(ctx context.Context) ([]domain.JobExecution, error) {
	order, err := s.registry.RunOrder()
	if err != nil {
		return nil, err
	}
	var (
		out  []domain.JobExecution
		errs []error
	)
	for _, def := range order {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		exec, err := s.RunJob(ctx, def.ID)
		if exec.ID != "" {
			out = append(out, exec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", def.ID, err))
		}
	}
	return out, errors.Join(errs...)
}

// loop waits for the definition's trigger and fires it. Runs happen inline,
// so one definition never overlaps itself through its own trigger; ticks
// that land mid-run are dropped.
func (s *Scheduler) loop(ctx context.Context, def domain.JobDefinition, sched cron.Schedule) {
	defer s.wg.Done()

	if def.Trigger.Interval > 0 {
		ticker := time.NewTicker(def.Trigger.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fire(ctx, def, 0)
			}
		}
	}

	for {
		next := sched.Next(s.now().In(s.loc))
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, def, 0)
		}
	}
}

// fire admits one run: overlap guard first, then a worker slot. Waiting for
// a slot is FIFO; priorities order only the catch-up queue and run-all.
func (s *Scheduler) fire(ctx context.Context, def domain.JobDefinition, attempt int) {
	if !s.tryAcquireJob(def.ID) {
		slog.Warn("job still running, skipping trigger", slog.String("job_id", def.ID))
		observability.SkipJob(def.ID)
		return
	}
	defer s.releaseJob(def.ID)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.slots }()

	if _, err := s.execute(s.runCtx, def, attempt); err != nil {
		slog.Error("job run ended with error",
			slog.String("job_id", def.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
}

// execute wraps one attempt in its envelope: dependency gate, start record,
// the run itself, terminal record, metrics and alerting.
func (s *Scheduler) execute(ctx context.Context, def domain.JobDefinition, attempt int) (domain.JobExecution, error) {
	body, ok := s.registry.Job(def.ID)
	if !ok {
		return domain.JobExecution{}, fmt.Errorf("op=scheduler.execute: job %q has no body: %w", def.ID, domain.ErrNotFound)
	}

	start := s.now()
	exec := domain.JobExecution{
		ID:           s.newID(),
		JobID:        def.ID,
		JobType:      def.Type,
		Status:       domain.ExecutionRunning,
		StartedAt:    start,
		RetryAttempt: attempt,
		RetryStatus:  domain.RetryNone,
		SyncBatchID:  s.newBatch(),
	}

	if dep, stale := s.staleDependency(ctx, def, start); stale {
		end := start
		exec.Status = domain.ExecutionSkipped
		exec.CompletedAt = &end
		exec.Severity = domain.SeverityLow
		exec.ErrorMessage = fmt.Sprintf("dependency %s has no success within %s", dep, s.depWin)
		if err := s.ledger.Create(ctx, exec); err != nil {
			slog.Error("skip record write failed", slog.String("job_id", def.ID), slog.Any("error", err))
		}
		slog.Warn("job skipped on stale dependency",
			slog.String("job_id", def.ID),
			slog.String("dependency", dep))
		observability.SkipJob(def.ID)
		return exec, nil
	}

	if err := s.ledger.Create(ctx, exec); err != nil {
		// Without the start record the run would be invisible; refuse.
		return exec, fmt.Errorf("op=scheduler.execute: job=%s: start record: %w", def.ID, err)
	}
	observability.StartJob(def.ID)

	runCtx := observability.ContextWithExecutionID(ctx, exec.ID)
	runCtx = observability.ContextWithSyncBatchID(runCtx, exec.SyncBatchID)
	var cancel context.CancelFunc
	if def.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, def.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	outcome, runErr := s.runtime.Run(runCtx, body, def.Params)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	end := s.now()
	exec.CompletedAt = &end
	exec.ProcessedRecords = outcomeProcessed(outcome)
	exec.FailedRecords = outcomeFailed(outcome)

	switch {
	case runErr == nil:
		exec.Status = domain.ExecutionSuccess
	case timedOut || errors.Is(runErr, domain.ErrTimeout):
		exec.Status = domain.ExecutionTimeout
		exec.Severity = domain.SeverityHigh
		exec.ErrorMessage = fmt.Sprintf("attempt exceeded timeout %s", def.Timeout)
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		exec.Status = domain.ExecutionCancelled
		exec.Severity = domain.SeverityMedium
		exec.ErrorMessage = "run cancelled"
	default:
		exec.Status = domain.ExecutionFailed
		exec.Severity = domain.SeverityFor(runErr)
		exec.ErrorMessage = runErr.Error()
	}

	if exec.Status == domain.ExecutionFailed || exec.Status == domain.ExecutionTimeout {
		exec.RetryStatus = s.decideRetry(def, attempt, runErr, exec.Status)
	}

	// The terminal record must land even when the run context is dead.
	tail := context.WithoutCancel(ctx)
	if err := s.ledger.Update(tail, exec); err != nil {
		slog.Error("terminal record write failed",
			slog.String("job_id", def.ID),
			slog.String("execution_id", exec.ID),
			slog.Any("error", err))
	}
	observability.FinishJob(def.ID, string(exec.Status), end.Sub(start))

	if exec.Status == domain.ExecutionFailed || exec.Status == domain.ExecutionTimeout {
		s.alert(tail, def, exec)
	}
	if exec.RetryStatus == domain.RetryScheduled {
		s.scheduleRetry(def, attempt+1, s.policyOf(def).Delay(attempt))
	}
	return exec, runErr
}

// decideRetry classifies the failure against the definition's retry policy.
// A timeout counts as retryable wherever the policy allows more attempts.
// One-shot runs (scheduler never started) have no trigger loop to re-enter
// them, so nothing gets marked scheduled.
func (s *Scheduler) decideRetry(def domain.JobDefinition, attempt int, runErr error, status domain.ExecutionStatus) domain.RetryStatus {
	if !s.started {
		return domain.RetryNone
	}
	classified := runErr
	if status == domain.ExecutionTimeout {
		classified = domain.ErrTimeout
	}
	policy := s.policyOf(def)
	if policy.ShouldRetry(attempt, classified) {
		return domain.RetryScheduled
	}
	if domain.Retryable(classified) {
		return domain.RetryExhausted
	}
	return domain.RetryNone
}

func (s *Scheduler) policyOf(def domain.JobDefinition) domain.RetryPolicy {
	policy := domain.RetryPolicy{
		MaxRetries:  def.MaxRetries,
		BackoffBase: def.RetryBackoffBase,
		BackoffCap:  def.RetryBackoffCap,
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = domain.DefaultRetryPolicy().BackoffBase
	}
	if policy.BackoffCap <= 0 {
		policy.BackoffCap = domain.DefaultRetryPolicy().BackoffCap
	}
	return policy
}

// scheduleRetry re-enters the definition after the backoff delay. The wait
// aborts on shutdown; a re-entry never outlives the trigger loops.
func (s *Scheduler) scheduleRetry(def domain.JobDefinition, attempt int, delay time.Duration) {
	if !s.started {
		// One-shot runs (operator CLI) retry by running again, not through
		// a background timer.
		return
	}
	slog.Info("retry scheduled",
		slog.String("job_id", def.ID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.loopCtx.Done():
			return
		case <-timer.C:
			s.fire(s.loopCtx, def, attempt)
		}
	}()
}

// staleDependency returns the first dependency without a sufficiently recent
// success.
func (s *Scheduler) staleDependency(ctx context.Context, def domain.JobDefinition, at time.Time) (string, bool) {
	for _, dep := range def.DependsOn {
		last, err := s.ledger.LatestSuccess(ctx, dep)
		if err != nil {
			return dep, true
		}
		completed := last.CompletedAt
		if completed == nil || completed.Before(at.Add(-s.depWin)) {
			return dep, true
		}
	}
	return "", false
}

// missedDefinitions selects the enabled definitions whose most recent run is
// at least one period behind, with the overshoot inside a one-period grace.
// Definitions that never ran stay quiet; first deployments should not kick
// off everything at once.
func (s *Scheduler) missedDefinitions(ctx context.Context, enabled []domain.JobDefinition, schedules map[string]cron.Schedule) []domain.JobDefinition {
	now := s.now()
	var out []domain.JobDefinition
	for _, def := range enabled {
		last, err := s.ledger.LatestByJob(ctx, def.ID)
		if err != nil {
			continue
		}
		period := s.periodOf(def, schedules[def.ID])
		if period <= 0 {
			continue
		}
		due := last.StartedAt.Add(period)
		if due.Before(now) && now.Sub(due) <= period {
			out = append(out, def)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// periodOf approximates the trigger's cadence; for cron that is the distance
// between the next two fires.
func (s *Scheduler) periodOf(def domain.JobDefinition, sched cron.Schedule) time.Duration {
	if def.Trigger.Interval > 0 {
		return def.Trigger.Interval
	}
	if sched == nil {
		return 0
	}
	first := sched.Next(s.now().In(s.loc))
	return sched.Next(first).Sub(first)
}

func (s *Scheduler) alert(ctx context.Context, def domain.JobDefinition, exec domain.JobExecution) {
	if s.notifier == nil {
		return
	}
	a := domain.Alert{
		Severity:    exec.Severity,
		Title:       fmt.Sprintf("job %s %s", def.ID, exec.Status),
		Body:        exec.ErrorMessage,
		JobID:       def.ID,
		ExecutionID: exec.ID,
		Timestamp:   s.now(),
	}
	if err := s.notifier.Notify(ctx, a); err != nil {
		slog.Error("alert delivery failed",
			slog.String("job_id", def.ID),
			slog.Any("error", err))
	}
}

func (s *Scheduler) tryAcquireJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) releaseJob(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
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
