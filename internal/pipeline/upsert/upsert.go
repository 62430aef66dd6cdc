// Package upsert lands transformed rows in Postgres: chunked multi-row
// INSERT ... ON CONFLICT statements, a resident-set guard that halves the
// chunk size under memory pressure, linear per-chunk retries, and a report
// of what made it.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

const (
	defaultChunkSize       = 1000
	minChunkSize           = 50
	maxChunkErrors         = 10
	maxConsecutiveFailures = 5

	// Postgres caps bind parameters per statement at 65535.
	maxParamsPerExec = 65535
)

// Execer is the single pgx surface the engine needs; *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Plan is one bulk write: rows aligned to Columns, headed for Table, tuned by
// Profile.
type Plan struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	Rows         [][]any
	Profile      config.UpsertProfile
}

func (p Plan) validate() error {
	if p.Table == "" {
		return fmt.Errorf("op=upsert.run: missing table: %w", domain.ErrInvalidArgument)
	}
	if len(p.Columns) == 0 {
		return fmt.Errorf("op=upsert.run: table=%s: no columns: %w", p.Table, domain.ErrInvalidArgument)
	}
	if p.Profile.UpsertEnabled && len(p.ConflictKeys) == 0 {
		return fmt.Errorf("op=upsert.run: table=%s: upsert without conflict keys: %w", p.Table, domain.ErrInvalidArgument)
	}
	for i, row := range p.Rows {
		if len(row) != len(p.Columns) {
			return fmt.Errorf("op=upsert.run: table=%s: row %d has %d values for %d columns: %w",
				p.Table, i, len(row), len(p.Columns), domain.ErrInvalidArgument)
		}
	}
	return nil
}

// Engine executes plans. Safe for concurrent use.
type Engine struct {
	db Execer

	// seams for tests
	memStats func(*runtime.MemStats)
	freeOS   func()
}

func New(db Execer) *Engine {
	return &Engine{db: db, memStats: runtime.ReadMemStats, freeOS: debug.FreeOSMemory}
}

// Run writes the plan's rows chunk by chunk, up to Profile.ParallelDegree
// chunks in flight. Failed chunks are retried on a linear backoff; five
// consecutive chunk failures abort the call with domain.ErrPartialFailure.
// The returned report is populated even when the error is non-nil.
func (e *Engine) Run(ctx context.Context, plan Plan) (*domain.UpsertReport, error) {
	start := time.Now()
	if err := plan.validate(); err != nil {
		return nil, err
	}
	if plan.Profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Profile.Timeout)
		defer cancel()
	}

	report := &domain.UpsertReport{Table: plan.Table, TotalRecords: len(plan.Rows)}
	if len(plan.Rows) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	chunkSize := plan.Profile.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if lim := maxParamsPerExec / len(plan.Columns); chunkSize > lim {
		chunkSize = lim
	}
	degree := plan.Profile.ParallelDegree
	if degree < 1 {
		degree = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(degree)

	var (
		mu          sync.Mutex
		consecutive int
		aborted     bool
	)

	chunkIdx := 0
	for offset := 0; offset < len(plan.Rows); {
		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop || gctx.Err() != nil {
			break
		}

		if e.breached(plan.Profile.MemoryCapBytes) && chunkSize > minChunkSize {
			e.freeOS()
			chunkSize /= 2
			if chunkSize < minChunkSize {
				chunkSize = minChunkSize
			}
			slog.Warn("upsert memory cap breached, halving chunk size",
				slog.String("table", plan.Table),
				slog.Int("chunk_size", chunkSize))
		}

		end := offset + chunkSize
		if end > len(plan.Rows) {
			end = len(plan.Rows)
		}
		chunk := plan.Rows[offset:end]
		idx := chunkIdx

		g.Go(func() error {
			err := e.writeChunk(gctx, plan, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.FailedRecords += len(chunk)
				if len(report.ChunkErrors) < maxChunkErrors {
					report.ChunkErrors = append(report.ChunkErrors, domain.UpsertChunkError{
						Chunk: idx, Rows: len(chunk), Error: err.Error(),
					})
				}
				consecutive++
				if consecutive >= maxConsecutiveFailures {
					aborted = true
				}
				slog.Error("upsert chunk failed",
					slog.String("table", plan.Table),
					slog.Int("chunk", idx),
					slog.Int("rows", len(chunk)),
					slog.String("error", err.Error()))
				return nil
			}
			report.SuccessfulRecords += len(chunk)
			consecutive = 0
			return nil
		})

		offset = end
		chunkIdx++
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if secs := report.Duration.Seconds(); secs > 0 {
		report.RecordsPerSecond = float64(report.SuccessfulRecords) / secs
	}
	observability.AddUpsertRows(plan.Table, report.SuccessfulRecords, report.FailedRecords)

	mu.Lock()
	failedHard := aborted
	mu.Unlock()
	if failedHard {
		return report, fmt.Errorf("op=upsert.run: table=%s: %d consecutive chunk failures: %w",
			plan.Table, maxConsecutiveFailures, domain.ErrPartialFailure)
	}
	if err := ctx.Err(); err != nil {
		// Rows never attempted did not land; account for them.
		attempted := report.SuccessfulRecords + report.FailedRecords
		report.FailedRecords += report.TotalRecords - attempted
		if errors.Is(err, context.DeadlineExceeded) {
			return report, fmt.Errorf("op=upsert.run: table=%s: %w: %w", plan.Table, domain.ErrTimeout, err)
		}
		return report, fmt.Errorf("op=upsert.run: table=%s: %w", plan.Table, err)
	}
	return report, nil
}

// writeChunk is one round-trip, retried on a linear ramp: delay, 2×delay, …
func (e *Engine) writeChunk(ctx context.Context, plan Plan, chunk [][]any) error {
	sql, args := chunkSQL(plan, chunk)
	retries := plan.Profile.ChunkRetries
	if retries < 0 {
		retries = 0
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			observability.AddUpsertChunkRetry(plan.Table)
			wait := plan.Profile.RetryDelay * time.Duration(attempt)
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		_, err = e.db.Exec(ctx, sql, args...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (e *Engine) breached(capBytes uint64) bool {
	if capBytes == 0 {
		return false
	}
	var m runtime.MemStats
	e.memStats(&m)
	return m.Alloc > capBytes
}

// chunkSQL renders one multi-row statement. Identifiers come from the
// mapping catalog, not request input, and are sanitized anyway.
func chunkSQL(plan Plan, chunk [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{plan.Table}.Sanitize())
	b.WriteString(" (")
	for i, c := range plan.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c}.Sanitize())
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(chunk)*len(plan.Columns))
	n := 1
	for i, row := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	if plan.Profile.UpsertEnabled {
		b.WriteString(" ON CONFLICT (")
		for i, k := range plan.ConflictKeys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgx.Identifier{k}.Sanitize())
		}
		b.WriteString(")")

		keys := make(map[string]bool, len(plan.ConflictKeys))
		for _, k := range plan.ConflictKeys {
			keys[k] = true
		}
		var sets []string
		for _, c := range plan.Columns {
			if keys[c] {
				continue
			}
			ident := pgx.Identifier{c}.Sanitize()
			sets = append(sets, ident+" = EXCLUDED."+ident)
		}
		if len(sets) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			b.WriteString(strings.Join(sets, ", "))
		}
	}
	return b.String(), args
}
