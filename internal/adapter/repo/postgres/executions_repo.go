package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// ExecutionsRepo persists job execution envelopes, their detail map and
// their log lines.
type ExecutionsRepo struct {
	Pool PgxPool
	now  func() time.Time
}

func NewExecutionsRepo(pool PgxPool) *ExecutionsRepo {
	return &ExecutionsRepo{Pool: pool, now: time.Now}
}

const executionColumns = `
	id, job_id, job_type, status, started_at, completed_at,
	processed_records, failed_records, error_message, error_severity,
	retry_attempt, retry_status, sync_batch_id, created_at`

// Create inserts a fresh envelope. The caller assigns the id.
func (r *ExecutionsRepo) Create(ctx domain.Context, e domain.JobExecution) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	if e.ID == "" {
		return fmt.Errorf("op=executions.create: missing id: %w", domain.ErrInvalidArgument)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO batch_job_executions
			(id, job_id, job_type, status, started_at, completed_at,
			 processed_records, failed_records, error_message, error_severity,
			 retry_attempt, retry_status, sync_batch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		e.ID, e.JobID, string(e.JobType), string(e.Status), e.StartedAt, e.CompletedAt,
		e.ProcessedRecords, e.FailedRecords, e.ErrorMessage, string(e.Severity),
		e.RetryAttempt, string(e.RetryStatus), e.SyncBatchID, createdAt)
	if err != nil {
		return fmt.Errorf("op=executions.create: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an envelope.
func (r *ExecutionsRepo) Update(ctx domain.Context, e domain.JobExecution) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	tag, err := r.Pool.Exec(ctx, `
		UPDATE batch_job_executions SET
			status = $2, completed_at = $3, processed_records = $4,
			failed_records = $5, error_message = $6, error_severity = $7,
			retry_attempt = $8, retry_status = $9
		WHERE id = $1`,
		e.ID, string(e.Status), e.CompletedAt, e.ProcessedRecords,
		e.FailedRecords, e.ErrorMessage, string(e.Severity),
		e.RetryAttempt, string(e.RetryStatus))
	if err != nil {
		return fmt.Errorf("op=executions.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=executions.update: id=%s: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

// Get fetches one envelope by id.
func (r *ExecutionsRepo) Get(ctx domain.Context, id string) (domain.JobExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	row := r.Pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM batch_job_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		return domain.JobExecution{}, fmt.Errorf("op=executions.get: %w", err)
	}
	return e, nil
}

// LatestByJob returns the most recently started execution of a job.
func (r *ExecutionsRepo) LatestByJob(ctx domain.Context, jobID string) (domain.JobExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.LatestByJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	row := r.Pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM batch_job_executions
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT 1`, jobID)
	e, err := scanExecution(row)
	if err != nil {
		return domain.JobExecution{}, fmt.Errorf("op=executions.latest_by_job: %w", err)
	}
	return e, nil
}

// LatestSuccess returns the most recent successful execution of a job.
// Dependency checks hang off this.
func (r *ExecutionsRepo) LatestSuccess(ctx domain.Context, jobID string) (domain.JobExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.LatestSuccess")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	row := r.Pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM batch_job_executions
		WHERE job_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`, jobID, string(domain.ExecutionSuccess))
	e, err := scanExecution(row)
	if err != nil {
		return domain.JobExecution{}, fmt.Errorf("op=executions.latest_success: %w", err)
	}
	return e, nil
}

// ListRunning returns every envelope still marked running, oldest first.
// The sweeper walks this to reap stuck executions.
func (r *ExecutionsRepo) ListRunning(ctx domain.Context) ([]domain.JobExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.ListRunning")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	rows, err := r.Pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM batch_job_executions
		WHERE status = $1
		ORDER BY started_at ASC`, string(domain.ExecutionRunning))
	if err != nil {
		return nil, fmt.Errorf("op=executions.list_running: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows, "op=executions.list_running")
}

// ListRecent returns the newest executions across all jobs.
func (r *ExecutionsRepo) ListRecent(ctx domain.Context, limit int) ([]domain.JobExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.ListRecent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "batch_job_executions"),
	)

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM batch_job_executions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("op=executions.list_recent: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows, "op=executions.list_recent")
}

// AppendDetail upserts one key of the execution's detail map.
func (r *ExecutionsRepo) AppendDetail(ctx domain.Context, executionID, key string, value any) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.AppendDetail")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "batch_job_details"),
	)

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=executions.append_detail: encode %q: %w", key, err)
	}
	_, err = r.Pool.Exec(ctx, `
		INSERT INTO batch_job_details (execution_id, key, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (execution_id, key) DO UPDATE SET value = EXCLUDED.value`,
		executionID, key, encoded)
	if err != nil {
		return fmt.Errorf("op=executions.append_detail: %w", err)
	}
	return nil
}

// AppendLog records one log line under an execution.
func (r *ExecutionsRepo) AppendLog(ctx domain.Context, executionID, level, message string) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.AppendLog")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "batch_job_logs"),
	)

	_, err := r.Pool.Exec(ctx, `
		INSERT INTO batch_job_logs (execution_id, level, message, logged_at)
		VALUES ($1,$2,$3,$4)`,
		executionID, level, message, r.now().UTC())
	if err != nil {
		return fmt.Errorf("op=executions.append_log: %w", err)
	}
	return nil
}

func scanExecution(row pgx.Row) (domain.JobExecution, error) {
	var (
		e                             domain.JobExecution
		jobType, status, sev, retrySt string
	)
	err := row.Scan(&e.ID, &e.JobID, &jobType, &status, &e.StartedAt, &e.CompletedAt,
		&e.ProcessedRecords, &e.FailedRecords, &e.ErrorMessage, &sev,
		&e.RetryAttempt, &retrySt, &e.SyncBatchID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobExecution{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.JobExecution{}, err
	}
	e.JobType = domain.JobType(jobType)
	e.Status = domain.ExecutionStatus(status)
	e.Severity = domain.Severity(sev)
	e.RetryStatus = domain.RetryStatus(retrySt)
	return e, nil
}

func collectExecutions(rows pgx.Rows, op string) ([]domain.JobExecution, error) {
	var out []domain.JobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}
