package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// RetentionService removes aged operational rows: terminal job executions
// (details and logs cascade) and quality verdicts past the retention window.
// Raw archive rows have their own per-provider TTL handled by RawRepo.
type RetentionService struct {
	Pool          PgxPool
	RetentionDays int
	now           func() time.Time
}

func NewRetentionService(pool PgxPool, retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &RetentionService{Pool: pool, RetentionDays: retentionDays, now: time.Now}
}

// PruneOperational deletes executions and quality results older than the
// retention window. Running executions are left alone regardless of age;
// the sweeper owns those.
func (s *RetentionService) PruneOperational(ctx domain.Context) (executions, results int64, err error) {
	tracer := otel.Tracer("repo.retention")
	ctx, span := tracer.Start(ctx, "retention.PruneOperational")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	cutoff := s.now().AddDate(0, 0, -s.RetentionDays)

	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM batch_job_executions
		WHERE started_at < $1 AND status <> $2`,
		cutoff, string(domain.ExecutionRunning))
	if err != nil {
		return 0, 0, fmt.Errorf("op=retention.prune: executions: %w", err)
	}
	executions = tag.RowsAffected()

	tag, err = s.Pool.Exec(ctx, `
		DELETE FROM data_quality_check_results
		WHERE check_time < $1`, cutoff)
	if err != nil {
		return executions, 0, fmt.Errorf("op=retention.prune: quality results: %w", err)
	}
	results = tag.RowsAffected()

	slog.Info("retention prune complete",
		slog.Int64("executions", executions),
		slog.Int64("quality_results", results),
		slog.Time("cutoff", cutoff))
	return executions, results, nil
}
