package jobs

import (
	"fmt"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// OperationalPruner trims aged execution bookkeeping rows;
// *postgres.RetentionService satisfies it.
type OperationalPruner interface {
	PruneOperational(ctx domain.Context) (executions, results int64, err error)
}

// ArchivePruneJob sweeps expired raw archive rows and aged operational
// bookkeeping. The grace param keeps rows past their expiry for a while so
// an investigation that starts late still finds its evidence.
type ArchivePruneJob struct {
	archive     domain.RawArchive
	operational OperationalPruner
	now         func() time.Time
}

func NewArchivePruneJob(archive domain.RawArchive, operational OperationalPruner, now func() time.Time) *ArchivePruneJob {
	if now == nil {
		now = time.Now
	}
	return &ArchivePruneJob{archive: archive, operational: operational, now: now}
}

func (j *ArchivePruneJob) ID() string           { return JobIDArchivePrune }
func (j *ArchivePruneJob) Type() domain.JobType { return domain.JobArchivePrune }

func (j *ArchivePruneJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.ArchivePruneParams)
	if !ok {
		return fmt.Errorf("op=jobs.prune: params are %T: %w", params, domain.ErrInvalidArgument)
	}
	if p.Grace < 0 {
		return fmt.Errorf("op=jobs.prune: negative grace: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func (j *ArchivePruneJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.ArchivePruneParams)
	outcome := &domain.JobOutcome{Details: map[string]any{}}

	raw, err := j.archive.PruneExpired(ctx, j.now().Add(-p.Grace))
	if err != nil {
		return outcome, fmt.Errorf("op=jobs.prune: raw archive: %w", err)
	}
	outcome.ProcessedRecords += int(raw)
	outcome.Details["raw_rows"] = raw

	if j.operational != nil {
		executions, results, err := j.operational.PruneOperational(ctx)
		if err != nil {
			return outcome, fmt.Errorf("op=jobs.prune: operational: %w", err)
		}
		outcome.ProcessedRecords += int(executions + results)
		outcome.Details["execution_rows"] = executions
		outcome.Details["quality_rows"] = results
	}
	return outcome, nil
}

func (j *ArchivePruneJob) Cleanup(domain.Context) {}
