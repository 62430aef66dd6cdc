package jobs

import (
	"fmt"
	"strings"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// QualityGate is the verdict surface the quality job needs; *quality.Gate
// satisfies it.
type QualityGate interface {
	Tables() []string
	CheckTable(ctx domain.Context, table string) (domain.QualityReport, error)
}

// QualityCheckJob runs the gate over the landed tables. A failing table
// fails the whole run, so jobs that depend on this one observe a failed
// dependency and stay away from unvetted data.
type QualityCheckJob struct {
	gate QualityGate
}

func NewQualityCheckJob(gate QualityGate) *QualityCheckJob {
	return &QualityCheckJob{gate: gate}
}

func (j *QualityCheckJob) ID() string           { return JobIDQualityCheck }
func (j *QualityCheckJob) Type() domain.JobType { return domain.JobQualityCheck }

func (j *QualityCheckJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.QualityCheckParams)
	if !ok {
		return fmt.Errorf("op=jobs.quality: params are %T: %w", params, domain.ErrInvalidArgument)
	}
	known := map[string]bool{}
	for _, table := range j.gate.Tables() {
		known[table] = true
	}
	for _, table := range p.Tables {
		if !known[table] {
			return fmt.Errorf("op=jobs.quality: table %q has no quality spec: %w", table, domain.ErrInvalidArgument)
		}
	}
	return nil
}

func (j *QualityCheckJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.QualityCheckParams)
	tables := p.Tables
	if len(tables) == 0 {
		tables = j.gate.Tables()
	}

	outcome := &domain.JobOutcome{Details: map[string]any{}}
	var failing []string

	for _, table := range tables {
		report, err := j.gate.CheckTable(ctx, table)
		if err != nil {
			return outcome, fmt.Errorf("op=jobs.quality: table=%s: %w", table, err)
		}
		outcome.ProcessedRecords++
		outcome.Details["score:"+table] = report.Scores.Overall
		if !report.Passed {
			failing = append(failing, table)
		}
	}

	if len(failing) > 0 {
		outcome.FailedRecords = len(failing)
		outcome.Details["failing_tables"] = failing
		return outcome, fmt.Errorf("op=jobs.quality: %d of %d tables below threshold: %s",
			len(failing), len(tables), strings.Join(failing, ", "))
	}
	return outcome, nil
}

func (j *QualityCheckJob) Cleanup(domain.Context) {}
