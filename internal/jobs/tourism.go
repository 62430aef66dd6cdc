package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kto"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/transform"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/upsert"
)

// Upserter is the bulk-write surface jobs need; *upsert.Engine satisfies it.
type Upserter interface {
	Run(ctx domain.Context, plan upsert.Plan) (*domain.UpsertReport, error)
}

// defaultModifiedWithin is the incremental lookback when params leave it
// unset: one day plus slack for runs that start late.
const defaultModifiedWithin = 26 * time.Hour

// TourismSyncJob walks (content type, area) listings page by page, pushes
// each page through the transform stage and lands the survivors in the
// per-content-type tables.
type TourismSyncJob struct {
	id     string
	client *kto.Client
	sink   Upserter
	prof   config.UpsertProfile
	loc    *time.Location
	now    func() time.Time
}

// NewTourismSyncJob builds a tourism harvest body under the given job id.
// loc selects the calendar the incremental window is computed in; a nil now
// means the wall clock.
func NewTourismSyncJob(id string, client *kto.Client, sink Upserter, prof config.UpsertProfile, loc *time.Location, now func() time.Time) *TourismSyncJob {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &TourismSyncJob{id: id, client: client, sink: sink, prof: prof, loc: loc, now: now}
}

func (j *TourismSyncJob) ID() string           { return j.id }
func (j *TourismSyncJob) Type() domain.JobType { return domain.JobTourismSync }

func (j *TourismSyncJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.TourismSyncParams)
	if !ok {
		return fmt.Errorf("op=jobs.tourism: job=%s: params are %T: %w", j.id, params, domain.ErrInvalidArgument)
	}
	for _, ct := range p.ContentTypeIDs {
		if _, ok := catalog.ContentType(ct).Table(); !ok {
			return fmt.Errorf("op=jobs.tourism: job=%s: unknown content type %d: %w", j.id, ct, domain.ErrInvalidArgument)
		}
	}
	for _, area := range p.AreaCodes {
		if area <= 0 {
			return fmt.Errorf("op=jobs.tourism: job=%s: bad area code %d: %w", j.id, area, domain.ErrInvalidArgument)
		}
	}
	if p.Incremental && p.ModifiedWithin < 0 {
		return fmt.Errorf("op=jobs.tourism: job=%s: negative lookback: %w", j.id, domain.ErrInvalidArgument)
	}
	return nil
}

func (j *TourismSyncJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.TourismSyncParams)
	contentTypes := contentTypesOf(p.ContentTypeIDs)
	areas := p.AreaCodes
	if len(areas) == 0 {
		areas = catalog.AllAreaCodes()
	}

	var modifiedSince string
	if p.Incremental {
		within := p.ModifiedWithin
		if within == 0 {
			within = defaultModifiedWithin
		}
		modifiedSince = j.now().In(j.loc).Add(-within).Format("20060102")
	}

	lg := observability.LoggerFromContext(ctx).With(slog.String("job_id", j.id))
	batchID := observability.SyncBatchIDFromContext(ctx)
	outcome := &domain.JobOutcome{Details: map[string]any{}}
	tables := map[string]int{}
	pages := 0

	for _, ct := range contentTypes {
		for _, area := range areas {
			it := j.client.Pages(ctx, kto.ListQuery{
				ContentType:   ct,
				AreaCode:      area,
				ModifiedSince: modifiedSince,
				SyncBatchID:   batchID,
			})
			for it.Next() {
				pages++
				report := transform.Tourism(it.Page())
				outcome.FailedRecords += report.Dropped()
				if report.Kept() == 0 {
					continue
				}
				landed, err := j.sink.Run(ctx, upsert.Plan{
					Table:        report.Table,
					Columns:      report.Columns,
					ConflictKeys: report.ConflictKeys,
					Rows:         report.Rows,
					Profile:      j.prof,
				})
				if landed != nil {
					outcome.ProcessedRecords += landed.SuccessfulRecords
					outcome.FailedRecords += landed.FailedRecords
					tables[report.Table] += landed.SuccessfulRecords
				}
				if err != nil {
					j.finish(outcome, tables, pages, modifiedSince)
					return outcome, fmt.Errorf("op=jobs.tourism: job=%s: table=%s: %w", j.id, report.Table, err)
				}
			}
			if err := it.Err(); err != nil {
				j.finish(outcome, tables, pages, modifiedSince)
				return outcome, fmt.Errorf("op=jobs.tourism: job=%s: content_type=%d area=%d: %w", j.id, int(ct), area, err)
			}
			lg.Debug("listing drained",
				slog.Int("content_type", int(ct)),
				slog.Int("area_code", area))
		}
	}

	j.finish(outcome, tables, pages, modifiedSince)
	return outcome, nil
}

func (j *TourismSyncJob) Cleanup(domain.Context) {}

func (j *TourismSyncJob) finish(outcome *domain.JobOutcome, tables map[string]int, pages int, modifiedSince string) {
	outcome.Details["pages"] = pages
	if modifiedSince != "" {
		outcome.Details["modified_since"] = modifiedSince
	}
	for table, n := range tables {
		outcome.Details["table:"+table] = n
	}
}

func contentTypesOf(ids []int) []catalog.ContentType {
	if len(ids) == 0 {
		return catalog.ContentTypes()
	}
	out := make([]catalog.ContentType, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.ContentType(id))
	}
	return out
}
