package jobs

import (
	"fmt"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// maxRollupDays bounds a backfill run to the retention of its source rows;
// older observations are already pruned, so rolling further back writes
// nothing.
const maxRollupDays = 90

// DailyRoller aggregates one day of observations into the daily historical
// table; *postgres.WeatherRepo satisfies it.
type DailyRoller interface {
	RollupDaily(ctx domain.Context, day, zone string) (int64, error)
}

// HistoricalWeatherJob rolls observed nowcast rows up into per-day regional
// aggregates. Each run covers the previous N days so that a missed night
// still backfills on the next pass.
type HistoricalWeatherJob struct {
	roller DailyRoller
	zone   string
	loc    *time.Location
	now    func() time.Time
}

// NewHistoricalWeatherJob builds the rollup body. zone is the IANA name the
// aggregate day boundary is computed in and loc its loaded location.
func NewHistoricalWeatherJob(roller DailyRoller, zone string, loc *time.Location, now func() time.Time) *HistoricalWeatherJob {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &HistoricalWeatherJob{roller: roller, zone: zone, loc: loc, now: now}
}

func (j *HistoricalWeatherJob) ID() string           { return JobIDHistoricalWeather }
func (j *HistoricalWeatherJob) Type() domain.JobType { return domain.JobHistoricalWeather }

func (j *HistoricalWeatherJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.HistoricalWeatherParams)
	if !ok {
		return fmt.Errorf("op=jobs.historical: params are %T: %w", params, domain.ErrInvalidArgument)
	}
	if p.Days < 0 || p.Days > maxRollupDays {
		return fmt.Errorf("op=jobs.historical: days=%d outside [0,%d]: %w", p.Days, maxRollupDays, domain.ErrInvalidArgument)
	}
	return nil
}

func (j *HistoricalWeatherJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.HistoricalWeatherParams)
	days := p.Days
	if days == 0 {
		days = 1
	}

	today := j.now().In(j.loc)
	outcome := &domain.JobOutcome{Details: map[string]any{}}

	// Most recent day first, so yesterday lands even when a deep backfill
	// gets cut short.
	for back := 1; back <= days; back++ {
		day := today.AddDate(0, 0, -back).Format("20060102")
		rows, err := j.roller.RollupDaily(ctx, day, j.zone)
		if err != nil {
			return outcome, fmt.Errorf("op=jobs.historical: day=%s: %w", day, err)
		}
		outcome.ProcessedRecords += int(rows)
		outcome.Details["day:"+day] = rows
	}
	return outcome, nil
}

func (j *HistoricalWeatherJob) Cleanup(domain.Context) {}
