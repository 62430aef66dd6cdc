package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kma"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/transform"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/upsert"
)

// WeatherCurrentJob harvests the hourly nowcast of every catalogued grid
// cell and lands the pivoted observations in weather_current.
type WeatherCurrentJob struct {
	client *kma.Client
	sink   Upserter
	prof   config.UpsertProfile
	loc    *time.Location
}

// NewWeatherCurrentJob builds the nowcast harvest body. loc is the calendar
// observation timestamps are pivoted in; nil means UTC.
func NewWeatherCurrentJob(client *kma.Client, sink Upserter, prof config.UpsertProfile, loc *time.Location) *WeatherCurrentJob {
	if loc == nil {
		loc = time.UTC
	}
	return &WeatherCurrentJob{client: client, sink: sink, prof: prof, loc: loc}
}

func (j *WeatherCurrentJob) ID() string           { return JobIDWeatherCurrent }
func (j *WeatherCurrentJob) Type() domain.JobType { return domain.JobWeatherSync }

func (j *WeatherCurrentJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.WeatherSyncParams)
	if !ok {
		return fmt.Errorf("op=jobs.weather: job=%s: params are %T: %w", j.ID(), params, domain.ErrInvalidArgument)
	}
	return validRegions(j.ID(), p.Regions)
}

func (j *WeatherCurrentJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.WeatherSyncParams)
	outcome := &domain.JobOutcome{Details: map[string]any{}}
	cells := 0

	for _, point := range catalog.GridPoints(p.Regions...) {
		page, err := j.client.Nowcast(ctx, point)
		if err != nil {
			j.close(outcome, cells)
			return outcome, fmt.Errorf("op=jobs.weather: job=%s: region=%s: %w", j.ID(), point.Region, err)
		}
		cells++
		report := transform.Nowcast(page, j.loc)
		outcome.FailedRecords += report.Dropped()
		if report.Kept() == 0 {
			continue
		}
		if err := j.land(ctx, outcome, report); err != nil {
			j.close(outcome, cells)
			return outcome, fmt.Errorf("op=jobs.weather: job=%s: region=%s: %w", j.ID(), point.Region, err)
		}
	}

	j.close(outcome, cells)
	return outcome, nil
}

func (j *WeatherCurrentJob) Cleanup(domain.Context) {}

func (j *WeatherCurrentJob) land(ctx domain.Context, outcome *domain.JobOutcome, report transform.Report) error {
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
	}
	return err
}

func (j *WeatherCurrentJob) close(outcome *domain.JobOutcome, cells int) {
	outcome.Details["grid_cells"] = cells
}

// WeatherForecastJob harvests the short-term forecast documents of every
// catalogued grid cell. Each run fetches the document classes the params
// select (ultra-short and village by default) and lands the pivoted rows in
// weather_forecasts.
type WeatherForecastJob struct {
	client *kma.Client
	sink   Upserter
	prof   config.UpsertProfile
	loc    *time.Location
}

func NewWeatherForecastJob(client *kma.Client, sink Upserter, prof config.UpsertProfile, loc *time.Location) *WeatherForecastJob {
	if loc == nil {
		loc = time.UTC
	}
	return &WeatherForecastJob{client: client, sink: sink, prof: prof, loc: loc}
}

func (j *WeatherForecastJob) ID() string           { return JobIDWeatherForecast }
func (j *WeatherForecastJob) Type() domain.JobType { return domain.JobWeatherSync }

func (j *WeatherForecastJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.WeatherSyncParams)
	if !ok {
		return fmt.Errorf("op=jobs.weather: job=%s: params are %T: %w", j.ID(), params, domain.ErrInvalidArgument)
	}
	if err := validRegions(j.ID(), p.Regions); err != nil {
		return err
	}
	for _, ft := range p.ForecastTypes {
		switch ft {
		case kma.ForecastTypeUltra, kma.ForecastTypeVillage:
		case kma.ForecastTypeNowcast:
			return fmt.Errorf("op=jobs.weather: job=%s: %s is not a forecast document: %w", j.ID(), ft, domain.ErrInvalidArgument)
		default:
			return fmt.Errorf("op=jobs.weather: job=%s: unknown forecast type %q: %w", j.ID(), ft, domain.ErrInvalidArgument)
		}
	}
	return nil
}

func (j *WeatherForecastJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.WeatherSyncParams)
	kinds := p.ForecastTypes
	if len(kinds) == 0 {
		kinds = []string{kma.ForecastTypeUltra, kma.ForecastTypeVillage}
	}

	lg := observability.LoggerFromContext(ctx).With(slog.String("job_id", j.ID()))
	outcome := &domain.JobOutcome{Details: map[string]any{}}
	documents := 0

	for _, point := range catalog.GridPoints(p.Regions...) {
		for _, kind := range kinds {
			var (
				page domain.RawPage
				err  error
			)
			switch kind {
			case kma.ForecastTypeUltra:
				page, err = j.client.UltraForecast(ctx, point)
			case kma.ForecastTypeVillage:
				page, err = j.client.VillageForecast(ctx, point)
			}
			if err != nil {
				outcome.Details["documents"] = documents
				return outcome, fmt.Errorf("op=jobs.weather: job=%s: region=%s kind=%s: %w", j.ID(), point.Region, kind, err)
			}
			documents++

			report := transform.Forecast(page, j.loc)
			outcome.FailedRecords += report.Dropped()
			if report.Kept() == 0 {
				lg.Debug("forecast document empty",
					slog.String("region", point.Region),
					slog.String("kind", kind))
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
			}
			if err != nil {
				outcome.Details["documents"] = documents
				return outcome, fmt.Errorf("op=jobs.weather: job=%s: region=%s kind=%s: %w", j.ID(), point.Region, kind, err)
			}
		}
	}

	outcome.Details["documents"] = documents
	return outcome, nil
}

func (j *WeatherForecastJob) Cleanup(domain.Context) {}

func validRegions(jobID string, regions []string) error {
	for _, region := range regions {
		if _, ok := catalog.RegionCode(region); !ok {
			return fmt.Errorf("op=jobs.weather: job=%s: unknown region %q: %w", jobID, region, domain.ErrInvalidArgument)
		}
	}
	return nil
}
