package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// WeatherRepo holds weather aggregations that operate across landed tables.
type WeatherRepo struct {
	Pool PgxPool
}

func NewWeatherRepo(pool PgxPool) *WeatherRepo {
	return &WeatherRepo{Pool: pool}
}

// RollupDaily aggregates one day of nowcast observations into
// historical_weather_daily. Day is YYYYMMDD interpreted in zone (an IANA
// name); re-running the same day overwrites the aggregate. Returns the number
// of region rows written.
func (r *WeatherRepo) RollupDaily(ctx domain.Context, day, zone string) (int64, error) {
	tracer := otel.Tracer("repo.weather")
	ctx, span := tracer.Start(ctx, "weather.RollupDaily")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "historical_weather_daily"),
	)

	tag, err := r.Pool.Exec(ctx, `
		INSERT INTO historical_weather_daily
			(region_code, weather_date, avg_temp, max_temp, min_temp,
			 total_precipitation, avg_humidity, avg_wind_speed,
			 weather_condition, last_sync_at)
		SELECT region_code,
		       (weather_date AT TIME ZONE $2)::date,
		       AVG(temperature), MAX(temperature), MIN(temperature),
		       COALESCE(SUM(precipitation), 0), AVG(humidity), AVG(wind_speed),
		       COALESCE(MODE() WITHIN GROUP (ORDER BY precipitation_type), ''),
		       now()
		FROM weather_current
		WHERE (weather_date AT TIME ZONE $2)::date = to_date($1,'YYYYMMDD')
		GROUP BY region_code, (weather_date AT TIME ZONE $2)::date
		ON CONFLICT (region_code, weather_date) DO UPDATE SET
			avg_temp            = EXCLUDED.avg_temp,
			max_temp            = EXCLUDED.max_temp,
			min_temp            = EXCLUDED.min_temp,
			total_precipitation = EXCLUDED.total_precipitation,
			avg_humidity        = EXCLUDED.avg_humidity,
			avg_wind_speed      = EXCLUDED.avg_wind_speed,
			weather_condition   = EXCLUDED.weather_condition,
			last_sync_at        = EXCLUDED.last_sync_at,
			updated_at          = now()`,
		day, zone)
	if err != nil {
		return 0, fmt.Errorf("op=weather.rollup_daily: %w", err)
	}
	return tag.RowsAffected(), nil
}
