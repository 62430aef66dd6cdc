// Package kma wraps the weather provider's grid endpoints: hourly nowcast,
// ultra-short forecast, and the village forecast, each addressed by a grid
// cell and the provider's publication base date/time.
package kma

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

const (
	EndpointNowcast         = "getUltraSrtNcst"
	EndpointUltraForecast   = "getUltraSrtFcst"
	EndpointVillageForecast = "getVilageFcst"

	ForecastTypeNowcast  = "ultra_srt_ncst"
	ForecastTypeUltra    = "ultra_srt_fcst"
	ForecastTypeVillage  = "vilage_fcst"
	forecastTypeFallback = "unknown"
)

// ProbeRequest returns a minimal valid nowcast request against the first
// catalogued grid cell, used to see whether a sidelined key is accepted
// again. Base selection follows the same publication rules as a harvest.
func ProbeRequest(now time.Time, loc *time.Location) (endpoint string, params map[string]string) {
	if loc == nil {
		loc = time.UTC
	}
	date, tm := nowcastBase(now.In(loc))
	point := catalog.GridPoints()[0]
	return EndpointNowcast, map[string]string{
		"numOfRows": "1",
		"pageNo":    "1",
		"base_date": date,
		"base_time": tm,
		"nx":        strconv.Itoa(point.NX),
		"ny":        strconv.Itoa(point.NY),
	}
}

// ForecastTypeFor derives the archive metadata tag from an endpoint.
func ForecastTypeFor(endpoint string) string {
	switch endpoint {
	case EndpointNowcast:
		return ForecastTypeNowcast
	case EndpointUltraForecast:
		return ForecastTypeUltra
	case EndpointVillageForecast:
		return ForecastTypeVillage
	default:
		return forecastTypeFallback
	}
}

// Caller is the executor surface the client needs.
type Caller interface {
	Call(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, opts api.CallOptions) (*api.Response, error)
}

// Client fetches weather documents per grid cell.
type Client struct {
	caller  Caller
	archive domain.RawArchive
	loc     *time.Location
	now     func() time.Time
}

// New builds a client. Base date/time selection happens in loc (nil means
// UTC); now overrides the clock for tests.
func New(caller Caller, archive domain.RawArchive, loc *time.Location, now func() time.Time) *Client {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Client{caller: caller, archive: archive, loc: loc, now: now}
}

// Nowcast fetches the current observations of one grid cell.
func (c *Client) Nowcast(ctx domain.Context, point catalog.GridPoint) (domain.RawPage, error) {
	date, tm := nowcastBase(c.now().In(c.loc))
	return c.fetch(ctx, EndpointNowcast, point, date, tm, 10)
}

// UltraForecast fetches the rolling six-hour forecast of one grid cell.
func (c *Client) UltraForecast(ctx domain.Context, point catalog.GridPoint) (domain.RawPage, error) {
	date, tm := ultraForecastBase(c.now().In(c.loc))
	return c.fetch(ctx, EndpointUltraForecast, point, date, tm, 60)
}

// VillageForecast fetches the three-day village forecast of one grid cell.
func (c *Client) VillageForecast(ctx domain.Context, point catalog.GridPoint) (domain.RawPage, error) {
	date, tm := villageBase(c.now().In(c.loc))
	return c.fetch(ctx, EndpointVillageForecast, point, date, tm, 1000)
}

func (c *Client) fetch(ctx domain.Context, endpoint string, point catalog.GridPoint, baseDate, baseTime string, rows int) (domain.RawPage, error) {
	params := map[string]string{
		"numOfRows": strconv.Itoa(rows),
		"pageNo":    "1",
		"base_date": baseDate,
		"base_time": baseTime,
		"nx":        strconv.Itoa(point.NX),
		"ny":        strconv.Itoa(point.NY),
	}
	resp, err := c.caller.Call(ctx, domain.ProviderKMA, endpoint, params, api.CallOptions{StoreRaw: true})
	if err != nil {
		return domain.RawPage{}, err
	}

	if c.archive != nil && resp.RawID != "" {
		if err := c.archive.StoreKMAMeta(ctx, domain.KMARawMeta{
			RawID:        resp.RawID,
			BaseDate:     baseDate,
			BaseTime:     baseTime,
			NX:           point.NX,
			NY:           point.NY,
			ForecastType: ForecastTypeFor(endpoint),
			RegionName:   point.Region,
		}); err != nil {
			slog.Warn("kma raw meta write failed",
				slog.String("raw_id", resp.RawID),
				slog.String("endpoint", endpoint),
				slog.Any("error", err))
		}
	}

	code, _ := catalog.RegionCode(point.Region)
	return domain.RawPage{
		Provider:   domain.ProviderKMA,
		Endpoint:   endpoint,
		RawID:      resp.RawID,
		Items:      resp.Items,
		PageNo:     1,
		TotalCount: resp.TotalCount,
		FetchedAt:  c.now(),
		Region:     point.Region,
		RegionCode: code,
		BaseDate:   baseDate,
		BaseTime:   baseTime,
	}, nil
}
