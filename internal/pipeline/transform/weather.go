package transform

import (
	"sort"
	"strings"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Forecast endpoints tag the rows they produce so mixed stores stay queryable.
var forecastTypes = map[string]string{
	"getUltraSrtNcst": "ultra_srt_ncst",
	"getUltraSrtFcst": "ultra_srt_fcst",
	"getVilageFcst":   "vilage_fcst",
}

// Precipitation-type and sky codes carry the provider's labels.
var ptyLabels = map[string]string{
	"0": "없음", "1": "비", "2": "비/눈", "3": "눈",
	"4": "소나기", "5": "빗방울", "6": "빗방울눈날림", "7": "눈날림",
}

var skyLabels = map[string]string{
	"1": "맑음", "3": "구름많음", "4": "흐림",
}

func ptyLabel(code string) string {
	if l, ok := ptyLabels[code]; ok {
		return l
	}
	return code
}

func skyLabel(code string) string {
	if l, ok := skyLabels[code]; ok {
		return l
	}
	return code
}

// nowcastCategories is the measured set a complete observation fills.
const nowcastCategories = 6

// Nowcast pivots one page of category/value observation items into a single
// weather_current row for the page's region and base time.
func Nowcast(page domain.RawPage, loc *time.Location) Report {
	rep := Report{
		Table: "weather_current",
		Columns: []string{
			"region_code", "weather_date", "temperature", "humidity",
			"precipitation", "wind_speed", "wind_direction",
			"precipitation_type", "raw_data_id", "last_sync_at",
			"data_quality_score",
		},
		ConflictKeys: []string{"region_code", "weather_date"},
	}
	if len(page.Items) == 0 {
		return rep
	}
	if page.RegionCode == 0 {
		rep.Discards = append(rep.Discards, Discard{Field: "region", Reason: "unknown region " + page.Region})
		return rep
	}
	observedAt, err := baseInstant(page, loc)
	if err != nil {
		rep.Discards = append(rep.Discards, Discard{Field: "base_date/base_time",
			Reason: "unparseable base instant " + page.BaseDate + page.BaseTime})
		return rep
	}

	var temperature, humidity, precipitation, windSpeed, windDirection any
	precipType := ""
	measured := 0
	for _, item := range page.Items {
		val := str(item, "obsrValue")
		switch str(item, "category") {
		case "T1H":
			temperature = floatOrNil(val)
		case "REH":
			humidity = floatOrNil(val)
		case "RN1":
			precipitation = precipAmount(val)
		case "WSD":
			windSpeed = floatOrNil(val)
		case "VEC":
			windDirection = floatOrNil(val)
		case "PTY":
			precipType = ptyLabel(val)
		default:
			// UUU/VVV wind components and lightning are not landed.
			continue
		}
		measured++
	}

	rep.Rows = append(rep.Rows, []any{
		page.RegionCode,
		observedAt,
		temperature,
		humidity,
		precipitation,
		windSpeed,
		windDirection,
		precipType,
		rawIDOrNil(page.RawID),
		timeOrNil(page.FetchedAt),
		float64(measured) / nowcastCategories,
	})
	return rep
}

// forecastMeasures is the pivoted column count a complete forecast slot fills.
const forecastMeasures = 10

type forecastSlot struct {
	date time.Time
	tm   string

	temperature, minTemp, maxTemp any
	humidity, pop, amount         any
	windSpeed, windDirection      any
	sky, precipType               string
	measured                      int
}

// Forecast pivots forecast items, grouped by target date and time, into
// weather_forecasts rows. Ultra short-term and village pages share the shape;
// the categories present differ.
func Forecast(page domain.RawPage, loc *time.Location) Report {
	rep := Report{
		Table: "weather_forecasts",
		Columns: []string{
			"region_code", "forecast_date", "forecast_time", "forecast_type",
			"temperature", "min_temp", "max_temp", "humidity",
			"precipitation_probability", "precipitation_amount",
			"sky_condition", "precipitation_type", "wind_speed",
			"wind_direction", "raw_data_id", "last_sync_at",
			"data_quality_score",
		},
		ConflictKeys: []string{"region_code", "forecast_date", "forecast_time"},
	}
	if len(page.Items) == 0 {
		return rep
	}
	if page.RegionCode == 0 {
		rep.Discards = append(rep.Discards, Discard{Field: "region", Reason: "unknown region " + page.Region})
		return rep
	}
	forecastType := forecastTypes[page.Endpoint]

	slots := map[string]*forecastSlot{}
	var order []string
	for i, item := range page.Items {
		dateStr := str(item, "fcstDate")
		timeStr := str(item, "fcstTime")
		if len(dateStr) != 8 || timeStr == "" {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "fcstDate/fcstTime", Reason: "missing forecast slot"})
			continue
		}
		date, err := time.Parse("20060102", dateStr)
		if err != nil {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "fcstDate", Reason: "unparseable date " + dateStr})
			continue
		}

		key := dateStr + timeStr
		slot, ok := slots[key]
		if !ok {
			slot = &forecastSlot{date: date, tm: timeStr}
			slots[key] = slot
			order = append(order, key)
		}

		val := str(item, "fcstValue")
		switch str(item, "category") {
		case "TMP", "T1H":
			slot.temperature = floatOrNil(val)
		case "TMN":
			slot.minTemp = floatOrNil(val)
		case "TMX":
			slot.maxTemp = floatOrNil(val)
		case "REH":
			slot.humidity = floatOrNil(val)
		case "POP":
			slot.pop = floatOrNil(val)
		case "PCP", "RN1":
			slot.amount = precipAmount(val)
		case "SKY":
			slot.sky = skyLabel(val)
		case "PTY":
			slot.precipType = ptyLabel(val)
		case "WSD":
			slot.windSpeed = floatOrNil(val)
		case "VEC":
			slot.windDirection = floatOrNil(val)
		default:
			continue
		}
		slot.measured++
	}

	sort.Strings(order)
	for _, key := range order {
		s := slots[key]
		rep.Rows = append(rep.Rows, []any{
			page.RegionCode,
			s.date,
			s.tm,
			forecastType,
			s.temperature,
			s.minTemp,
			s.maxTemp,
			s.humidity,
			s.pop,
			s.amount,
			s.sky,
			s.precipType,
			s.windSpeed,
			s.windDirection,
			rawIDOrNil(page.RawID),
			timeOrNil(page.FetchedAt),
			float64(s.measured) / forecastMeasures,
		})
	}
	return rep
}

// baseInstant resolves the page's base date and time in the given zone.
func baseInstant(page domain.RawPage, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("200601021504", page.BaseDate+page.BaseTime, loc)
}

// precipAmount parses the provider's precipitation strings: plain numbers,
// "1.0mm", category ranges like "30.0~50.0mm", and the no-rain word.
func precipAmount(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.Contains(s, "없음") { // "강수없음"
		return 0.0
	}
	if strings.Contains(s, "미만") { // "1mm 미만"
		return 0.5
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "이상"))
	if i := strings.Index(s, "~"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "mm"))
	return floatOrNil(s)
}
