package kma

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

type fakeCaller struct {
	mu        sync.Mutex
	endpoints []string
	params    []map[string]string
	resp      *api.Response
	err       error
}

func (f *fakeCaller) Call(_ domain.Context, _ domain.Provider, endpoint string, params map[string]string, _ api.CallOptions) (*api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	f.endpoints = append(f.endpoints, endpoint)
	f.params = append(f.params, cp)
	return f.resp, f.err
}

type metaStub struct {
	mu  sync.Mutex
	kma []domain.KMARawMeta
}

func (m *metaStub) Store(domain.Context, domain.RawRecord) (string, error) { return "", nil }
func (m *metaStub) StoreKTOMeta(domain.Context, domain.KTORawMeta) error   { return nil }
func (m *metaStub) StoreKMAMeta(_ domain.Context, meta domain.KMARawMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kma = append(m.kma, meta)
	return nil
}
func (m *metaStub) PruneExpired(domain.Context, time.Time) (int64, error) { return 0, nil }

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNowcast_FetchesGridCell(t *testing.T) {
	loc := seoul(t)
	at := time.Date(2026, 7, 14, 14, 41, 0, 0, loc)
	caller := &fakeCaller{resp: &api.Response{
		RawID:      "raw-kma-1",
		Items:      []map[string]any{{"category": "T1H", "obsrValue": "27.3"}},
		TotalCount: 1,
	}}
	arch := &metaStub{}
	c := New(caller, arch, loc, fixedClock(at))

	page, err := c.Nowcast(context.Background(), catalog.WeatherGrid["서울"])
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderKMA, page.Provider)
	assert.Equal(t, "서울", page.Region)
	assert.Equal(t, 1, page.RegionCode)
	assert.Equal(t, "20260714", page.BaseDate)
	assert.Equal(t, "1430", page.BaseTime)
	assert.Len(t, page.Items, 1)

	require.Len(t, caller.params, 1)
	assert.Equal(t, EndpointNowcast, caller.endpoints[0])
	assert.Equal(t, "60", caller.params[0]["nx"])
	assert.Equal(t, "127", caller.params[0]["ny"])
	assert.Equal(t, "20260714", caller.params[0]["base_date"])

	require.Len(t, arch.kma, 1)
	assert.Equal(t, "raw-kma-1", arch.kma[0].RawID)
	assert.Equal(t, ForecastTypeNowcast, arch.kma[0].ForecastType)
	assert.Equal(t, "서울", arch.kma[0].RegionName)
}

func TestVillageForecast_Endpoint(t *testing.T) {
	loc := seoul(t)
	caller := &fakeCaller{resp: &api.Response{RawID: "raw-1"}}
	c := New(caller, &metaStub{}, loc, fixedClock(time.Date(2026, 7, 14, 12, 0, 0, 0, loc)))

	_, err := c.VillageForecast(context.Background(), catalog.WeatherGrid["부산"])
	require.NoError(t, err)
	assert.Equal(t, EndpointVillageForecast, caller.endpoints[0])
	assert.Equal(t, "1100", caller.params[0]["base_time"])
	assert.Equal(t, "1000", caller.params[0]["numOfRows"])
}

func TestNowcastBase_HourBoundary(t *testing.T) {
	loc := seoul(t)
	cases := []struct {
		at       time.Time
		wantDate string
		wantTime string
	}{
		{time.Date(2026, 7, 14, 14, 29, 0, 0, loc), "20260714", "1330"},
		{time.Date(2026, 7, 14, 14, 30, 0, 0, loc), "20260714", "1430"},
		{time.Date(2026, 7, 14, 0, 10, 0, 0, loc), "20260713", "2330"},
	}
	for _, tc := range cases {
		date, tm := nowcastBase(tc.at)
		assert.Equal(t, tc.wantDate, date, "at %s", tc.at)
		assert.Equal(t, tc.wantTime, tm, "at %s", tc.at)
	}
}

func TestUltraForecastBase_QuarterRule(t *testing.T) {
	loc := seoul(t)
	date, tm := ultraForecastBase(time.Date(2026, 7, 14, 9, 44, 0, 0, loc))
	assert.Equal(t, "20260714", date)
	assert.Equal(t, "0830", tm)

	date, tm = ultraForecastBase(time.Date(2026, 7, 14, 9, 45, 0, 0, loc))
	assert.Equal(t, "20260714", date)
	assert.Equal(t, "0930", tm)
}

func TestVillageBase_Slots(t *testing.T) {
	loc := seoul(t)
	cases := []struct {
		hour     int
		wantDate string
		wantTime string
	}{
		{0, "20260713", "2300"},
		{4, "20260713", "2300"},
		{5, "20260714", "0500"},
		{10, "20260714", "0500"},
		{11, "20260714", "1100"},
		{16, "20260714", "1100"},
		{17, "20260714", "1700"},
		{22, "20260714", "1700"},
		{23, "20260714", "2300"},
	}
	for _, tc := range cases {
		date, tm := villageBase(time.Date(2026, 7, 14, tc.hour, 0, 0, 0, loc))
		assert.Equal(t, tc.wantDate, date, "hour %d", tc.hour)
		assert.Equal(t, tc.wantTime, tm, "hour %d", tc.hour)
	}
}

func TestForecastTypeFor(t *testing.T) {
	assert.Equal(t, "ultra_srt_ncst", ForecastTypeFor(EndpointNowcast))
	assert.Equal(t, "ultra_srt_fcst", ForecastTypeFor(EndpointUltraForecast))
	assert.Equal(t, "vilage_fcst", ForecastTypeFor(EndpointVillageForecast))
	assert.Equal(t, "unknown", ForecastTypeFor("getSomethingElse"))
}
