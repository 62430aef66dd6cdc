package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

type rollerStub struct {
	mu   sync.Mutex
	days []string
	zone string
	rows int64
	fail map[string]error
}

func (r *rollerStub) RollupDaily(_ domain.Context, day, zone string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days = append(r.days, day)
	r.zone = zone
	if err := r.fail[day]; err != nil {
		return 0, err
	}
	return r.rows, nil
}

func TestHistoricalWeather_RollsUpMostRecentDayFirst(t *testing.T) {
	loc := seoul(t)
	now := func() time.Time { return time.Date(2026, 3, 10, 0, 40, 0, 0, loc) }
	roller := &rollerStub{rows: 9}
	job := NewHistoricalWeatherJob(roller, "Asia/Seoul", loc, now)

	outcome, err := job.Execute(context.Background(), domain.HistoricalWeatherParams{Days: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"20260309", "20260308", "20260307"}, roller.days)
	assert.Equal(t, "Asia/Seoul", roller.zone)
	assert.Equal(t, 27, outcome.ProcessedRecords)
	assert.Equal(t, int64(9), outcome.Details["day:20260309"])
}

func TestHistoricalWeather_ZeroDaysMeansYesterday(t *testing.T) {
	loc := seoul(t)
	now := func() time.Time { return time.Date(2026, 3, 10, 0, 40, 0, 0, loc) }
	roller := &rollerStub{rows: 2}
	job := NewHistoricalWeatherJob(roller, "Asia/Seoul", loc, now)

	_, err := job.Execute(context.Background(), domain.HistoricalWeatherParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"20260309"}, roller.days)
}

func TestHistoricalWeather_RollupErrorKeepsEarlierDays(t *testing.T) {
	loc := seoul(t)
	now := func() time.Time { return time.Date(2026, 3, 10, 0, 40, 0, 0, loc) }
	roller := &rollerStub{rows: 5, fail: map[string]error{"20260308": domain.ErrTransient}}
	job := NewHistoricalWeatherJob(roller, "Asia/Seoul", loc, now)

	outcome, err := job.Execute(context.Background(), domain.HistoricalWeatherParams{Days: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.Contains(t, err.Error(), "20260308")
	assert.Equal(t, 5, outcome.ProcessedRecords)
}

func TestHistoricalWeather_ValidateBoundsBackfill(t *testing.T) {
	job := NewHistoricalWeatherJob(&rollerStub{}, "Asia/Seoul", seoul(t), nil)

	require.NoError(t, job.Validate(context.Background(), domain.HistoricalWeatherParams{Days: 90}))

	err := job.Validate(context.Background(), domain.HistoricalWeatherParams{Days: 91})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	err = job.Validate(context.Background(), domain.HistoricalWeatherParams{Days: -1})
	require.Error(t, err)
}
