package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func defOf(id string, prio int, deps ...string) domain.JobDefinition {
	return domain.JobDefinition{
		ID:        id,
		Type:      domain.JobTourismSync,
		Trigger:   domain.Trigger{Interval: time.Hour},
		Priority:  prio,
		DependsOn: deps,
		Enabled:   true,
	}
}

func TestRegistry_RegisterRejectsMismatchAndDuplicates(t *testing.T) {
	r := NewRegistry()
	body := &scriptedJob{id: "a"}

	require.NoError(t, r.Register(defOf("a", 1), body))

	err := r.Register(defOf("a", 1), body)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = r.Register(defOf("b", 1), body)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestRegistry_DefinitionsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(defOf("b", 2), &scriptedJob{id: "b"}))
	require.NoError(t, r.Register(defOf("a", 1), &scriptedJob{id: "a"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].ID)
	assert.Equal(t, "a", defs[1].ID)
}

func TestRunOrder_DependenciesBeforeDependents(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(defOf("rollup", 40, "harvest"), &scriptedJob{id: "rollup"}))
	require.NoError(t, r.Register(defOf("harvest", 10), &scriptedJob{id: "harvest"}))
	require.NoError(t, r.Register(defOf("gate", 50, "rollup"), &scriptedJob{id: "gate"}))

	order, err := r.RunOrder()
	require.NoError(t, err)
	ids := make([]string, len(order))
	for i, def := range order {
		ids[i] = def.ID
	}
	assert.Equal(t, []string{"harvest", "rollup", "gate"}, ids)
}

func TestRunOrder_SkipsDisabledAndDetectsCycles(t *testing.T) {
	r := NewRegistry()
	off := defOf("off", 1)
	off.Enabled = false
	require.NoError(t, r.Register(off, &scriptedJob{id: "off"}))
	require.NoError(t, r.Register(defOf("on", 2, "off"), &scriptedJob{id: "on"}))

	order, err := r.RunOrder()
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, "on", order[0].ID)

	r2 := NewRegistry()
	require.NoError(t, r2.Register(defOf("x", 1, "y"), &scriptedJob{id: "x"}))
	require.NoError(t, r2.Register(defOf("y", 2, "x"), &scriptedJob{id: "y"}))
	_, err = r2.RunOrder()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestDefaultDefinitions_CoverEveryJob(t *testing.T) {
	defs := DefaultDefinitions(30*time.Minute, domain.DefaultRetryPolicy())

	byID := map[string]domain.JobDefinition{}
	for _, def := range defs {
		byID[def.ID] = def
	}
	for _, id := range []string{
		JobIDComprehensiveTourism, JobIDIncrementalTourism,
		JobIDWeatherCurrent, JobIDWeatherForecast,
		JobIDHistoricalWeather, JobIDQualityCheck,
		JobIDArchivePrune, JobIDKeyProbe,
	} {
		def, ok := byID[id]
		require.True(t, ok, id)
		assert.True(t, def.Enabled, id)
		assert.True(t, def.Trigger.Cron != "" || def.Trigger.Interval > 0, id)
		assert.Positive(t, def.Timeout, id)
	}

	assert.Equal(t, []string{JobIDWeatherCurrent}, byID[JobIDHistoricalWeather].DependsOn)
	assert.Greater(t, byID[JobIDComprehensiveTourism].Timeout, 30*time.Minute)
	assert.Positive(t, byID[JobIDWeatherCurrent].Trigger.Interval)
}
