package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

type scannerStub struct {
	scans          []domain.QualityScan
	scores         map[string]domain.QualityScores
	details        map[string]map[string]any
	scanErr        map[string]error
	threshold      float64
	thresholdErr   error
	thresholdCalls int
	saved          []domain.QualityReport
	saveErr        error
}

func (s *scannerStub) Scan(_ context.Context, scan domain.QualityScan, _ time.Time) (domain.QualityScores, map[string]any, error) {
	s.scans = append(s.scans, scan)
	if err := s.scanErr[scan.Table]; err != nil {
		return domain.QualityScores{}, nil, err
	}
	return s.scores[scan.Table], s.details[scan.Table], nil
}

func (s *scannerStub) Threshold(_ context.Context, _ string) (float64, error) {
	s.thresholdCalls++
	return s.threshold, s.thresholdErr
}

func (s *scannerStub) SaveReport(_ context.Context, rep domain.QualityReport) error {
	s.saved = append(s.saved, rep)
	return s.saveErr
}

func testChecks() config.QualityChecks {
	return config.QualityChecks{
		Weights: config.QualityWeights{Completeness: 1, Validity: 1, Consistency: 1, Freshness: 1},
		Tables: map[string]config.TableQualitySpec{
			"attractions": {
				RequiredColumns:        []string{"content_id", "attraction_name"},
				DuplicateKeyColumns:    []string{"content_id"},
				DateColumn:             "last_sync_at",
				FreshnessThresholdDays: 7,
				ValueRanges: map[string]config.ValueRange{
					"latitude": {Min: 32, Max: 39},
				},
			},
		},
	}
}

func fixedGate(scanner domain.QualityScanner, checks config.QualityChecks, at time.Time) *Gate {
	g := NewGate(scanner, checks)
	g.now = func() time.Time { return at }
	return g
}

func TestGate_CheckTable(t *testing.T) {
	now := time.Date(2025, 7, 14, 3, 0, 0, 0, time.UTC)
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions": {Completeness: 0.9, Validity: 1, Consistency: 0.8, Freshness: 1},
		},
		details:   map[string]map[string]any{"attractions": {"duplicate_groups": int64(3)}},
		threshold: 0.85,
	}
	g := fixedGate(stub, testChecks(), now)

	rep, err := g.CheckTable(context.Background(), "attractions")
	require.NoError(t, err)

	assert.Equal(t, "attractions", rep.Table)
	assert.Equal(t, now, rep.CheckedAt)
	assert.InDelta(t, 0.925, rep.Scores.Overall, 1e-9)
	assert.Equal(t, 0.85, rep.Threshold)
	assert.True(t, rep.Passed)
	assert.Equal(t, int64(3), rep.Details["duplicate_groups"])

	// The scan request carries the declared checks.
	require.Len(t, stub.scans, 1)
	scan := stub.scans[0]
	assert.Equal(t, []string{"content_id", "attraction_name"}, scan.RequiredCols)
	assert.Equal(t, []string{"content_id"}, scan.DuplicateKeys)
	assert.Equal(t, "last_sync_at", scan.DateColumn)
	assert.Equal(t, 7, scan.FreshnessDays)
	assert.Equal(t, domain.QualityRange{Min: 32, Max: 39}, scan.Ranges["latitude"])

	require.Len(t, stub.saved, 1)
	assert.Equal(t, rep, stub.saved[0])
}

func TestGate_CheckTable_WeightedOverall(t *testing.T) {
	checks := testChecks()
	checks.Weights = config.QualityWeights{Completeness: 2, Validity: 1, Consistency: 1}
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions": {Completeness: 1, Validity: 0.5, Consistency: 0.5, Freshness: 0},
		},
		threshold: 0.7,
	}
	g := fixedGate(stub, checks, time.Now())

	rep, err := g.CheckTable(context.Background(), "attractions")
	require.NoError(t, err)
	// (2*1 + 0.5 + 0.5) / 4; freshness carries no weight.
	assert.InDelta(t, 0.75, rep.Scores.Overall, 1e-9)
	assert.True(t, rep.Passed)
}

func TestGate_CheckTable_TableThresholdOverride(t *testing.T) {
	checks := testChecks()
	spec := checks.Tables["attractions"]
	spec.Threshold = 0.95
	checks.Tables["attractions"] = spec
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions": {Completeness: 0.9, Validity: 0.9, Consistency: 0.9, Freshness: 0.9},
		},
		threshold: 0.5,
	}
	g := fixedGate(stub, checks, time.Now())

	rep, err := g.CheckTable(context.Background(), "attractions")
	require.NoError(t, err)
	assert.Equal(t, 0.95, rep.Threshold)
	assert.False(t, rep.Passed)
	assert.Zero(t, stub.thresholdCalls, "declared threshold should shadow the stored one")
}

func TestGate_CheckTable_UndeclaredTable(t *testing.T) {
	g := fixedGate(&scannerStub{}, testChecks(), time.Now())

	_, err := g.CheckTable(context.Background(), "no_such_table")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGate_CheckTable_ScanError(t *testing.T) {
	stub := &scannerStub{scanErr: map[string]error{"attractions": errors.New("boom")}}
	g := fixedGate(stub, testChecks(), time.Now())

	_, err := g.CheckTable(context.Background(), "attractions")
	require.ErrorContains(t, err, "boom")
	assert.Empty(t, stub.saved)
}

func TestGate_CheckTable_SaveErrorKeepsReport(t *testing.T) {
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions": {Completeness: 1, Validity: 1, Consistency: 1, Freshness: 1},
		},
		threshold: 0.8,
		saveErr:   errors.New("insert failed"),
	}
	g := fixedGate(stub, testChecks(), time.Now())

	rep, err := g.CheckTable(context.Background(), "attractions")
	require.ErrorContains(t, err, "insert failed")
	assert.Equal(t, "attractions", rep.Table)
	assert.True(t, rep.Passed)
}

func TestGate_CheckTable_ClampsOverall(t *testing.T) {
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions": {Completeness: 1.2, Validity: 1.2, Consistency: 1.2, Freshness: 1.2},
		},
		threshold: 0.8,
	}
	g := fixedGate(stub, testChecks(), time.Now())

	rep, err := g.CheckTable(context.Background(), "attractions")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rep.Scores.Overall)
}

func TestGate_CheckAll(t *testing.T) {
	checks := testChecks()
	checks.Tables["weather_current"] = config.TableQualitySpec{
		RequiredColumns: []string{"region_code", "temperature"},
	}
	checks.Tables["restaurants"] = config.TableQualitySpec{
		RequiredColumns: []string{"content_id"},
	}
	stub := &scannerStub{
		scores: map[string]domain.QualityScores{
			"attractions":     {Completeness: 1, Validity: 1, Consistency: 1, Freshness: 1},
			"weather_current": {Completeness: 0.9, Validity: 0.9, Consistency: 0.9, Freshness: 0.9},
		},
		scanErr:   map[string]error{"restaurants": errors.New("relation missing")},
		threshold: 0.8,
	}
	g := fixedGate(stub, checks, time.Now())

	reports, err := g.CheckAll(context.Background())
	require.ErrorContains(t, err, "relation missing")
	require.Len(t, reports, 2)
	assert.Equal(t, "attractions", reports[0].Table)
	assert.Equal(t, "weather_current", reports[1].Table)

	// Tables are walked in lexical order.
	require.Len(t, stub.scans, 3)
	assert.Equal(t, "attractions", stub.scans[0].Table)
	assert.Equal(t, "restaurants", stub.scans[1].Table)
	assert.Equal(t, "weather_current", stub.scans[2].Table)
}

func TestGate_Tables_Sorted(t *testing.T) {
	checks := testChecks()
	checks.Tables["weather_forecasts"] = config.TableQualitySpec{RequiredColumns: []string{"region_code"}}
	checks.Tables["accommodations"] = config.TableQualitySpec{RequiredColumns: []string{"content_id"}}
	g := NewGate(&scannerStub{}, checks)

	assert.Equal(t, []string{"accommodations", "attractions", "weather_forecasts"}, g.Tables())
}
