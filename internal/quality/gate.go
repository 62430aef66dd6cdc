// Package quality runs the declarative data quality checks against the
// landed tables and records pass/fail verdicts. The checks document says
// what to measure; the storage scanner does the measuring; the gate does the
// arithmetic and the bookkeeping.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Gate evaluates tables against the checks document.
type Gate struct {
	scanner domain.QualityScanner
	checks  config.QualityChecks
	now     func() time.Time
}

func NewGate(scanner domain.QualityScanner, checks config.QualityChecks) *Gate {
	return &Gate{scanner: scanner, checks: checks, now: time.Now}
}

// Tables returns the declared table names in stable order.
func (g *Gate) Tables() []string {
	out := make([]string, 0, len(g.checks.Tables))
	for t := range g.checks.Tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CheckTable scans one table, derives the overall score, persists the
// verdict and publishes the gauges. The report is returned even when
// persisting it fails.
func (g *Gate) CheckTable(ctx context.Context, table string) (domain.QualityReport, error) {
	spec, ok := g.checks.Tables[table]
	if !ok {
		return domain.QualityReport{}, fmt.Errorf("op=quality.check: table %s not declared: %w", table, domain.ErrInvalidArgument)
	}

	now := g.now()
	scan := domain.QualityScan{
		Table:         table,
		RequiredCols:  spec.RequiredColumns,
		DuplicateKeys: spec.DuplicateKeyColumns,
		DateColumn:    spec.DateColumn,
		FreshnessDays: spec.FreshnessThresholdDays,
		Ranges:        toRanges(spec.ValueRanges),
	}
	scores, details, err := g.scanner.Scan(ctx, scan, now)
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("op=quality.check: table=%s: %w", table, err)
	}
	scores.Overall = overall(g.checks.Weights, scores)

	threshold := spec.Threshold
	if threshold <= 0 {
		threshold, err = g.scanner.Threshold(ctx, table)
		if err != nil {
			return domain.QualityReport{}, fmt.Errorf("op=quality.check: table=%s: %w", table, err)
		}
	}

	rep := domain.QualityReport{
		Table:     table,
		CheckedAt: now,
		Scores:    scores,
		Threshold: threshold,
		Passed:    scores.Overall >= threshold,
		Details:   details,
	}
	observability.ObserveQuality(table,
		scores.Completeness, scores.Validity, scores.Consistency,
		scores.Freshness, scores.Overall)
	if !rep.Passed {
		slog.Warn("quality gate failed",
			slog.String("table", table),
			slog.Float64("overall", scores.Overall),
			slog.Float64("threshold", threshold))
	}

	if err := g.scanner.SaveReport(ctx, rep); err != nil {
		return rep, fmt.Errorf("op=quality.check: table=%s: save: %w", table, err)
	}
	return rep, nil
}

// CheckAll evaluates every declared table. Per-table failures do not stop
// the walk; scan errors are joined and returned beside the reports that
// did complete.
func (g *Gate) CheckAll(ctx context.Context) ([]domain.QualityReport, error) {
	var (
		reports []domain.QualityReport
		errs    []error
	)
	for _, table := range g.Tables() {
		rep, err := g.CheckTable(ctx, table)
		if err != nil {
			errs = append(errs, err)
			if rep.Table == "" {
				continue
			}
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

func toRanges(in map[string]config.ValueRange) map[string]domain.QualityRange {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]domain.QualityRange, len(in))
	for col, r := range in {
		out[col] = domain.QualityRange{Min: r.Min, Max: r.Max}
	}
	return out
}

// overall is the weighted mean of the four dimensions, clamped to [0,1].
func overall(w config.QualityWeights, s domain.QualityScores) float64 {
	sum := w.Completeness + w.Validity + w.Consistency + w.Freshness
	if sum <= 0 {
		w = config.QualityWeights{Completeness: 1, Validity: 1, Consistency: 1, Freshness: 1}
		sum = 4
	}
	v := (w.Completeness*s.Completeness + w.Validity*s.Validity +
		w.Consistency*s.Consistency + w.Freshness*s.Freshness) / sum
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
