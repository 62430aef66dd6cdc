package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// QualityRepo runs the quality dimension scans as SQL against the landed
// tables and persists gate verdicts. Table and column names come from the
// checks document, never from request input, and are still sanitized before
// interpolation.
type QualityRepo struct {
	Pool PgxPool
}

func NewQualityRepo(pool PgxPool) *QualityRepo {
	return &QualityRepo{Pool: pool}
}

// defaultOverallThreshold applies when a table has no row in
// data_quality_thresholds.
const defaultOverallThreshold = 0.8

// Scan measures completeness, validity, consistency and freshness for one
// table. An empty table scores zero on every dimension.
func (r *QualityRepo) Scan(ctx domain.Context, scan domain.QualityScan, now time.Time) (domain.QualityScores, map[string]any, error) {
	tracer := otel.Tracer("repo.quality")
	ctx, span := tracer.Start(ctx, "quality.Scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", scan.Table),
	)

	table := pgx.Identifier{scan.Table}.Sanitize()
	details := map[string]any{}

	var total int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&total); err != nil {
		return domain.QualityScores{}, nil, fmt.Errorf("op=quality.scan: count %s: %w", scan.Table, err)
	}
	details["total_records"] = total
	if total == 0 {
		details["empty_table"] = true
		return domain.QualityScores{}, details, nil
	}

	completeness, err := r.completeness(ctx, table, scan.RequiredCols, total, details)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}
	validity, err := r.validity(ctx, table, scan.Ranges, total, details)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}
	consistency, err := r.consistency(ctx, table, scan.DuplicateKeys, total, details)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}
	freshness, err := r.freshness(ctx, table, scan.DateColumn, scan.FreshnessDays, now, details)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}

	return domain.QualityScores{
		Completeness: completeness,
		Validity:     validity,
		Consistency:  consistency,
		Freshness:    freshness,
	}, details, nil
}

func (r *QualityRepo) completeness(ctx domain.Context, table string, cols []string, total int64, details map[string]any) (float64, error) {
	if len(cols) == 0 {
		return 1, nil
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "COUNT(" + pgx.Identifier{c}.Sanitize() + ")"
	}
	row := r.Pool.QueryRow(ctx, `SELECT `+strings.Join(parts, ", ")+` FROM `+table)

	counts := make([]int64, len(cols))
	dests := make([]any, len(cols))
	for i := range counts {
		dests[i] = &counts[i]
	}
	if err := row.Scan(dests...); err != nil {
		return 0, fmt.Errorf("op=quality.scan: completeness: %w", err)
	}

	perColumn := make(map[string]float64, len(cols))
	var sum float64
	for i, c := range cols {
		ratio := float64(counts[i]) / float64(total)
		perColumn[c] = ratio
		sum += ratio
	}
	details["column_completeness"] = perColumn
	return sum / float64(len(cols)), nil
}

func (r *QualityRepo) validity(ctx domain.Context, table string, ranges map[string]domain.QualityRange, total int64, details map[string]any) (float64, error) {
	if len(ranges) == 0 {
		return 1, nil
	}
	cols := make([]string, 0, len(ranges))
	for c := range ranges {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	conds := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)*2)
	for _, c := range cols {
		ident := pgx.Identifier{c}.Sanitize()
		conds = append(conds, fmt.Sprintf("(%s IS NULL OR (%s >= $%d AND %s <= $%d))",
			ident, ident, len(args)+1, ident, len(args)+2))
		args = append(args, ranges[c].Min, ranges[c].Max)
	}

	var valid int64
	q := `SELECT COUNT(*) FILTER (WHERE ` + strings.Join(conds, " AND ") + `) FROM ` + table
	if err := r.Pool.QueryRow(ctx, q, args...).Scan(&valid); err != nil {
		return 0, fmt.Errorf("op=quality.scan: validity: %w", err)
	}
	details["invalid_records"] = total - valid
	return float64(valid) / float64(total), nil
}

func (r *QualityRepo) consistency(ctx domain.Context, table string, keys []string, total int64, details map[string]any) (float64, error) {
	if len(keys) == 0 {
		return 1, nil
	}
	idents := make([]string, len(keys))
	for i, k := range keys {
		idents[i] = pgx.Identifier{k}.Sanitize()
	}
	group := strings.Join(idents, ", ")

	var dupGroups int64
	q := `SELECT COUNT(*) FROM (SELECT 1 FROM ` + table +
		` GROUP BY ` + group + ` HAVING COUNT(*) > 1) AS dup`
	if err := r.Pool.QueryRow(ctx, q).Scan(&dupGroups); err != nil {
		return 0, fmt.Errorf("op=quality.scan: consistency: %w", err)
	}
	details["duplicate_groups"] = dupGroups

	score := 1 - float64(dupGroups)/float64(total)
	if score < 0 {
		score = 0
	}
	return score, nil
}

func (r *QualityRepo) freshness(ctx domain.Context, table, dateCol string, thresholdDays int, now time.Time, details map[string]any) (float64, error) {
	if dateCol == "" {
		details["freshness_unmeasured"] = true
		return 1, nil
	}
	var latest *time.Time
	q := `SELECT MAX(` + pgx.Identifier{dateCol}.Sanitize() + `) FROM ` + table
	if err := r.Pool.QueryRow(ctx, q).Scan(&latest); err != nil {
		return 0, fmt.Errorf("op=quality.scan: freshness: %w", err)
	}
	if latest == nil {
		return 0, nil
	}
	details["latest_record"] = latest.UTC().Format(time.RFC3339)

	if thresholdDays <= 0 {
		thresholdDays = 1
	}
	if now.Sub(*latest) <= time.Duration(thresholdDays)*24*time.Hour {
		return 1, nil
	}
	return 0, nil
}

// Threshold returns the overall pass threshold for a table, falling back to
// the default when the table has no row.
func (r *QualityRepo) Threshold(ctx domain.Context, table string) (float64, error) {
	tracer := otel.Tracer("repo.quality")
	ctx, span := tracer.Start(ctx, "quality.Threshold")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "data_quality_thresholds"),
	)

	var threshold float64
	err := r.Pool.QueryRow(ctx,
		`SELECT overall FROM data_quality_thresholds WHERE table_name = $1`, table).
		Scan(&threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultOverallThreshold, nil
	}
	if err != nil {
		return 0, fmt.Errorf("op=quality.threshold: %w", err)
	}
	return threshold, nil
}

// SaveReport persists one gate verdict.
func (r *QualityRepo) SaveReport(ctx domain.Context, rep domain.QualityReport) error {
	tracer := otel.Tracer("repo.quality")
	ctx, span := tracer.Start(ctx, "quality.SaveReport")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "data_quality_check_results"),
	)

	details, err := json.Marshal(rep.Details)
	if err != nil {
		return fmt.Errorf("op=quality.save_report: encode details: %w", err)
	}
	_, err = r.Pool.Exec(ctx, `
		INSERT INTO data_quality_check_results
			(id, table_name, check_time, completeness, validity,
			 consistency, freshness, overall, passed, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		uuid.New().String(), rep.Table, rep.CheckedAt,
		rep.Scores.Completeness, rep.Scores.Validity, rep.Scores.Consistency,
		rep.Scores.Freshness, rep.Scores.Overall, rep.Passed, details)
	if err != nil {
		return fmt.Errorf("op=quality.save_report: %w", err)
	}
	return nil
}
