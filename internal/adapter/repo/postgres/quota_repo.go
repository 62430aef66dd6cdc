package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// QuotaRepo is the durable mirror of per-day key usage. The in-memory
// registry is authoritative while the process runs; this table survives
// restarts so a rehydrated registry never under-counts.
type QuotaRepo struct {
	Pool PgxPool
	now  func() time.Time
}

func NewQuotaRepo(pool PgxPool) *QuotaRepo {
	return &QuotaRepo{Pool: pool, now: time.Now}
}

// Record upserts one key's usage row. Used never goes backwards: concurrent
// writers and replays merge with GREATEST.
func (r *QuotaRepo) Record(ctx domain.Context, u domain.KeyUsage) error {
	tracer := otel.Tracer("repo.quota")
	ctx, span := tracer.Start(ctx, "quota.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "api_key_usage"),
	)

	var cooldown *time.Time
	if !u.CooldownUntil.IsZero() {
		cooldown = &u.CooldownUntil
	}
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO api_key_usage
			(provider, key_hash, usage_date, used, quota, state, cooldown_until, updated_at)
		VALUES ($1,$2,to_date($3,'YYYYMMDD'),$4,$5,$6,$7,$8)
		ON CONFLICT (provider, key_hash, usage_date) DO UPDATE SET
			used           = GREATEST(api_key_usage.used, EXCLUDED.used),
			quota          = EXCLUDED.quota,
			state          = EXCLUDED.state,
			cooldown_until = EXCLUDED.cooldown_until,
			updated_at     = EXCLUDED.updated_at`,
		string(u.Provider), u.KeyHash, u.Day, u.Used, u.Quota,
		string(u.State), cooldown, updatedAt)
	if err != nil {
		return fmt.Errorf("op=quota.record: %w", err)
	}
	return nil
}

// Load returns every key row for the provider and day, for registry
// rehydration at startup.
func (r *QuotaRepo) Load(ctx domain.Context, provider domain.Provider, day string) ([]domain.KeyUsage, error) {
	tracer := otel.Tracer("repo.quota")
	ctx, span := tracer.Start(ctx, "quota.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "api_key_usage"),
	)

	rows, err := r.Pool.Query(ctx, `
		SELECT provider, key_hash, to_char(usage_date,'YYYYMMDD'),
		       used, quota, state, cooldown_until, updated_at
		FROM api_key_usage
		WHERE provider = $1 AND usage_date = to_date($2,'YYYYMMDD')`,
		string(provider), day)
	if err != nil {
		return nil, fmt.Errorf("op=quota.load: %w", err)
	}
	defer rows.Close()

	var out []domain.KeyUsage
	for rows.Next() {
		var (
			u        domain.KeyUsage
			prov, st string
			cooldown *time.Time
		)
		if err := rows.Scan(&prov, &u.KeyHash, &u.Day, &u.Used, &u.Quota,
			&st, &cooldown, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=quota.load: scan: %w", err)
		}
		u.Provider = domain.Provider(prov)
		u.State = domain.KeyState(st)
		if cooldown != nil {
			u.CooldownUntil = *cooldown
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=quota.load: rows: %w", err)
	}
	return out, nil
}

// Close satisfies domain.QuotaLedger; the pool's lifetime belongs to main.
func (r *QuotaRepo) Close() error { return nil }
