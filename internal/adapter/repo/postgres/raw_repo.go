package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// PgxPool is the subset of pgxpool.Pool the repositories depend on.
// Tests substitute a stub; production code passes *pgxpool.Pool.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Raw rows outlive their usefulness quickly: tourism listings are re-fetched
// on every sync, weather observations go stale within hours.
const (
	ktoRawTTL = 7 * 24 * time.Hour
	kmaRawTTL = 6 * time.Hour
)

func rawTTL(p domain.Provider) time.Duration {
	if p == domain.ProviderKMA {
		return kmaRawTTL
	}
	return ktoRawTTL
}

// RawRepo archives raw API responses in Postgres, with an optional
// best-effort filesystem copy under BackupDir.
type RawRepo struct {
	Pool      PgxPool
	BackupDir string // empty disables the filesystem backup
	now       func() time.Time
}

func NewRawRepo(pool PgxPool, backupDir string) *RawRepo {
	return &RawRepo{Pool: pool, BackupDir: backupDir, now: time.Now}
}

// Store inserts the record and returns its id. A zero ExpiresAt gets the
// provider default TTL. The body lands in a jsonb column; non-JSON payloads
// (XML fault documents, HTML error pages) are stored as a JSON string so the
// document survives verbatim.
func (r *RawRepo) Store(ctx domain.Context, rec domain.RawRecord) (string, error) {
	tracer := otel.Tracer("repo.raw")
	ctx, span := tracer.Start(ctx, "raw.Store")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "api_raw_data"),
	)

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(rawTTL(rec.Provider))
	}

	params, err := json.Marshal(rec.RequestParams)
	if err != nil {
		return "", fmt.Errorf("op=raw.store: encode params: %w", err)
	}

	filePath := rec.FilePath
	if filePath == "" && r.BackupDir != "" {
		if p, err := r.backup(rec, createdAt); err == nil {
			filePath = p
		}
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO api_raw_data
			(id, api_provider, endpoint, request_method, request_params,
			 response_status, raw_response, response_size, request_duration_ms,
			 api_key_hash, created_at, expires_at, file_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''))`,
		id, string(rec.Provider), rec.Endpoint, methodOrGet(rec.Method), params,
		rec.ResponseStatus, jsonbBody(rec.Body), rec.ResponseSize,
		rec.Duration.Milliseconds(), rec.KeyHash, createdAt, expiresAt, filePath)
	if err != nil {
		return "", fmt.Errorf("op=raw.store: %w", err)
	}
	return id, nil
}

// StoreKTOMeta links tourism request context to an archived row.
func (r *RawRepo) StoreKTOMeta(ctx domain.Context, meta domain.KTORawMeta) error {
	tracer := otel.Tracer("repo.raw")
	ctx, span := tracer.Start(ctx, "raw.StoreKTOMeta")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "api_raw_data_kto"),
	)

	_, err := r.Pool.Exec(ctx, `
		INSERT INTO api_raw_data_kto
			(raw_data_id, content_type_id, area_code, sigungu_code,
			 page_no, num_of_rows, sync_batch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (raw_data_id) DO NOTHING`,
		meta.RawID, meta.ContentTypeID, meta.AreaCode, meta.SigunguCode,
		meta.PageNo, meta.NumOfRows, meta.SyncBatchID)
	if err != nil {
		return fmt.Errorf("op=raw.store_kto_meta: %w", err)
	}
	return nil
}

// StoreKMAMeta links weather request context to an archived row.
func (r *RawRepo) StoreKMAMeta(ctx domain.Context, meta domain.KMARawMeta) error {
	tracer := otel.Tracer("repo.raw")
	ctx, span := tracer.Start(ctx, "raw.StoreKMAMeta")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "api_raw_data_kma"),
	)

	_, err := r.Pool.Exec(ctx, `
		INSERT INTO api_raw_data_kma
			(raw_data_id, base_date, base_time, nx, ny, forecast_type, region_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (raw_data_id) DO NOTHING`,
		meta.RawID, meta.BaseDate, meta.BaseTime, meta.NX, meta.NY,
		meta.ForecastType, meta.RegionName)
	if err != nil {
		return fmt.Errorf("op=raw.store_kma_meta: %w", err)
	}
	return nil
}

// PruneExpired deletes rows whose TTL elapsed and reports how many went.
// Typed tables cascade.
func (r *RawRepo) PruneExpired(ctx domain.Context, now time.Time) (int64, error) {
	tracer := otel.Tracer("repo.raw")
	ctx, span := tracer.Start(ctx, "raw.PruneExpired")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "api_raw_data"),
	)

	tag, err := r.Pool.Exec(ctx, `DELETE FROM api_raw_data WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("op=raw.prune_expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RawRepo) backup(rec domain.RawRecord, at time.Time) (string, error) {
	dir := filepath.Join(r.BackupDir, string(rec.Provider), at.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("op=raw.backup: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		rec.Provider, rec.Endpoint, at.Format("150405"), ulid.Make().String())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, rec.Body, 0o644); err != nil {
		return "", fmt.Errorf("op=raw.backup: %w", err)
	}
	return path, nil
}

func methodOrGet(m string) string {
	if m == "" {
		return "GET"
	}
	return m
}

func jsonbBody(body []byte) []byte {
	if len(body) == 0 {
		return []byte("null")
	}
	if json.Valid(body) {
		return body
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return []byte("null")
	}
	return quoted
}
