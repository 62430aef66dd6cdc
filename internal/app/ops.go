// Package app assembles the ops HTTP surface: liveness and readiness
// probes, the Prometheus endpoint, and read-only status snapshots for the
// admin dashboard.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/service/governor"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
	requestTimeout     = 15 * time.Second
	probeTimeout       = 2 * time.Second
)

// ExecutionLister is the slice of the execution ledger the status
// endpoints read.
type ExecutionLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.JobExecution, error)
}

// KeySnapshotter exposes the key registry view; it never carries secrets.
type KeySnapshotter interface {
	Snapshot() []domain.KeyStatus
}

// LaneSnapshotter exposes the concurrency governor lanes.
type LaneSnapshotter interface {
	Snapshot() []governor.State
}

// ReadyCheck is one dependency probe behind /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options carries everything the ops router serves.
type Options struct {
	Config   config.Config
	Ledger   ExecutionLister
	Keys     KeySnapshotter
	Governor LaneSnapshotter
	Checks   []ReadyCheck
}

// BuildRouter constructs the ops HTTP handler. Probes and metrics stay open
// so schedulers and scrapers reach them without credentials; the status
// endpoints sit behind the rate limit, GET-only CORS for the dashboard
// origin, and basic auth whenever a digest is configured.
func BuildRouter(opts Options) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(TraceMiddleware)
	r.Use(AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", readyzHandler(opts.Checks))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	r.Route("/status", func(sr chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			sr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		sr.Use(cors.Handler(cors.Options{
			AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
		if cfg.OpsAuthDigest != "" {
			sr.Use(BasicAuthGuard(cfg.OpsAuthDigest))
		}
		sr.Get("/jobs", jobsHandler(opts.Ledger))
		sr.Get("/keys", keysHandler(opts.Keys))
		sr.Get("/governor", governorHandler(opts.Governor))
	})

	return SecurityHeaders(r)
}

// ParseOrigins splits a comma-separated origin list, trimming spaces. An
// empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// DBCheck probes the Postgres pool.
func DBCheck(pool *pgxpool.Pool) ReadyCheck {
	return ReadyCheck{Name: "db", Check: func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}}
}

// RedisCheck probes the quota KV. Deployments without Redis run on the
// in-process ledger and should not register this check.
func RedisCheck(rdb *redis.Client) ReadyCheck {
	return ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}}
}

func readyzHandler(checks []ReadyCheck) http.HandlerFunc {
	type result struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		results := make([]result, 0, len(checks))
		ready := true
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				ready = false
				results = append(results, result{Name: c.Name, Details: err.Error()})
				continue
			}
			results = append(results, result{Name: c.Name, OK: true})
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": results})
	}
}

// executionView is the wire shape of one ledger row; the ledger entity
// itself carries no JSON tags.
type executionView struct {
	ID               string     `json:"id"`
	JobID            string     `json:"job_id"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	ProcessedRecords int        `json:"processed_records"`
	FailedRecords    int        `json:"failed_records"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Severity         string     `json:"severity,omitempty"`
	RetryAttempt     int        `json:"retry_attempt"`
	RetryStatus      string     `json:"retry_status"`
	SyncBatchID      string     `json:"sync_batch_id,omitempty"`
}

func viewOf(e domain.JobExecution) executionView {
	v := executionView{
		ID:               e.ID,
		JobID:            e.JobID,
		Type:             string(e.JobType),
		Status:           string(e.Status),
		StartedAt:        e.StartedAt,
		CompletedAt:      e.CompletedAt,
		ProcessedRecords: e.ProcessedRecords,
		FailedRecords:    e.FailedRecords,
		ErrorMessage:     e.ErrorMessage,
		Severity:         string(e.Severity),
		RetryAttempt:     e.RetryAttempt,
		RetryStatus:      string(e.RetryStatus),
		SyncBatchID:      e.SyncBatchID,
	}
	if e.CompletedAt != nil {
		d := e.CompletedAt.Sub(e.StartedAt).Seconds()
		v.DurationSeconds = &d
	}
	return v
}

func jobsHandler(ledger ExecutionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			writeError(w, http.StatusServiceUnavailable, "execution ledger not configured")
			return
		}
		limit := defaultRecentLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxRecentLimit)
		}
		execs, err := ledger.ListRecent(r.Context(), limit)
		if err != nil {
			LoggerFrom(r).Error("status jobs query failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "execution query failed")
			return
		}
		views := make([]executionView, 0, len(execs))
		for _, e := range execs {
			views = append(views, viewOf(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{"executions": views})
	}
}

func keysHandler(keys KeySnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if keys == nil {
			writeError(w, http.StatusServiceUnavailable, "key registry not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys.Snapshot()})
	}
}

func governorHandler(lanes LaneSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if lanes == nil {
			writeError(w, http.StatusServiceUnavailable, "governor not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lanes": lanes.Snapshot()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
