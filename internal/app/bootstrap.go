package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kma"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kto"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/repo/postgres"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/jobs"
	"github.com/weatherflick/weather-flick-batch/internal/notify"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/upsert"
	"github.com/weatherflick/weather-flick-batch/internal/quality"
	"github.com/weatherflick/weather-flick-batch/internal/scheduler"
	"github.com/weatherflick/weather-flick-batch/internal/service/governor"
	"github.com/weatherflick/weather-flick-batch/internal/service/keyring"
	"github.com/weatherflick/weather-flick-batch/internal/service/quota"
)

// System is the fully wired batch platform: every adapter, service and job
// body constructed from one Config, ready for the scheduler daemon or a
// one-shot operator run.
type System struct {
	Config   config.Config
	Location *time.Location

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Keys     *keyring.Registry
	Governor *governor.Governor
	Executor *api.Executor
	Archive  *postgres.RawRepo
	Ledger   *postgres.ExecutionsRepo
	Quality  *quality.Gate
	Notifier *notify.Dispatcher

	Registry  *jobs.Registry
	Runtime   *jobs.Runtime
	Scheduler *scheduler.Scheduler
	Sweeper   *scheduler.Sweeper
}

// BuildSystem connects every component. It applies pending migrations and
// hydrates the key registry before returning; a non-nil error means the
// process must not continue.
func BuildSystem(ctx context.Context, cfg config.Config) (*System, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildSystem: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.BuildSystem: %w", err)
	}

	// Quota accounting: the Postgres mirror always rides along; Redis in
	// front when configured so scaled-out daemons share one counter.
	var rdb *redis.Client
	mirror := postgres.NewQuotaRepo(pool)
	var quotaLedger domain.QuotaLedger = mirror
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		quotaLedger = quota.NewRedisLedger(rdb, loc, mirror)
	}

	keys := keyring.New(keyring.Options{
		Secrets: map[domain.Provider][]string{
			domain.ProviderKTO: cfg.KTOAPIKeys,
			domain.ProviderKMA: cfg.KMAAPIKeys,
		},
		DailyQuota: map[domain.Provider]int{
			domain.ProviderKTO: cfg.KTODailyQuota,
			domain.ProviderKMA: cfg.KMADailyQuota,
		},
		Location: loc,
	}, quotaLedger)
	if err := keys.Hydrate(ctx); err != nil {
		closeAll(pool, rdb)
		return nil, fmt.Errorf("op=app.BuildSystem: %w", err)
	}

	gov := governor.New(governor.Options{
		Providers: map[domain.Provider]governor.ProviderLimits{
			domain.ProviderKTO: {MaxInFlight: cfg.KTOMaxInFlight, MinInterval: cfg.KTOMinInterval},
			domain.ProviderKMA: {MaxInFlight: cfg.KMAMaxInFlight, MinInterval: cfg.KMAMinInterval},
		},
		GlobalMax: cfg.GlobalMaxInFlight,
		DelayCap:  cfg.AdaptiveDelayCap,
	})

	archive := postgres.NewRawRepo(pool, cfg.RawBackupDir)
	executor := api.New(cfg, gov, keys, archive)
	ktoClient := kto.New(executor, archive, 0)
	kmaClient := kma.New(executor, archive, loc, nil)

	engine := upsert.New(pool)
	ledger := postgres.NewExecutionsRepo(pool)
	weatherRepo := postgres.NewWeatherRepo(pool)
	retention := postgres.NewRetentionService(pool, cfg.RetentionDays)

	checks, err := config.LoadQualityChecks(cfg.QualityChecksPath)
	if err != nil {
		closeAll(pool, rdb)
		return nil, fmt.Errorf("op=app.BuildSystem: %w", err)
	}
	gate := quality.NewGate(postgres.NewQualityRepo(pool), checks)

	channels := []notify.Channel{notify.LogChannel{}}
	if cfg.AlertWebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.AlertWebhookURL))
	}
	notifier := notify.NewDispatcher(cfg.AlertCooldown, channels...)

	prof := cfg.Profile()
	bodies := map[string]jobs.Job{
		jobs.JobIDComprehensiveTourism: jobs.NewTourismSyncJob(jobs.JobIDComprehensiveTourism, ktoClient, engine, prof, loc, nil),
		jobs.JobIDIncrementalTourism:   jobs.NewTourismSyncJob(jobs.JobIDIncrementalTourism, ktoClient, engine, prof, loc, nil),
		jobs.JobIDWeatherCurrent:       jobs.NewWeatherCurrentJob(kmaClient, engine, prof, loc),
		jobs.JobIDWeatherForecast:      jobs.NewWeatherForecastJob(kmaClient, engine, prof, loc),
		jobs.JobIDHistoricalWeather:    jobs.NewHistoricalWeatherJob(weatherRepo, cfg.Timezone, loc, nil),
		jobs.JobIDQualityCheck:         jobs.NewQualityCheckJob(gate),
		jobs.JobIDArchivePrune:         jobs.NewArchivePruneJob(archive, retention, nil),
		jobs.JobIDKeyProbe:             jobs.NewKeyProbeJob(keys, executor, loc, nil),
	}

	registry := jobs.NewRegistry()
	for _, def := range jobs.DefaultDefinitions(cfg.JobTimeout, cfg.RetryPolicy()) {
		if err := registry.Register(def, bodies[def.ID]); err != nil {
			closeAll(pool, rdb)
			return nil, fmt.Errorf("op=app.BuildSystem: %w", err)
		}
	}

	runtime := jobs.NewRuntime(ledger)
	sched := scheduler.New(scheduler.Options{
		Registry: registry,
		Runtime:  runtime,
		Ledger:   ledger,
		Notifier: notifier,
		Location: loc,
		Workers:  cfg.SchedulerWorkers,
	})

	return &System{
		Config:    cfg,
		Location:  loc,
		Pool:      pool,
		Redis:     rdb,
		Keys:      keys,
		Governor:  gov,
		Executor:  executor,
		Archive:   archive,
		Ledger:    ledger,
		Quality:   gate,
		Notifier:  notifier,
		Registry:  registry,
		Runtime:   runtime,
		Scheduler: sched,
		Sweeper:   scheduler.NewSweeper(ledger, cfg.MaxRunningAge, cfg.SweepInterval, nil),
	}, nil
}

// ReadyChecks returns the dependency probes for /readyz.
func (s *System) ReadyChecks() []ReadyCheck {
	checks := []ReadyCheck{DBCheck(s.Pool)}
	if s.Redis != nil {
		checks = append(checks, RedisCheck(s.Redis))
	}
	return checks
}

// Close releases the system's connections.
func (s *System) Close() {
	closeAll(s.Pool, s.Redis)
}

func closeAll(pool *pgxpool.Pool, rdb *redis.Client) {
	if rdb != nil {
		_ = rdb.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
