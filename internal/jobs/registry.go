package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Stable job ids. The execution ledger, metric labels and the operator CLI
// all address jobs by these.
const (
	JobIDComprehensiveTourism = "comprehensive-tourism-sync"
	JobIDIncrementalTourism   = "incremental-tourism-sync"
	JobIDWeatherCurrent       = "weather-current-sync"
	JobIDWeatherForecast      = "weather-forecast-sync"
	JobIDHistoricalWeather    = "historical-weather-sync"
	JobIDQualityCheck         = "quality-check"
	JobIDArchivePrune         = "archive-prune"
	JobIDKeyProbe             = "key-probe"
)

// Registry pairs job definitions with their bodies. Registration happens at
// boot; lookups afterwards are concurrent.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]Job
	defs  map[string]domain.JobDefinition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: map[string]Job{},
		defs: map[string]domain.JobDefinition{},
	}
}

// Register binds a definition to its body. The definition's id must match
// the body's and be unique; dependencies are checked at Start by the
// scheduler, not here, so registration order stays free.
func (r *Registry) Register(def domain.JobDefinition, job Job) error {
	if def.ID == "" || job == nil {
		return fmt.Errorf("op=jobs.Register: empty definition or body: %w", domain.ErrInvalidArgument)
	}
	if def.ID != job.ID() {
		return fmt.Errorf("op=jobs.Register: definition %q names body %q: %w", def.ID, job.ID(), domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.ID]; dup {
		return fmt.Errorf("op=jobs.Register: duplicate job id %q: %w", def.ID, domain.ErrConflict)
	}
	r.defs[def.ID] = def
	r.jobs[def.ID] = job
	r.order = append(r.order, def.ID)
	return nil
}

// Job returns the body registered under id.
func (r *Registry) Job(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Definition returns the definition registered under id.
func (r *Registry) Definition(id string) (domain.JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []domain.JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.JobDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// RunOrder returns every enabled definition sorted so that dependencies come
// before their dependents, with priority (lower first) breaking ties. The
// operator CLI's run-all walks this order.
func (r *Registry) RunOrder() ([]domain.JobDefinition, error) {
	defs := r.Definitions()
	enabled := make([]domain.JobDefinition, 0, len(defs))
	for _, def := range defs {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	placed := map[string]bool{}
	var out []domain.JobDefinition
	for len(out) < len(enabled) {
		progressed := false
		for _, def := range enabled {
			if placed[def.ID] {
				continue
			}
			ready := true
			for _, dep := range def.DependsOn {
				// Dependencies on disabled or unknown jobs do not order
				// anything here; the run itself decides whether to skip.
				if _, known := r.defs[dep]; !known {
					continue
				}
				if isEnabled(enabled, dep) && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[def.ID] = true
				out = append(out, def)
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("op=jobs.RunOrder: dependency cycle among enabled jobs: %w", domain.ErrConfig)
		}
	}
	return out, nil
}

func isEnabled(defs []domain.JobDefinition, id string) bool {
	for _, def := range defs {
		if def.ID == id {
			return true
		}
	}
	return false
}

// DefaultDefinitions returns the stock schedule. Cron expressions are
// five-field and evaluated in the configured zone; the tourism and weather
// cadences follow the providers' publication rhythms.
func DefaultDefinitions(timeout time.Duration, policy domain.RetryPolicy) []domain.JobDefinition {
	base := func(id, name string, t domain.JobType, trig domain.Trigger, prio int, params domain.JobParams) domain.JobDefinition {
		return domain.JobDefinition{
			ID:               id,
			Name:             name,
			Type:             t,
			Trigger:          trig,
			Timeout:          timeout,
			MaxRetries:       policy.MaxRetries,
			RetryBackoffBase: policy.BackoffBase,
			RetryBackoffCap:  policy.BackoffCap,
			Priority:         prio,
			Enabled:          true,
			Params:           params,
		}
	}

	comprehensive := base(JobIDComprehensiveTourism, "Comprehensive tourism sync",
		domain.JobTourismSync, domain.Trigger{Cron: "0 2 * * 0"}, 30,
		domain.TourismSyncParams{})
	// A full harvest is long; give it headroom beyond the stock timeout.
	comprehensive.Timeout = 4 * time.Hour

	incremental := base(JobIDIncrementalTourism, "Incremental tourism sync",
		domain.JobTourismSync, domain.Trigger{Cron: "0 3 * * *"}, 20,
		domain.TourismSyncParams{Incremental: true})

	current := base(JobIDWeatherCurrent, "Current weather sync",
		domain.JobWeatherSync, domain.Trigger{Interval: time.Hour}, 10,
		domain.WeatherSyncParams{})

	// The village forecast publishes eight times a day; fetch shortly after
	// each slot.
	forecast := base(JobIDWeatherForecast, "Weather forecast sync",
		domain.JobWeatherSync, domain.Trigger{Cron: "20 2,5,8,11,14,17,20,23 * * *"}, 10,
		domain.WeatherSyncParams{})

	historical := base(JobIDHistoricalWeather, "Historical weather rollup",
		domain.JobHistoricalWeather, domain.Trigger{Cron: "30 0 * * *"}, 40,
		domain.HistoricalWeatherParams{Days: 2})
	historical.DependsOn = []string{JobIDWeatherCurrent}

	quality := base(JobIDQualityCheck, "Data quality gate",
		domain.JobQualityCheck, domain.Trigger{Cron: "0 6 * * *"}, 50,
		domain.QualityCheckParams{})

	prune := base(JobIDArchivePrune, "Raw archive prune",
		domain.JobArchivePrune, domain.Trigger{Cron: "0 4 * * *"}, 60,
		domain.ArchivePruneParams{Grace: 24 * time.Hour})

	probe := base(JobIDKeyProbe, "API key probe",
		domain.JobKeyProbe, domain.Trigger{Interval: 30 * time.Minute}, 70,
		domain.KeyProbeParams{})

	return []domain.JobDefinition{
		comprehensive, incremental, current, forecast, historical, quality, prune, probe,
	}
}
