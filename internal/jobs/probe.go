package jobs

import (
	"fmt"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kma"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kto"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// KeyProber re-tests sidelined credentials; *keyring.Registry satisfies it.
type KeyProber interface {
	Probe(ctx domain.Context, provider domain.Provider, probe func(ctx domain.Context, secret string) error) int
}

// ProbeCaller issues one unrecorded call with an explicit secret;
// *api.Executor satisfies it.
type ProbeCaller interface {
	Probe(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, secret string) error
}

// KeyProbeJob offers sidelined keys a cheap upstream call and reactivates
// the ones that answer, so a transient provider incident does not bench keys
// for the rest of the day.
type KeyProbeJob struct {
	keys   KeyProber
	caller ProbeCaller
	loc    *time.Location
	now    func() time.Time
}

func NewKeyProbeJob(keys KeyProber, caller ProbeCaller, loc *time.Location, now func() time.Time) *KeyProbeJob {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &KeyProbeJob{keys: keys, caller: caller, loc: loc, now: now}
}

func (j *KeyProbeJob) ID() string           { return JobIDKeyProbe }
func (j *KeyProbeJob) Type() domain.JobType { return domain.JobKeyProbe }

func (j *KeyProbeJob) Validate(_ domain.Context, params domain.JobParams) error {
	p, ok := params.(domain.KeyProbeParams)
	if !ok {
		return fmt.Errorf("op=jobs.probe: params are %T: %w", params, domain.ErrInvalidArgument)
	}
	for _, provider := range p.Providers {
		switch provider {
		case domain.ProviderKTO, domain.ProviderKMA:
		default:
			return fmt.Errorf("op=jobs.probe: unknown provider %q: %w", provider, domain.ErrInvalidArgument)
		}
	}
	return nil
}

func (j *KeyProbeJob) Execute(ctx domain.Context, params domain.JobParams) (*domain.JobOutcome, error) {
	p := params.(domain.KeyProbeParams)
	providers := p.Providers
	if len(providers) == 0 {
		providers = []domain.Provider{domain.ProviderKTO, domain.ProviderKMA}
	}

	outcome := &domain.JobOutcome{Details: map[string]any{}}
	for _, provider := range providers {
		endpoint, reqParams := j.probeRequest(provider)
		recovered := j.keys.Probe(ctx, provider, func(ctx domain.Context, secret string) error {
			return j.caller.Probe(ctx, provider, endpoint, reqParams, secret)
		})
		outcome.ProcessedRecords += recovered
		outcome.Details["recovered:"+string(provider)] = recovered
	}
	return outcome, nil
}

func (j *KeyProbeJob) Cleanup(domain.Context) {}

func (j *KeyProbeJob) probeRequest(provider domain.Provider) (string, map[string]string) {
	if provider == domain.ProviderKMA {
		return kma.ProbeRequest(j.now(), j.loc)
	}
	return kto.ProbeRequest()
}
