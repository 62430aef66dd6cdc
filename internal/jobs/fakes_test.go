package jobs

import (
	"strconv"
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/pipeline/upsert"
)

// callerStub scripts provider responses.
type callerStub struct {
	mu        sync.Mutex
	endpoints []string
	params    []map[string]string
	respond   func(endpoint string, params map[string]string) (*api.Response, error)
}

func (c *callerStub) Call(_ domain.Context, _ domain.Provider, endpoint string, params map[string]string, _ api.CallOptions) (*api.Response, error) {
	c.mu.Lock()
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	c.endpoints = append(c.endpoints, endpoint)
	c.params = append(c.params, cp)
	c.mu.Unlock()
	return c.respond(endpoint, params)
}

// archiveStub records raw archive writes.
type archiveStub struct {
	mu   sync.Mutex
	next int
	kto  []domain.KTORawMeta
	kma  []domain.KMARawMeta
}

func (a *archiveStub) Store(domain.Context, domain.RawRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return "raw-" + strconv.Itoa(a.next), nil
}

func (a *archiveStub) StoreKTOMeta(_ domain.Context, meta domain.KTORawMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kto = append(a.kto, meta)
	return nil
}

func (a *archiveStub) StoreKMAMeta(_ domain.Context, meta domain.KMARawMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kma = append(a.kma, meta)
	return nil
}

func (a *archiveStub) PruneExpired(domain.Context, time.Time) (int64, error) { return 0, nil }

// sinkStub records upsert plans and lands every row unless told to fail a
// table.
type sinkStub struct {
	mu    sync.Mutex
	plans []upsert.Plan
	fail  map[string]error
}

func (s *sinkStub) Run(_ domain.Context, plan upsert.Plan) (*domain.UpsertReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, plan)
	if err := s.fail[plan.Table]; err != nil {
		return &domain.UpsertReport{
			Table:         plan.Table,
			TotalRecords:  len(plan.Rows),
			FailedRecords: len(plan.Rows),
		}, err
	}
	return &domain.UpsertReport{
		Table:             plan.Table,
		TotalRecords:      len(plan.Rows),
		SuccessfulRecords: len(plan.Rows),
	}, nil
}

func (s *sinkStub) landed(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.plans {
		if p.Table == table {
			n += len(p.Rows)
		}
	}
	return n
}

// trailStub is the execution-ledger slice the runtime writes: appended log
// lines and details. The envelope methods are never called by the runtime.
type trailStub struct {
	mu      sync.Mutex
	logs    []string
	details map[string]any
	fail    bool
}

func newTrailStub() *trailStub {
	return &trailStub{details: map[string]any{}}
}

func (t *trailStub) Create(domain.Context, domain.JobExecution) error { return nil }
func (t *trailStub) Update(domain.Context, domain.JobExecution) error { return nil }
func (t *trailStub) Get(domain.Context, string) (domain.JobExecution, error) {
	return domain.JobExecution{}, domain.ErrNotFound
}
func (t *trailStub) LatestByJob(domain.Context, string) (domain.JobExecution, error) {
	return domain.JobExecution{}, domain.ErrNotFound
}
func (t *trailStub) LatestSuccess(domain.Context, string) (domain.JobExecution, error) {
	return domain.JobExecution{}, domain.ErrNotFound
}
func (t *trailStub) ListRunning(domain.Context) ([]domain.JobExecution, error) { return nil, nil }
func (t *trailStub) ListRecent(domain.Context, int) ([]domain.JobExecution, error) {
	return nil, nil
}

func (t *trailStub) AppendDetail(_ domain.Context, _ string, key string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return domain.ErrInternal
	}
	t.details[key] = value
	return nil
}

func (t *trailStub) AppendLog(_ domain.Context, _ string, level, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return domain.ErrInternal
	}
	t.logs = append(t.logs, level+": "+message)
	return nil
}

func (t *trailStub) logLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.logs...)
}

// scriptedJob is a minimal body whose every phase is scripted.
type scriptedJob struct {
	id       string
	validate error
	execute  func(ctx domain.Context) (*domain.JobOutcome, error)

	mu       sync.Mutex
	cleanups int
}

func (j *scriptedJob) ID() string           { return j.id }
func (j *scriptedJob) Type() domain.JobType { return domain.JobTourismSync }

func (j *scriptedJob) Validate(domain.Context, domain.JobParams) error { return j.validate }

func (j *scriptedJob) Execute(ctx domain.Context, _ domain.JobParams) (*domain.JobOutcome, error) {
	if j.execute == nil {
		return &domain.JobOutcome{}, nil
	}
	return j.execute(ctx)
}

func (j *scriptedJob) Cleanup(domain.Context) {
	j.mu.Lock()
	j.cleanups++
	j.mu.Unlock()
}

func (j *scriptedJob) cleanupCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cleanups
}
