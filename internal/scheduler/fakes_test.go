package scheduler

import (
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// ledgerFake is an in-memory ExecutionLedger with scriptable lookups.
type ledgerFake struct {
	mu            sync.Mutex
	created       []domain.JobExecution
	updated       []domain.JobExecution
	latestSuccess map[string]domain.JobExecution
	latestByJob   map[string]domain.JobExecution
	running       []domain.JobExecution
	createErr     error
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{
		latestSuccess: map[string]domain.JobExecution{},
		latestByJob:   map[string]domain.JobExecution{},
	}
}

func (l *ledgerFake) Create(_ domain.Context, e domain.JobExecution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	l.created = append(l.created, e)
	return nil
}

func (l *ledgerFake) Update(_ domain.Context, e domain.JobExecution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, e)
	return nil
}

func (l *ledgerFake) Get(_ domain.Context, id string) (domain.JobExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.updated) - 1; i >= 0; i-- {
		if l.updated[i].ID == id {
			return l.updated[i], nil
		}
	}
	for i := len(l.created) - 1; i >= 0; i-- {
		if l.created[i].ID == id {
			return l.created[i], nil
		}
	}
	return domain.JobExecution{}, domain.ErrNotFound
}

func (l *ledgerFake) LatestByJob(_ domain.Context, jobID string) (domain.JobExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.latestByJob[jobID]; ok {
		return e, nil
	}
	return domain.JobExecution{}, domain.ErrNotFound
}

func (l *ledgerFake) LatestSuccess(_ domain.Context, jobID string) (domain.JobExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.latestSuccess[jobID]; ok {
		return e, nil
	}
	return domain.JobExecution{}, domain.ErrNotFound
}

func (l *ledgerFake) ListRunning(domain.Context) ([]domain.JobExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.JobExecution(nil), l.running...), nil
}

func (l *ledgerFake) ListRecent(domain.Context, int) ([]domain.JobExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.JobExecution(nil), l.created...), nil
}

func (l *ledgerFake) AppendDetail(domain.Context, string, string, any) error { return nil }
func (l *ledgerFake) AppendLog(domain.Context, string, string, string) error { return nil }

func (l *ledgerFake) createdCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.created)
}

func (l *ledgerFake) lastCreated() (domain.JobExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.created) == 0 {
		return domain.JobExecution{}, false
	}
	return l.created[len(l.created)-1], true
}

func (l *ledgerFake) lastUpdated() (domain.JobExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.updated) == 0 {
		return domain.JobExecution{}, false
	}
	return l.updated[len(l.updated)-1], true
}

func (l *ledgerFake) updatedStatuses() []domain.ExecutionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ExecutionStatus, len(l.updated))
	for i, e := range l.updated {
		out[i] = e.Status
	}
	return out
}

// notifierFake records alerts.
type notifierFake struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *notifierFake) Notify(_ domain.Context, a domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *notifierFake) all() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Alert(nil), n.alerts...)
}

// stubJob is a scriptable job body.
type stubJob struct {
	id      string
	execute func(ctx domain.Context) (*domain.JobOutcome, error)

	mu   sync.Mutex
	runs int
}

func (j *stubJob) ID() string                                      { return j.id }
func (j *stubJob) Type() domain.JobType                            { return domain.JobTourismSync }
func (j *stubJob) Validate(domain.Context, domain.JobParams) error { return nil }
func (j *stubJob) Cleanup(domain.Context)                          {}

func (j *stubJob) Execute(ctx domain.Context, _ domain.JobParams) (*domain.JobOutcome, error) {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.execute == nil {
		return &domain.JobOutcome{}, nil
	}
	return j.execute(ctx)
}

func (j *stubJob) runCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func terminalAt(t time.Time) *time.Time { return &t }
