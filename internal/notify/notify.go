// Package notify delivers structured alerts to the configured channels. The
// dispatcher deduplicates by incident so a flapping job produces one alert
// per cooldown window, not one per failure.
package notify

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Channel delivers one alert over one transport. Implementations must be
// safe for concurrent use.
type Channel interface {
	Send(ctx domain.Context, a domain.Alert) error
}

// Dispatcher fans alerts out to its channels, at most once per distinct
// incident within the cooldown window. An incident is identified by the
// alert's job id and title; severity changes do not reopen a window.
type Dispatcher struct {
	channels []Channel
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // incident key -> last delivery
}

// NewDispatcher builds a dispatcher. A non-positive cooldown disables
// deduplication entirely.
func NewDispatcher(cooldown time.Duration, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		cooldown: cooldown,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Notify delivers the alert unless the incident is still inside its cooldown
// window. Channel failures are joined and returned, but a partial delivery
// still closes the window: re-sending on the next failure would double-page
// the channels that did deliver.
func (d *Dispatcher) Notify(ctx domain.Context, a domain.Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}
	if !d.claim(a) {
		slog.Debug("alert suppressed by cooldown",
			slog.String("job_id", a.JobID),
			slog.String("title", a.Title))
		return nil
	}

	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// claim reports whether the incident may be delivered now and, if so, opens
// its cooldown window. Expired windows are evicted on the way through.
func (d *Dispatcher) claim(a domain.Alert) bool {
	if d.cooldown <= 0 {
		return true
	}
	key := a.JobID + "|" + a.Title
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) >= d.cooldown {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.cooldown {
		return false
	}
	d.seen[key] = now
	return true
}

// LogChannel writes alerts to the process log. It is always configured so
// every alert leaves at least one trace, webhook or not.
type LogChannel struct{}

// Send logs the alert at a level matching its severity.
func (LogChannel) Send(_ domain.Context, a domain.Alert) error {
	attrs := []any{
		slog.String("severity", string(a.Severity)),
		slog.String("title", a.Title),
		slog.String("body", a.Body),
		slog.String("job_id", a.JobID),
		slog.String("execution_id", a.ExecutionID),
		slog.Time("timestamp", a.Timestamp),
	}
	switch a.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		slog.Error("alert", attrs...)
	case domain.SeverityMedium:
		slog.Warn("alert", attrs...)
	default:
		slog.Info("alert", attrs...)
	}
	return nil
}
