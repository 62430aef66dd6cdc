// Package governor paces outbound calls: per-provider in-flight caps, a
// global cap across providers, a minimum wall-time interval between request
// starts, and an adaptive delay that grows on failures and decays on
// successes.
package governor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

const (
	growFactor  = 1.5
	decayFactor = 1.2
	delayFloor  = time.Millisecond // below this the delay reads as zero
)

// ProviderLimits bound one provider's lane.
type ProviderLimits struct {
	MaxInFlight int
	MinInterval time.Duration
}

// Options configure the governor at construction.
type Options struct {
	Providers map[domain.Provider]ProviderLimits
	GlobalMax int
	DelayBase time.Duration // first failure starts the adaptive delay here
	DelayCap  time.Duration
}

// State is the observable per-provider runtime, mutated only by the governor.
type State struct {
	Provider            domain.Provider `json:"provider"`
	InFlight            int             `json:"in_flight"`
	LastStart           time.Time       `json:"last_start,omitzero"`
	AdaptiveDelay       time.Duration   `json:"adaptive_delay"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
}

type lane struct {
	slots       chan struct{}
	minInterval time.Duration

	mu        sync.Mutex
	nextStart time.Time
	lastStart time.Time
	delay     time.Duration
	failures  int
}

// Governor hands out slots. Slot acquisition order is FIFO per lane; waiting
// honors context cancellation at every point and releases exactly what the
// caller already held.
type Governor struct {
	global    chan struct{}
	lanes     map[domain.Provider]*lane
	delayBase time.Duration
	delayCap  time.Duration
}

// New builds a governor; providers not in Options get no lane and are
// rejected at Acquire.
func New(opts Options) *Governor {
	if opts.GlobalMax <= 0 {
		opts.GlobalMax = 8
	}
	if opts.DelayBase <= 0 {
		opts.DelayBase = 250 * time.Millisecond
	}
	if opts.DelayCap <= 0 {
		opts.DelayCap = 2 * time.Second
	}
	g := &Governor{
		global:    make(chan struct{}, opts.GlobalMax),
		lanes:     make(map[domain.Provider]*lane),
		delayBase: opts.DelayBase,
		delayCap:  opts.DelayCap,
	}
	for provider, lim := range opts.Providers {
		maxInFlight := lim.MaxInFlight
		if maxInFlight <= 0 {
			maxInFlight = 1
		}
		g.lanes[provider] = &lane{
			slots:       make(chan struct{}, maxInFlight),
			minInterval: lim.MinInterval,
		}
	}
	return g
}

// Acquire blocks until the caller may start a request: provider slot, then
// global slot, then the pacing wait. The returned release function gives both
// slots back and must be called exactly once, after the request finishes.
func (g *Governor) Acquire(ctx domain.Context, provider domain.Provider) (func(), error) {
	ln, ok := g.lanes[provider]
	if !ok {
		return nil, fmt.Errorf("op=governor.Acquire: unknown provider %q: %w", provider, domain.ErrInvalidArgument)
	}

	select {
	case ln.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("op=governor.Acquire: %w", ctx.Err())
	}

	select {
	case g.global <- struct{}{}:
	case <-ctx.Done():
		<-ln.slots
		return nil, fmt.Errorf("op=governor.Acquire: %w", ctx.Err())
	}

	// Reserve a start time at least minInterval+delay after the previous
	// reservation, so starts stay paced even when many tasks pile up.
	ln.mu.Lock()
	now := time.Now()
	target := ln.nextStart
	if target.Before(now) {
		target = now
	}
	ln.nextStart = target.Add(ln.minInterval + ln.delay)
	ln.lastStart = target
	ln.mu.Unlock()

	if wait := time.Until(target); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-g.global
			<-ln.slots
			return nil, fmt.Errorf("op=governor.Acquire: %w", ctx.Err())
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-g.global
			<-ln.slots
		})
	}
	return release, nil
}

// Observe adjusts the provider's adaptive delay after a call: failures grow
// it by ×1.5 up to the cap, successes shrink it by ÷1.2 down to zero.
func (g *Governor) Observe(provider domain.Provider, success bool) {
	ln, ok := g.lanes[provider]
	if !ok {
		return
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if success {
		ln.failures = 0
		ln.delay = time.Duration(float64(ln.delay) / decayFactor)
		if ln.delay < delayFloor {
			ln.delay = 0
		}
		return
	}
	ln.failures++
	d := ln.delay
	if d < g.delayBase {
		d = g.delayBase
	}
	d = time.Duration(float64(d) * growFactor)
	if d > g.delayCap {
		d = g.delayCap
	}
	ln.delay = d
}

// Snapshot returns the current state of every lane for the ops surface.
func (g *Governor) Snapshot() []State {
	out := make([]State, 0, len(g.lanes))
	for provider, ln := range g.lanes {
		ln.mu.Lock()
		out = append(out, State{
			Provider:            provider,
			InFlight:            len(ln.slots),
			LastStart:           ln.lastStart,
			AdaptiveDelay:       ln.delay,
			ConsecutiveFailures: ln.failures,
		})
		ln.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
