package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func newTestGovernor(maxInFlight int, minInterval time.Duration) *Governor {
	return New(Options{
		Providers: map[domain.Provider]ProviderLimits{
			domain.ProviderKTO: {MaxInFlight: maxInFlight, MinInterval: minInterval},
			domain.ProviderKMA: {MaxInFlight: 2, MinInterval: 0},
		},
		GlobalMax: 8,
		DelayBase: 10 * time.Millisecond,
		DelayCap:  40 * time.Millisecond,
	})
}

func TestAcquire_UnknownProvider(t *testing.T) {
	g := newTestGovernor(1, 0)
	_, err := g.Acquire(context.Background(), domain.Provider("NOPE"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAcquire_InFlightCap(t *testing.T) {
	g := newTestGovernor(2, 0)
	ctx := context.Background()

	rel1, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)
	rel2, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)

	// Third acquire must block until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(blocked, domain.ProviderKTO)
	require.Error(t, err)

	rel1()
	rel3, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)
	rel3()
	rel2()
}

func TestAcquire_GlobalCapAcrossProviders(t *testing.T) {
	g := New(Options{
		Providers: map[domain.Provider]ProviderLimits{
			domain.ProviderKTO: {MaxInFlight: 2},
			domain.ProviderKMA: {MaxInFlight: 2},
		},
		GlobalMax: 3,
	})
	ctx := context.Background()

	var releases []func()
	for i := 0; i < 2; i++ {
		rel, err := g.Acquire(ctx, domain.ProviderKTO)
		require.NoError(t, err)
		releases = append(releases, rel)
	}
	rel, err := g.Acquire(ctx, domain.ProviderKMA)
	require.NoError(t, err)
	releases = append(releases, rel)

	// Global cap of 3 reached; KMA still has a lane slot but must wait.
	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(blocked, domain.ProviderKMA)
	require.Error(t, err)

	for _, r := range releases {
		r()
	}
}

func TestAcquire_PacesStarts(t *testing.T) {
	const interval = 25 * time.Millisecond
	g := newTestGovernor(5, interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		rel, err := g.Acquire(ctx, domain.ProviderKTO)
		require.NoError(t, err)
		rel()
	}
	elapsed := time.Since(start)
	// Three starts are spaced by at least two intervals.
	assert.GreaterOrEqual(t, elapsed, 2*interval)
}

func TestAcquire_CancelWhileWaitingReleasesSlots(t *testing.T) {
	g := newTestGovernor(1, 0)
	ctx := context.Background()

	rel, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)

	waiting, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(waiting, domain.ProviderKTO)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.Error(t, <-done)

	rel()

	// The cancelled waiter must not have leaked a slot.
	rel2, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)
	rel2()
}

func TestObserve_DelayGrowsAndDecays(t *testing.T) {
	g := newTestGovernor(1, 0)

	stateOf := func() State {
		for _, s := range g.Snapshot() {
			if s.Provider == domain.ProviderKTO {
				return s
			}
		}
		t.Fatal("missing lane")
		return State{}
	}

	g.Observe(domain.ProviderKTO, false)
	first := stateOf()
	assert.Equal(t, 15*time.Millisecond, first.AdaptiveDelay, "base 10ms grows x1.5")
	assert.Equal(t, 1, first.ConsecutiveFailures)

	g.Observe(domain.ProviderKTO, false)
	second := stateOf()
	assert.Equal(t, 22500*time.Microsecond, second.AdaptiveDelay)

	// Growth is capped.
	for i := 0; i < 10; i++ {
		g.Observe(domain.ProviderKTO, false)
	}
	capped := stateOf()
	assert.Equal(t, 40*time.Millisecond, capped.AdaptiveDelay)

	g.Observe(domain.ProviderKTO, true)
	decayed := stateOf()
	assert.Less(t, decayed.AdaptiveDelay, capped.AdaptiveDelay)
	assert.Zero(t, decayed.ConsecutiveFailures)

	// Enough successes drive the delay back to zero.
	for i := 0; i < 64; i++ {
		g.Observe(domain.ProviderKTO, true)
	}
	assert.Zero(t, stateOf().AdaptiveDelay)
}

func TestAcquire_ReleaseIsIdempotent(t *testing.T) {
	g := newTestGovernor(1, 0)
	ctx := context.Background()

	rel, err := g.Acquire(ctx, domain.ProviderKTO)
	require.NoError(t, err)
	rel()
	rel() // second call must not free a slot it does not hold

	var wg sync.WaitGroup
	ok := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			if r, err := g.Acquire(c, domain.ProviderKTO); err == nil {
				ok <- struct{}{}
				time.Sleep(60 * time.Millisecond)
				r()
			}
		}()
	}
	wg.Wait()
	close(ok)

	var granted int
	for range ok {
		granted++
	}
	assert.Equal(t, 1, granted, "double release must not widen the lane")
}
