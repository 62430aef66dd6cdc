// Package keyring implements the per-provider API key registry: round-robin
// rotation, daily quota accounting, cooldown and disable transitions, and
// write-through persistence so restarts never lose a day's usage.
package keyring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Cooldown spans applied by Record.
const (
	rateLimitCooldown = time.Hour
	disableCooldown   = 30 * time.Minute
	disableThreshold  = 5 // consecutive transient errors before disabling
)

// HashSecret derives the short identifier a key is known by everywhere
// outside this package. Secrets never leave the registry except inside a
// Lease.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}

// Lease is one borrowed credential. Every Lease must be settled by exactly
// one Record call; the reservation it carries is released there.
type Lease struct {
	Provider  domain.Provider
	Secret    string
	Hash      string
	Remaining int
}

// Options configure the registry at construction.
type Options struct {
	// Secrets per provider, in rotation order.
	Secrets map[domain.Provider][]string
	// DailyQuota per provider, applied to each of its keys.
	DailyQuota map[domain.Provider]int
	// Location is the zone daily resets are computed in.
	Location *time.Location
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type keySlot struct {
	key      *domain.APIKey
	reserved int // leases handed out and not yet settled by Record
}

type providerKeys struct {
	mu       sync.Mutex
	keys     []*keySlot
	rotation int
	day      string // calendar day the counters describe
}

// Registry owns every APIKey and its QuotaLedger row. All mutations of one
// provider's keys serialize under that provider's lock.
type Registry struct {
	ledger    domain.QuotaLedger
	loc       *time.Location
	now       func() time.Time
	providers map[domain.Provider]*providerKeys
}

// New builds a registry from configured secrets. The ledger receives a
// write-through row after every mutation; pass a memory ledger when no
// external store is configured.
func New(opts Options, ledger domain.QuotaLedger) *Registry {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		ledger:    ledger,
		loc:       loc,
		now:       now,
		providers: make(map[domain.Provider]*providerKeys),
	}
	for provider, secrets := range opts.Secrets {
		pk := &providerKeys{day: r.today()}
		quota := opts.DailyQuota[provider]
		if quota <= 0 {
			quota = 1000
		}
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			pk.keys = append(pk.keys, &keySlot{key: &domain.APIKey{
				Provider:      provider,
				Secret:        secret,
				Hash:          HashSecret(secret),
				DailyQuota:    quota,
				State:         domain.KeyActive,
				Reactivatable: true,
			}})
		}
		r.providers[provider] = pk
	}
	return r
}

func (r *Registry) today() string {
	return r.now().In(r.loc).Format("20060102")
}

// Hydrate restores today's counters from the ledger. Called once at startup,
// before any Acquire.
func (r *Registry) Hydrate(ctx domain.Context) error {
	day := r.today()
	for provider, pk := range r.providers {
		rows, err := r.ledger.Load(ctx, provider, day)
		if err != nil {
			return fmt.Errorf("op=keyring.Hydrate: %w", err)
		}
		pk.mu.Lock()
		pk.day = day
		for _, row := range rows {
			for _, slot := range pk.keys {
				if slot.key.Hash != row.KeyHash {
					continue
				}
				slot.key.Usage = row.Used
				if row.State != "" {
					slot.key.State = row.State
				}
				slot.key.CooldownUntil = row.CooldownUntil
				slot.key.LastUsedAt = row.UpdatedAt
				// An auth-disabled key persists with no cooldown; keep it dead.
				slot.key.Reactivatable = !(row.State == domain.KeyDisabled && row.CooldownUntil.IsZero())
			}
		}
		pk.mu.Unlock()
		slog.Info("key registry hydrated",
			slog.String("provider", string(provider)),
			slog.String("day", day),
			slog.Int("rows", len(rows)))
	}
	return nil
}

// Acquire returns the next usable key of the provider, round-robin from the
// rotation index. It reserves one call on the key, so N concurrent acquires
// never oversubscribe the last remaining call. Returns
// domain.ErrQuotaExhausted when no key qualifies.
func (r *Registry) Acquire(_ domain.Context, provider domain.Provider) (Lease, error) {
	pk, ok := r.providers[provider]
	if !ok {
		return Lease{}, fmt.Errorf("op=keyring.Acquire: unknown provider %q: %w", provider, domain.ErrInvalidArgument)
	}
	now := r.now()

	pk.mu.Lock()
	defer pk.mu.Unlock()
	r.rolloverLocked(pk, now)

	n := len(pk.keys)
	for i := 0; i < n; i++ {
		slot := pk.keys[(pk.rotation+i)%n]
		k := slot.key
		r.recoverCoolingLocked(provider, slot, now)
		if k.State != domain.KeyActive {
			continue
		}
		if k.Usage+slot.reserved >= k.DailyQuota {
			continue
		}
		if k.CooldownUntil.After(now) {
			continue
		}
		slot.reserved++
		pk.rotation = (pk.rotation + i + 1) % n
		return Lease{
			Provider:  provider,
			Secret:    k.Secret,
			Hash:      k.Hash,
			Remaining: k.DailyQuota - k.Usage - slot.reserved,
		}, nil
	}
	return Lease{}, fmt.Errorf("op=keyring.Acquire: provider %s: %w", provider, domain.ErrQuotaExhausted)
}

// Record settles a lease with the call's outcome and applies the state
// transition. It returns the key's post-transition status so callers can
// publish it. Unknown hashes are ignored (the key may have been removed by
// a config reload).
func (r *Registry) Record(ctx domain.Context, provider domain.Provider, keyHash string, outcome domain.Outcome) domain.KeyStatus {
	pk, ok := r.providers[provider]
	if !ok {
		return domain.KeyStatus{}
	}
	now := r.now()

	pk.mu.Lock()
	defer pk.mu.Unlock()
	r.rolloverLocked(pk, now)

	for _, slot := range pk.keys {
		k := slot.key
		if k.Hash != keyHash {
			continue
		}
		if slot.reserved > 0 {
			slot.reserved--
		}
		k.TotalCalls++
		switch outcome {
		case domain.OutcomeOk:
			k.Usage++
			k.TotalSuccesses++
			k.ConsecutiveErrors = 0
			k.LastUsedAt = now
			if k.Usage >= k.DailyQuota {
				k.State = domain.KeyExhausted
				k.CooldownUntil = r.nextMidnight(now)
			}
		case domain.OutcomeRateLimited:
			k.State = domain.KeyCooling
			k.CooldownUntil = now.Add(rateLimitCooldown)
		case domain.OutcomeTransientError:
			k.ConsecutiveErrors++
			if k.ConsecutiveErrors >= disableThreshold {
				k.State = domain.KeyDisabled
				k.CooldownUntil = now.Add(disableCooldown)
				k.Reactivatable = true
			}
		case domain.OutcomeAuthError:
			k.State = domain.KeyDisabled
			k.CooldownUntil = time.Time{}
			k.Reactivatable = false
		}
		r.writeThroughLocked(ctx, pk, slot)
		return statusOf(k)
	}
	return domain.KeyStatus{}
}

// Probe runs a cheap upstream check against disabled keys whose cooldown has
// elapsed and reactivates the ones that answer. Auth-disabled keys are never
// probed; they require manual reactivation. Returns the number of keys
// brought back.
func (r *Registry) Probe(ctx domain.Context, provider domain.Provider, probe func(ctx domain.Context, secret string) error) int {
	pk, ok := r.providers[provider]
	if !ok {
		return 0
	}
	now := r.now()

	pk.mu.Lock()
	var candidates []*keySlot
	for _, slot := range pk.keys {
		k := slot.key
		if k.State != domain.KeyDisabled || !k.Reactivatable {
			continue
		}
		if k.CooldownUntil.After(now) {
			continue
		}
		candidates = append(candidates, slot)
	}
	pk.mu.Unlock()

	reactivated := 0
	for _, slot := range candidates {
		// The probe is a network call; never hold the provider lock across it.
		if err := probe(ctx, slot.key.Secret); err != nil {
			slog.Info("key probe failed",
				slog.String("provider", string(provider)),
				slog.String("key_hash", slot.key.Hash),
				slog.Any("error", err))
			continue
		}
		pk.mu.Lock()
		slot.key.State = domain.KeyActive
		slot.key.ConsecutiveErrors = 0
		slot.key.CooldownUntil = time.Time{}
		r.writeThroughLocked(ctx, pk, slot)
		pk.mu.Unlock()
		reactivated++
		slog.Info("key reactivated by probe",
			slog.String("provider", string(provider)),
			slog.String("key_hash", slot.key.Hash))
	}
	return reactivated
}

// Snapshot returns the observability view of every key, ordered by provider
// then hash.
func (r *Registry) Snapshot() []domain.KeyStatus {
	var out []domain.KeyStatus
	for _, pk := range r.providers {
		pk.mu.Lock()
		for _, slot := range pk.keys {
			out = append(out, statusOf(slot.key))
		}
		pk.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// rolloverLocked resets daily counters when the calendar day changed since
// the last mutation. Exhausted keys return to rotation; cooling and disabled
// keys keep their wall-clock cooldowns.
func (r *Registry) rolloverLocked(pk *providerKeys, now time.Time) {
	day := now.In(r.loc).Format("20060102")
	if pk.day == day {
		return
	}
	pk.day = day
	for _, slot := range pk.keys {
		k := slot.key
		k.Usage = 0
		if k.State == domain.KeyExhausted {
			k.State = domain.KeyActive
			k.CooldownUntil = time.Time{}
		}
	}
}

// recoverCoolingLocked returns a cooled-down key to rotation once its
// rate-limit window elapsed.
func (r *Registry) recoverCoolingLocked(provider domain.Provider, slot *keySlot, now time.Time) {
	k := slot.key
	if k.State == domain.KeyCooling && !k.CooldownUntil.After(now) {
		k.State = domain.KeyActive
		k.CooldownUntil = time.Time{}
		slog.Debug("key cooled down, back in rotation",
			slog.String("provider", string(provider)),
			slog.String("key_hash", k.Hash))
	}
}

func (r *Registry) nextMidnight(now time.Time) time.Time {
	local := now.In(r.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc).AddDate(0, 0, 1)
}

func (r *Registry) writeThroughLocked(ctx domain.Context, pk *providerKeys, slot *keySlot) {
	k := slot.key
	err := r.ledger.Record(ctx, domain.KeyUsage{
		Provider:      k.Provider,
		KeyHash:       k.Hash,
		Day:           pk.day,
		Used:          k.Usage,
		Quota:         k.DailyQuota,
		State:         k.State,
		CooldownUntil: k.CooldownUntil,
		UpdatedAt:     r.now(),
	})
	if err != nil {
		slog.Error("quota ledger write-through failed",
			slog.String("provider", string(k.Provider)),
			slog.String("key_hash", k.Hash),
			slog.Any("error", err))
	}
}

func statusOf(k *domain.APIKey) domain.KeyStatus {
	return domain.KeyStatus{
		Provider:          k.Provider,
		Hash:              k.Hash,
		State:             k.State,
		Usage:             k.Usage,
		DailyQuota:        k.DailyQuota,
		ConsecutiveErrors: k.ConsecutiveErrors,
		CooldownUntil:     k.CooldownUntil,
		LastUsedAt:        k.LastUsedAt,
	}
}
