// Package quota persists per-(provider, key, day) usage so the key registry
// survives restarts without losing daily accounting. The Redis ledger serves
// horizontally scaled deployments; the memory ledger serves single-node and
// test deployments with the same semantics.
package quota

import (
	"sync"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// MemoryLedger is the in-process implementation of domain.QuotaLedger.
type MemoryLedger struct {
	mu   sync.RWMutex
	rows map[string]domain.KeyUsage
}

// NewMemoryLedger constructs an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: make(map[string]domain.KeyUsage)}
}

func rowKey(provider domain.Provider, keyHash, day string) string {
	return string(provider) + "|" + keyHash + "|" + day
}

// Record stores the usage row. The used counter merges monotonically so a
// late writer never regresses a concurrent increment; rows from earlier days
// of the same key are evicted on the way through.
func (l *MemoryLedger) Record(_ domain.Context, u domain.KeyUsage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := rowKey(u.Provider, u.KeyHash, u.Day)
	if prev, ok := l.rows[k]; ok && prev.Used > u.Used {
		u.Used = prev.Used
	}
	l.rows[k] = u
	for existing, row := range l.rows {
		if row.Provider == u.Provider && row.KeyHash == u.KeyHash && row.Day < u.Day {
			delete(l.rows, existing)
		}
	}
	return nil
}

// Load returns every row of the provider for the given day.
func (l *MemoryLedger) Load(_ domain.Context, provider domain.Provider, day string) ([]domain.KeyUsage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.KeyUsage
	for _, row := range l.rows {
		if row.Provider == provider && row.Day == day {
			out = append(out, row)
		}
	}
	return out, nil
}

// Close satisfies domain.QuotaLedger; nothing to release.
func (l *MemoryLedger) Close() error { return nil }
