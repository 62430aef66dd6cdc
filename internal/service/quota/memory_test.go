package quota

import (
	"context"
	"testing"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func TestMemoryLedger_RecordAndLoad(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	u := domain.KeyUsage{
		Provider:  domain.ProviderKTO,
		KeyHash:   "abc123def456",
		Day:       "20260101",
		Used:      3,
		Quota:     1000,
		State:     domain.KeyActive,
		UpdatedAt: time.Now(),
	}
	if err := l.Record(ctx, u); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := l.Load(ctx, domain.ProviderKTO, "20260101")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("want 1 row, got %d", len(rows))
	}
	if rows[0].Used != 3 || rows[0].State != domain.KeyActive {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestMemoryLedger_MonotoneMerge(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	base := domain.KeyUsage{Provider: domain.ProviderKTO, KeyHash: "k", Day: "20260101", Quota: 100}

	u := base
	u.Used = 7
	_ = l.Record(ctx, u)

	// A stale writer with a lower counter must not regress usage.
	u.Used = 4
	_ = l.Record(ctx, u)

	rows, _ := l.Load(ctx, domain.ProviderKTO, "20260101")
	if len(rows) != 1 || rows[0].Used != 7 {
		t.Fatalf("want used=7 after stale write, got %+v", rows)
	}
}

func TestMemoryLedger_EvictsPriorDays(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	old := domain.KeyUsage{Provider: domain.ProviderKMA, KeyHash: "k", Day: "20251231", Used: 999}
	_ = l.Record(ctx, old)
	fresh := domain.KeyUsage{Provider: domain.ProviderKMA, KeyHash: "k", Day: "20260101", Used: 1}
	_ = l.Record(ctx, fresh)

	rows, _ := l.Load(ctx, domain.ProviderKMA, "20251231")
	if len(rows) != 0 {
		t.Fatalf("old day should be evicted, got %+v", rows)
	}
	rows, _ = l.Load(ctx, domain.ProviderKMA, "20260101")
	if len(rows) != 1 || rows[0].Used != 1 {
		t.Fatalf("want fresh row, got %+v", rows)
	}
}

func TestMemoryLedger_ProviderIsolation(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	_ = l.Record(ctx, domain.KeyUsage{Provider: domain.ProviderKTO, KeyHash: "a", Day: "20260101", Used: 1})
	_ = l.Record(ctx, domain.KeyUsage{Provider: domain.ProviderKMA, KeyHash: "b", Day: "20260101", Used: 2})

	rows, _ := l.Load(ctx, domain.ProviderKTO, "20260101")
	if len(rows) != 1 || rows[0].KeyHash != "a" {
		t.Fatalf("provider rows must not mix, got %+v", rows)
	}
}
