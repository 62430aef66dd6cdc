package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/repo/postgres"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func TestQuotaRepo_Record_MergesWithGreatest(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewQuotaRepo(pool)

	u := domain.KeyUsage{
		Provider:  domain.ProviderKTO,
		KeyHash:   "abcdef123456",
		Day:       "20260714",
		Used:      42,
		Quota:     1000,
		State:     domain.KeyActive,
		UpdatedAt: time.Date(2026, 7, 14, 3, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Record(context.Background(), u))

	calls := pool.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].sql, "GREATEST(api_key_usage.used, EXCLUDED.used)",
		"usage never goes backwards on replay")
	require.Len(t, calls[0].args, 8)
	assert.Equal(t, "KTO", calls[0].args[0])
	assert.Equal(t, "20260714", calls[0].args[2])
	assert.Equal(t, 42, calls[0].args[3])
	assert.Nil(t, calls[0].args[6], "zero cooldown stored as NULL")
}

func TestQuotaRepo_Record_Cooldown(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewQuotaRepo(pool)

	until := time.Date(2026, 7, 14, 4, 0, 0, 0, time.UTC)
	u := domain.KeyUsage{
		Provider:      domain.ProviderKMA,
		KeyHash:       "abcdef123456",
		Day:           "20260714",
		State:         domain.KeyCooling,
		CooldownUntil: until,
		UpdatedAt:     until,
	}
	require.NoError(t, repo.Record(context.Background(), u))

	got, ok := pool.calls()[0].args[6].(*time.Time)
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, until, *got)
}

func TestQuotaRepo_Load(t *testing.T) {
	updated := time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC)
	cooldown := updated.Add(5 * time.Minute)
	pool := &poolStub{queryFn: func(sql string, args []any) (pgx.Rows, error) {
		assert.Equal(t, []any{"KTO", "20260714"}, args)
		return &rowsStub{grid: [][]any{
			{"KTO", "hash-a", "20260714", 10, 1000, "active", nil, updated},
			{"KTO", "hash-b", "20260714", 990, 1000, "cooling", &cooldown, updated},
		}}, nil
	}}
	repo := postgres.NewQuotaRepo(pool)

	got, err := repo.Load(context.Background(), domain.ProviderKTO, "20260714")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.KeyActive, got[0].State)
	assert.True(t, got[0].CooldownUntil.IsZero(), "NULL cooldown loads as zero time")
	assert.Equal(t, domain.KeyCooling, got[1].State)
	assert.Equal(t, cooldown, got[1].CooldownUntil)
	assert.Equal(t, 990, got[1].Used)
}

func TestQuotaRepo_Load_QueryError(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewQuotaRepo(pool)

	_, err := repo.Load(context.Background(), domain.ProviderKTO, "20260714")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=quota.load")
}

func TestQuotaRepo_Close(t *testing.T) {
	repo := postgres.NewQuotaRepo(&poolStub{})
	require.NoError(t, repo.Close())
}
