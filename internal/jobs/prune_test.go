package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

type pruningArchive struct {
	archiveStub
	cutoff time.Time
	pruned int64
	err    error
}

func (p *pruningArchive) PruneExpired(_ domain.Context, now time.Time) (int64, error) {
	p.cutoff = now
	return p.pruned, p.err
}

type operationalStub struct {
	executions, results int64
	err                 error
}

func (o *operationalStub) PruneOperational(domain.Context) (int64, int64, error) {
	return o.executions, o.results, o.err
}

func TestArchivePrune_AppliesGraceToCutoff(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC) }
	arch := &pruningArchive{pruned: 42}
	job := NewArchivePruneJob(arch, &operationalStub{executions: 10, results: 3}, now)

	outcome, err := job.Execute(context.Background(), domain.ArchivePruneParams{Grace: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 4, 0, 0, 0, time.UTC), arch.cutoff)
	assert.Equal(t, 55, outcome.ProcessedRecords)
	assert.Equal(t, int64(42), outcome.Details["raw_rows"])
	assert.Equal(t, int64(10), outcome.Details["execution_rows"])
}

func TestArchivePrune_RawSweepErrorStopsRun(t *testing.T) {
	arch := &pruningArchive{err: domain.ErrTransient}
	job := NewArchivePruneJob(arch, &operationalStub{}, nil)

	outcome, err := job.Execute(context.Background(), domain.ArchivePruneParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.Zero(t, outcome.ProcessedRecords)
}

func TestArchivePrune_OperationalPrunerIsOptional(t *testing.T) {
	arch := &pruningArchive{pruned: 7}
	job := NewArchivePruneJob(arch, nil, nil)

	outcome, err := job.Execute(context.Background(), domain.ArchivePruneParams{})
	require.NoError(t, err)
	assert.Equal(t, 7, outcome.ProcessedRecords)
}

func TestArchivePrune_ValidateRejectsNegativeGrace(t *testing.T) {
	job := NewArchivePruneJob(&pruningArchive{}, nil, nil)

	err := job.Validate(context.Background(), domain.ArchivePruneParams{Grace: -time.Hour})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
