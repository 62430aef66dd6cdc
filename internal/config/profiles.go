package config

import "time"

// UpsertProfile tunes one bulk upsert call: chunk geometry, the resident-set
// guard, and the per-chunk retry budget.
type UpsertProfile struct {
	// ChunkSize is the number of rows written per round-trip.
	ChunkSize int
	// MemoryCapBytes bounds heap growth; breaching it halves ChunkSize for
	// the remainder of the call.
	MemoryCapBytes uint64
	// ParallelDegree is the number of chunk writers per call.
	ParallelDegree int
	// ChunkRetries is the per-chunk retry budget on transient DB errors.
	ChunkRetries int
	// RetryDelay is the linear backoff step between chunk retries.
	RetryDelay time.Duration
	// UpsertEnabled switches between ON CONFLICT upsert and plain INSERT.
	UpsertEnabled bool
	// Timeout bounds the whole call.
	Timeout time.Duration
}

const mib = 1 << 20

// Presets offered to operators; selected by BATCH_PRESET.
var presets = map[string]UpsertProfile{
	"conservative": {
		ChunkSize:      500,
		MemoryCapBytes: 256 * mib,
		ParallelDegree: 1,
		ChunkRetries:   3,
		RetryDelay:     2 * time.Second,
		UpsertEnabled:  true,
		Timeout:        10 * time.Minute,
	},
	"balanced": {
		ChunkSize:      1000,
		MemoryCapBytes: 512 * mib,
		ParallelDegree: 2,
		ChunkRetries:   3,
		RetryDelay:     time.Second,
		UpsertEnabled:  true,
		Timeout:        10 * time.Minute,
	},
	"aggressive": {
		ChunkSize:      2000,
		MemoryCapBytes: 1024 * mib,
		ParallelDegree: 4,
		ChunkRetries:   2,
		RetryDelay:     500 * time.Millisecond,
		UpsertEnabled:  true,
		Timeout:        15 * time.Minute,
	},
	"memory_constrained": {
		ChunkSize:      200,
		MemoryCapBytes: 128 * mib,
		ParallelDegree: 1,
		ChunkRetries:   5,
		RetryDelay:     3 * time.Second,
		UpsertEnabled:  true,
		Timeout:        20 * time.Minute,
	},
}

// Profile resolves the configured preset; unknown names fall back to
// balanced. A nonzero BATCH_CHUNK_SIZE overrides the preset's chunk size.
func (c Config) Profile() UpsertProfile {
	p, ok := presets[c.BatchPreset]
	if !ok {
		p = presets["balanced"]
	}
	if c.BatchChunkSize > 0 {
		p.ChunkSize = c.BatchChunkSize
	}
	return p
}
