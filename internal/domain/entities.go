package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrQuotaExhausted  = errors.New("quota exhausted")
	ErrRateLimited     = errors.New("rate limited")
	ErrAuth            = errors.New("authentication rejected")
	ErrTransient       = errors.New("transient upstream error")
	ErrValidation      = errors.New("validation failed")
	ErrTimeout         = errors.New("job timeout")
	ErrPartialFailure  = errors.New("partial failure")
	ErrConfig          = errors.New("configuration error")
	ErrInternal        = errors.New("internal error")
)

// Retryable reports whether an error kind may be retried by the scheduler
// or the executor. Quota and auth failures stay failed until a human or the
// daily reset intervenes.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTransient), errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

// SeverityFor classifies an error into an alert severity.
func SeverityFor(err error) Severity {
	switch {
	case errors.Is(err, ErrQuotaExhausted), errors.Is(err, ErrConfig):
		return SeverityCritical
	case errors.Is(err, ErrAuth), errors.Is(err, ErrTimeout):
		return SeverityHigh
	case errors.Is(err, ErrValidation):
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Provider tags one of the two upstream services.
type Provider string

const (
	ProviderKTO Provider = "KTO"
	ProviderKMA Provider = "KMA"
)

// KeyState is the dispensing state of one API credential.
type KeyState string

const (
	KeyActive    KeyState = "active"
	KeyCooling   KeyState = "cooling"
	KeyExhausted KeyState = "exhausted"
	KeyDisabled  KeyState = "disabled"
)

// Outcome is the registry-facing classification of one upstream call.
type Outcome string

const (
	OutcomeOk             Outcome = "ok"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeTransientError Outcome = "transient_error"
	OutcomeAuthError      Outcome = "auth_error"
)

// APIKey is one credential of one provider. Mutated only by the key
// registry under its provider lock.
// Invariants: usage resets at local midnight (configured zone); a key with
// State != KeyActive is never dispensed; a disabled key recovers only when
// Reactivatable and its cooldown elapsed and a probe succeeded.
type APIKey struct {
	Provider          Provider
	Secret            string
	Hash              string // short digest; the only identifier persisted or logged
	DailyQuota        int
	Usage             int
	ConsecutiveErrors int
	TotalCalls        int64
	TotalSuccesses    int64
	State             KeyState
	CooldownUntil     time.Time
	Reactivatable     bool
	LastUsedAt        time.Time
}

// Remaining returns the calls left on the key today.
func (k *APIKey) Remaining() int {
	if r := k.DailyQuota - k.Usage; r > 0 {
		return r
	}
	return 0
}

// KeyStatus is an observability snapshot of one key; never carries the secret.
type KeyStatus struct {
	Provider          Provider  `json:"provider"`
	Hash              string    `json:"key_hash"`
	State             KeyState  `json:"state"`
	Usage             int       `json:"usage"`
	DailyQuota        int       `json:"daily_quota"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CooldownUntil     time.Time `json:"cooldown_until,omitzero"`
	LastUsedAt        time.Time `json:"last_used_at,omitzero"`
}

// KeyUsage is the per-(provider, key, calendar day) ledger row written
// through on every registry mutation and rehydrated at startup.
type KeyUsage struct {
	Provider      Provider
	KeyHash       string
	Day           string // YYYYMMDD in the configured zone
	Used          int
	Quota         int
	State         KeyState
	CooldownUntil time.Time
	UpdatedAt     time.Time
}

// QuotaLedger persists per-day key usage. Implementations must tolerate
// concurrent writers for distinct keys and expire rows after their day.
type QuotaLedger interface {
	Record(ctx Context, u KeyUsage) error
	Load(ctx Context, provider Provider, day string) ([]KeyUsage, error)
	Close() error
}

// RawRecord is one archived request/response tuple. Immutable once stored.
type RawRecord struct {
	ID             string // canonical UUID string, assigned by the archive
	Provider       Provider
	Endpoint       string
	Method         string
	RequestParams  map[string]string
	ResponseStatus int
	Body           []byte // response document, preserved verbatim
	ResponseSize   int
	Duration       time.Duration
	KeyHash        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	FilePath       string // optional filesystem backup
}

// KTORawMeta is the tourism-provider request context stored beside a raw row.
type KTORawMeta struct {
	RawID         string
	ContentTypeID int
	AreaCode      int
	SigunguCode   int
	PageNo        int
	NumOfRows     int
	SyncBatchID   string
}

// KMARawMeta is the weather-provider request context stored beside a raw row.
type KMARawMeta struct {
	RawID        string
	BaseDate     string // YYYYMMDD
	BaseTime     string // HHMM
	NX           int
	NY           int
	ForecastType string
	RegionName   string
}

// RawPage is one fetched result page, normalized and annotated with the
// request context the transform stage needs. Tourism pages carry the content
// type and area; weather pages carry the grid cell and base date/time the
// category rows pivot around.
type RawPage struct {
	Provider   Provider
	Endpoint   string
	RawID      string
	Items      []map[string]any
	PageNo     int
	TotalCount int
	FetchedAt  time.Time

	ContentTypeID int
	AreaCode      int

	Region     string
	RegionCode int
	BaseDate   string // YYYYMMDD
	BaseTime   string // HHMM
}

// RawArchive durably records every outbound call. Store assigns and returns
// the row id so typed tables can reference it.
type RawArchive interface {
	Store(ctx Context, rec RawRecord) (string, error)
	StoreKTOMeta(ctx Context, meta KTORawMeta) error
	StoreKMAMeta(ctx Context, meta KMARawMeta) error
	PruneExpired(ctx Context, now time.Time) (int64, error)
}

// JobType tags the body a definition executes.
type JobType string

const (
	JobTourismSync       JobType = "tourism_sync"
	JobWeatherSync       JobType = "weather_sync"
	JobHistoricalWeather JobType = "historical_weather"
	JobQualityCheck      JobType = "quality_check"
	JobArchivePrune      JobType = "archive_prune"
	JobKeyProbe          JobType = "key_probe"
)

// Trigger fires a definition either on a fixed interval or on a standard
// five-field cron expression evaluated in the configured zone. Exactly one
// of the two fields is set.
type Trigger struct {
	Cron     string
	Interval time.Duration
}

// JobDefinition is the static description of a schedulable job.
type JobDefinition struct {
	ID               string
	Name             string
	Type             JobType
	Trigger          Trigger
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	Priority         int
	DependsOn        []string // each must have a Success within the last 24h
	Enabled          bool
	Params           JobParams
}

// ExecutionStatus is the terminal (or in-flight) state of one attempt.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionSkipped   ExecutionStatus = "skipped"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status closes the execution.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning
}

// Severity grades an execution failure for alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RetryStatus records the scheduler's retry decision for an execution.
type RetryStatus string

const (
	RetryNone      RetryStatus = "not_retried"
	RetryScheduled RetryStatus = "scheduled"
	RetryExhausted RetryStatus = "exhausted"
)

// JobExecution is the per-run envelope. Immutable once its status is
// terminal; CompletedAt is never before StartedAt.
type JobExecution struct {
	ID               string
	JobID            string
	JobType          JobType
	Status           ExecutionStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	ProcessedRecords int
	FailedRecords    int
	ErrorMessage     string
	Severity         Severity
	RetryAttempt     int
	RetryStatus      RetryStatus
	SyncBatchID      string
	CreatedAt        time.Time
}

// JobOutcome is what a job body reports back on completion.
type JobOutcome struct {
	ProcessedRecords int
	FailedRecords    int
	Details          map[string]any
}

// ExecutionLedger persists every execution attempt and its outcome.
type ExecutionLedger interface {
	Create(ctx Context, e JobExecution) error
	Update(ctx Context, e JobExecution) error
	Get(ctx Context, id string) (JobExecution, error)
	LatestByJob(ctx Context, jobID string) (JobExecution, error)
	LatestSuccess(ctx Context, jobID string) (JobExecution, error)
	ListRunning(ctx Context) ([]JobExecution, error)
	ListRecent(ctx Context, limit int) ([]JobExecution, error)
	AppendDetail(ctx Context, executionID, key string, value any) error
	AppendLog(ctx Context, executionID, level, message string) error
}

// UpsertChunkError is one failed chunk inside a bulk upsert call.
type UpsertChunkError struct {
	Chunk int    `json:"chunk"`
	Rows  int    `json:"rows"`
	Error string `json:"error"`
}

// UpsertReport summarizes one bulk upsert call.
type UpsertReport struct {
	Table             string             `json:"table"`
	TotalRecords      int                `json:"total_records"`
	SuccessfulRecords int                `json:"successful_records"`
	FailedRecords     int                `json:"failed_records"`
	Duration          time.Duration      `json:"duration"`
	RecordsPerSecond  float64            `json:"records_per_second"`
	ChunkErrors       []UpsertChunkError `json:"chunk_errors,omitempty"` // capped at 10
}

// QualityScores are the per-dimension results for one table, each in [0,1].
type QualityScores struct {
	Completeness float64 `json:"completeness"`
	Validity     float64 `json:"validity"`
	Consistency  float64 `json:"consistency"`
	Freshness    float64 `json:"freshness"`
	Overall      float64 `json:"overall"`
}

// QualityReport is the gate's verdict for one table.
type QualityReport struct {
	Table     string         `json:"table"`
	CheckedAt time.Time      `json:"checked_at"`
	Scores    QualityScores  `json:"scores"`
	Threshold float64        `json:"threshold"`
	Passed    bool           `json:"passed"`
	Details   map[string]any `json:"details,omitempty"`
}

// QualityRange bounds one numeric column; non-null values outside it count
// as invalid.
type QualityRange struct {
	Min float64
	Max float64
}

// QualityScan declares the storage-level checks for one landed table.
// Implementations sanitize every identifier before interpolation.
type QualityScan struct {
	Table         string
	RequiredCols  []string
	DuplicateKeys []string
	DateColumn    string
	FreshnessDays int
	Ranges        map[string]QualityRange
}

// QualityScanner measures quality dimensions against landed tables and
// persists gate verdicts. Scan leaves Overall at zero; the gate derives it
// from the configured weights.
type QualityScanner interface {
	Scan(ctx Context, scan QualityScan, now time.Time) (QualityScores, map[string]any, error)
	Threshold(ctx Context, table string) (float64, error)
	SaveReport(ctx Context, rep QualityReport) error
}

// Alert is the structured notification handed to the egress collaborator.
type Alert struct {
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	JobID       string    `json:"job_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier delivers alerts at-most-once per distinct incident within the
// configured cooldown. Delivery transport is an external collaborator.
type Notifier interface {
	Notify(ctx Context, a Alert) error
}

// Context is an alias so domain signatures stay decoupled from std context;
// adapters pass context.Context through.
type Context = context.Context
