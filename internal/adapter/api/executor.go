// Package api implements the multi-key HTTP executor fronting the tourism
// and weather providers: governor slot, key lease, request execution,
// outcome classification, registry settlement, and raw archival.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/service/governor"
	"github.com/weatherflick/weather-flick-batch/internal/service/keyring"
)

const maxBodyBytes = 32 << 20

// CallOptions tune one executor call.
type CallOptions struct {
	// StoreRaw archives the request/response tuple (on by default in jobs).
	StoreRaw bool
	// Timeout overrides the configured per-request timeout when nonzero.
	Timeout time.Duration
}

// Response is the structured result of one successful provider call.
type Response struct {
	Status     int
	ResultCode string
	ResultMsg  string
	Items      []map[string]any
	PageNo     int
	NumOfRows  int
	TotalCount int
	Duration   time.Duration
	KeyHash    string
	RawID      string
	Body       []byte
}

// Executor issues provider calls under governor pacing and key rotation.
// Lock order is fixed: governor slot, then key registry, then DB.
type Executor struct {
	cfg      config.Config
	hc       *http.Client
	governor *governor.Governor
	keys     *keyring.Registry
	archive  domain.RawArchive
}

// New constructs the executor. The HTTP client carries the otel transport so
// every outbound call is traced.
func New(cfg config.Config, gov *governor.Governor, keys *keyring.Registry, archive domain.RawArchive) *Executor {
	return &Executor{
		cfg:      cfg,
		hc:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		governor: gov,
		keys:     keys,
		archive:  archive,
	}
}

// Call executes one logical provider call with retry. Rate-limited and
// transient attempts retry with backoff, rotating keys through re-acquisition
// on every attempt; auth and quota failures are permanent. Every physical
// attempt is archived when opts.StoreRaw is set.
func (e *Executor) Call(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, opts CallOptions) (*Response, error) {
	if provider != domain.ProviderKTO && provider != domain.ProviderKMA {
		return nil, fmt.Errorf("op=api.Call: unknown provider %q: %w", provider, domain.ErrInvalidArgument)
	}
	tracer := otel.Tracer("api.executor")
	ctx, span := tracer.Start(ctx, "executor.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("api.provider", string(provider)),
		attribute.String("api.endpoint", endpoint),
	)

	var resp *Response
	op := func() error {
		r, err := e.attempt(ctx, provider, endpoint, params, opts)
		if err != nil {
			if !domain.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	maxElapsed, initial, maxInterval, multiplier := e.cfg.ExecutorBackoff()
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier

	retries := e.cfg.APIRetryCount
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithMaxRetries(backoff.WithContext(expo, ctx), uint64(retries))
	if err := backoff.Retry(op, bo); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

// attempt performs one physical request: slot, key, request, classification,
// settlement, archival.
func (e *Executor) attempt(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, opts CallOptions) (*Response, error) {
	waitStart := time.Now()
	release, err := e.governor.Acquire(ctx, provider)
	if err != nil {
		return nil, err
	}
	defer release()
	observability.ObserveGovernorWait(string(provider), time.Since(waitStart))

	lease, err := e.keys.Acquire(ctx, provider)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.APITimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := e.buildURL(provider, endpoint, params, lease.Secret)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		e.settle(ctx, provider, endpoint, lease, domain.OutcomeTransientError, 0)
		return nil, fmt.Errorf("op=api.attempt: build request: %v: %w", err, domain.ErrTransient)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := e.hc.Do(req)
	dur := time.Since(start)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// The request was abandoned mid-flight; the provider counted it,
			// so the key is still debited. Settlement must outlive the
			// cancelled context.
			bg := context.WithoutCancel(ctx)
			e.settle(bg, provider, endpoint, lease, domain.OutcomeOk, dur)
			e.archiveAttempt(bg, provider, endpoint, params, lease.Hash, 0, nil, dur, opts)
			return nil, fmt.Errorf("op=api.attempt: %w", context.Canceled)
		}
		kind := classifyTransport(err)
		e.settle(ctx, provider, endpoint, lease, outcomeFor(kind), dur)
		e.archiveAttempt(ctx, provider, endpoint, params, lease.Hash, 0, nil, dur, opts)
		return nil, fmt.Errorf("op=api.attempt: %s %s: %v: %w", provider, endpoint, err, kind)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		e.settle(ctx, provider, endpoint, lease, domain.OutcomeTransientError, dur)
		e.archiveAttempt(ctx, provider, endpoint, params, lease.Hash, httpResp.StatusCode, nil, dur, opts)
		return nil, fmt.Errorf("op=api.attempt: read body: %v: %w", err, domain.ErrTransient)
	}

	kind := classifyStatus(httpResp.StatusCode, body)
	var env *envelope
	if kind == nil {
		env, err = decodeBody(body)
		switch {
		case err != nil:
			kind = err
		case !successCode(env.Response.Header.ResultCode):
			msg := env.Response.Header.ResultMsg
			kind = fmt.Errorf("resultCode %s: %s: %w",
				env.Response.Header.ResultCode, msg, classifyMessage(msg))
		}
	}

	outcome := outcomeFor(kind)
	e.settle(ctx, provider, endpoint, lease, outcome, dur)
	rawID := e.archiveAttempt(ctx, provider, endpoint, params, lease.Hash, httpResp.StatusCode, body, dur, opts)

	if kind != nil {
		slog.Warn("provider call failed",
			slog.String("provider", string(provider)),
			slog.String("endpoint", endpoint),
			slog.Int("status", httpResp.StatusCode),
			slog.String("outcome", string(outcome)),
			slog.String("key_hash", lease.Hash),
			slog.String("body", snippet(body, 512)))
		return nil, fmt.Errorf("op=api.attempt: %s %s status %d: %w", provider, endpoint, httpResp.StatusCode, kind)
	}

	return &Response{
		Status:     httpResp.StatusCode,
		ResultCode: env.Response.Header.ResultCode,
		ResultMsg:  env.Response.Header.ResultMsg,
		Items:      env.Response.Body.Items.Item.Records(),
		PageNo:     int(env.Response.Body.PageNo),
		NumOfRows:  int(env.Response.Body.NumOfRows),
		TotalCount: int(env.Response.Body.TotalCount),
		Duration:   dur,
		KeyHash:    lease.Hash,
		RawID:      rawID,
		Body:       body,
	}, nil
}

// Probe issues one cheap unrecorded call with an explicit secret. The key
// registry uses it to test disabled keys; the attempt neither rotates keys
// nor archives.
func (e *Executor) Probe(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, secret string) error {
	release, err := e.governor.Acquire(ctx, provider)
	if err != nil {
		return err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.APITimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.buildURL(provider, endpoint, params, secret), nil)
	if err != nil {
		return fmt.Errorf("op=api.Probe: %v: %w", err, domain.ErrTransient)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := e.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=api.Probe: %v: %w", err, classifyTransport(err))
	}
	defer func() { _ = httpResp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("op=api.Probe: %v: %w", err, domain.ErrTransient)
	}
	if kind := classifyStatus(httpResp.StatusCode, body); kind != nil {
		return fmt.Errorf("op=api.Probe: status %d: %w", httpResp.StatusCode, kind)
	}
	env, err := decodeBody(body)
	if err != nil {
		return err
	}
	if !successCode(env.Response.Header.ResultCode) {
		msg := env.Response.Header.ResultMsg
		return fmt.Errorf("op=api.Probe: resultCode %s: %w", env.Response.Header.ResultCode, classifyMessage(msg))
	}
	return nil
}

// settle records the outcome against the key, publishes gauges, and adjusts
// the governor.
func (e *Executor) settle(ctx domain.Context, provider domain.Provider, endpoint string, lease keyring.Lease, outcome domain.Outcome, dur time.Duration) {
	st := e.keys.Record(ctx, provider, lease.Hash, outcome)
	if st.Hash != "" {
		observability.SetKeyState(string(provider), st.Hash, string(st.State), st.Usage)
	}
	e.governor.Observe(provider, outcome == domain.OutcomeOk)
	observability.ObserveAPICall(string(provider), endpoint, string(outcome), dur)
}

// archiveAttempt writes the raw tuple when requested. Archival failures are
// logged, not returned: failing a settled call would trigger a duplicate
// upstream request.
func (e *Executor) archiveAttempt(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, keyHash string, status int, body []byte, dur time.Duration, opts CallOptions) string {
	if !opts.StoreRaw || e.archive == nil {
		return ""
	}
	id, err := e.archive.Store(ctx, domain.RawRecord{
		Provider:       provider,
		Endpoint:       endpoint,
		Method:         http.MethodGet,
		RequestParams:  params,
		ResponseStatus: status,
		Body:           body,
		ResponseSize:   len(body),
		Duration:       dur,
		KeyHash:        keyHash,
	})
	if err != nil {
		slog.Error("raw archive write failed",
			slog.String("provider", string(provider)),
			slog.String("endpoint", endpoint),
			slog.Any("error", err))
		return ""
	}
	return id
}

// buildURL composes the provider-specific request URL. The key always rides
// as the serviceKey query parameter; caller params never include it.
func (e *Executor) buildURL(provider domain.Provider, endpoint string, params map[string]string, secret string) string {
	q := url.Values{}
	var base string
	if provider == domain.ProviderKMA {
		base = strings.TrimRight(e.cfg.KMABaseURL, "/")
		q.Set("dataType", "JSON")
	} else {
		base = strings.TrimRight(e.cfg.KTOBaseURL, "/")
		q.Set("MobileOS", "ETC")
		q.Set("MobileApp", "WeatherFlick")
		q.Set("_type", "json")
	}
	q.Set("serviceKey", secret)
	for k, v := range params {
		q.Set(k, v)
	}
	return base + "/" + endpoint + "?" + q.Encode()
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
