package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Provider message fragments that identify an error class regardless of the
// HTTP status the gateway chose.
const (
	msgRateLimited   = "LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS"
	msgKeyUnknown    = "SERVICE_KEY_IS_NOT_REGISTERED"
	msgAccessDenied  = "SERVICE_ACCESS_DENIED"
	msgKeyExpired    = "DEADLINE_HAS_EXPIRED"
	msgUnregistered  = "UNREGISTERED_SERVICE"
	msgQuotaExceeded = "REQUEST_QUOTA_EXCEEDED"
)

// classifyMessage maps a provider error string onto the error taxonomy.
// Unknown messages are transient: the safest retry class.
func classifyMessage(msg string) error {
	up := strings.ToUpper(msg)
	switch {
	case strings.Contains(up, msgRateLimited), strings.Contains(up, msgQuotaExceeded):
		return domain.ErrRateLimited
	case strings.Contains(up, msgKeyUnknown),
		strings.Contains(up, msgAccessDenied),
		strings.Contains(up, msgKeyExpired),
		strings.Contains(up, msgUnregistered):
		return domain.ErrAuth
	default:
		return domain.ErrTransient
	}
}

// classifyStatus maps an HTTP status onto the error taxonomy; the body may
// refine the class (a 200 carrying a fault string still classifies).
func classifyStatus(status int, body []byte) error {
	text := strings.ToUpper(string(body))
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(text, msgRateLimited):
		return domain.ErrRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		strings.Contains(text, msgKeyUnknown),
		strings.Contains(text, msgAccessDenied):
		return domain.ErrAuth
	case status >= 500:
		return domain.ErrTransient
	case status >= 400:
		return domain.ErrTransient
	default:
		return nil
	}
}

// classifyTransport maps request execution errors. Cancellation surfaces
// as-is so callers can distinguish an aborted job from an upstream fault.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrTransient
	default:
		return domain.ErrTransient
	}
}

// outcomeFor converts a classified error into the registry-facing outcome.
func outcomeFor(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeOk
	case errors.Is(err, domain.ErrRateLimited):
		return domain.OutcomeRateLimited
	case errors.Is(err, domain.ErrAuth):
		return domain.OutcomeAuthError
	default:
		return domain.OutcomeTransientError
	}
}
