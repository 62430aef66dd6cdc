package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func TestClassifyMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR", domain.ErrRateLimited},
		{"limited_number_of_service_requests_exceeds_error", domain.ErrRateLimited},
		{"REQUEST_QUOTA_EXCEEDED", domain.ErrRateLimited},
		{"SERVICE_KEY_IS_NOT_REGISTERED_ERROR.", domain.ErrAuth},
		{"SERVICE_ACCESS_DENIED_ERROR.", domain.ErrAuth},
		{"DEADLINE_HAS_EXPIRED_ERROR.", domain.ErrAuth},
		{"UNREGISTERED_SERVICE_ERROR", domain.ErrAuth},
		{"DB_ERROR", domain.ErrTransient},
		{"", domain.ErrTransient},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, classifyMessage(tc.msg), tc.want, "msg %q", tc.msg)
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(http.StatusTooManyRequests, nil), domain.ErrRateLimited)
	assert.ErrorIs(t, classifyStatus(http.StatusUnauthorized, nil), domain.ErrAuth)
	assert.ErrorIs(t, classifyStatus(http.StatusForbidden, nil), domain.ErrAuth)
	assert.ErrorIs(t, classifyStatus(http.StatusBadGateway, nil), domain.ErrTransient)
	assert.ErrorIs(t, classifyStatus(http.StatusNotFound, nil), domain.ErrTransient)
	assert.NoError(t, classifyStatus(http.StatusOK, nil))

	// A 200 whose body carries a fault string still classifies.
	body := []byte("LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR")
	assert.ErrorIs(t, classifyStatus(http.StatusOK, body), domain.ErrRateLimited)
}

func TestClassifyTransport(t *testing.T) {
	assert.ErrorIs(t, classifyTransport(context.Canceled), context.Canceled)
	assert.ErrorIs(t, classifyTransport(context.DeadlineExceeded), domain.ErrTransient)
	assert.ErrorIs(t, classifyTransport(assert.AnError), domain.ErrTransient)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, domain.OutcomeOk, outcomeFor(nil))
	assert.Equal(t, domain.OutcomeRateLimited, outcomeFor(domain.ErrRateLimited))
	assert.Equal(t, domain.OutcomeAuthError, outcomeFor(domain.ErrAuth))
	assert.Equal(t, domain.OutcomeTransientError, outcomeFor(domain.ErrTransient))
	assert.Equal(t, domain.OutcomeTransientError, outcomeFor(assert.AnError))
}
