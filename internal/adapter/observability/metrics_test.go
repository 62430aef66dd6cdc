package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestJobMetricsHelpers(t *testing.T) {
	InitMetrics()
	StartJob("tourism-sync")
	FinishJob("tourism-sync", "success", 3*time.Second)
	SkipJob("tourism-sync")
}

func TestAPIMetricsHelpers(t *testing.T) {
	ObserveAPICall("KTO", "areaBasedList2", "ok", 120*time.Millisecond)
	SetKeyState("KTO", "ab12cd34ef56", "active", 42)
	SetKeyState("KTO", "ab12cd34ef56", "cooling", 42)
	ObserveQuality("weather_forecasts", 0.1, 0.9, 0.99, 1, 0.4)
}
