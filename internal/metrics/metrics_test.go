package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if webhookCallbacksTotal == nil || sessionsLaunchedTotal == nil ||
		leadsIngestedTotal == nil || activeWatchers == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	CallbackProcessed("completed", true)
	if val := testutil.ToFloat64(webhookCallbacksTotal.WithLabelValues("completed", "true")); val != 1 {
		t.Errorf("expected webhookCallbacksTotal to be 1, got %f", val)
	}

	LeadsIngested(3, 2)
	if val := testutil.ToFloat64(leadsIngestedTotal); val != 3 {
		t.Errorf("expected leadsIngestedTotal to be 3, got %f", val)
	}
	if val := testutil.ToFloat64(leadsDedupedTotal); val != 2 {
		t.Errorf("expected leadsDedupedTotal to be 2, got %f", val)
	}

	IncActiveWatchers()
	IncActiveWatchers()
	DecActiveWatchers()
	if val := testutil.ToFloat64(activeWatchers); val != 1 {
		t.Errorf("expected activeWatchers to be 1, got %f", val)
	}
}

func TestCollectorsTolerateMissingInit(t *testing.T) {
	// Helpers are nil-safe so library code can record unconditionally.
	saved := webhookCallbacksTotal
	webhookCallbacksTotal = nil
	defer func() { webhookCallbacksTotal = saved }()

	CallbackProcessed("failed", false)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	SessionLaunched()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected metrics exposition output")
	}
}
