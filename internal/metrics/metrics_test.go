package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(deliveriesTotal.WithLabelValues("sms", "failed"))

	RecordDelivery("sms", "failed", 200*time.Millisecond)
	RecordDelivery("sms", "failed", 50*time.Millisecond)

	if got := testutil.ToFloat64(deliveriesTotal.WithLabelValues("sms", "failed")); got != before+2 {
		t.Errorf("expected %v, got %v", before+2, got)
	}
}

func TestRecordJobRun(t *testing.T) {
	before := testutil.ToFloat64(jobRunsTotal.WithLabelValues("overdue-sweep", "error"))

	RecordJobRun("overdue-sweep", "error", time.Second)

	if got := testutil.ToFloat64(jobRunsTotal.WithLabelValues("overdue-sweep", "error")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestRecordCampaign(t *testing.T) {
	sentBefore := testutil.ToFloat64(campaignRecipients.WithLabelValues("fee_reminders", "sent"))
	failedBefore := testutil.ToFloat64(campaignRecipients.WithLabelValues("fee_reminders", "failed"))

	RecordCampaign("fee_reminders", 4, 1)

	if got := testutil.ToFloat64(campaignRecipients.WithLabelValues("fee_reminders", "sent")); got != sentBefore+4 {
		t.Errorf("sent: expected %v, got %v", sentBefore+4, got)
	}
	if got := testutil.ToFloat64(campaignRecipients.WithLabelValues("fee_reminders", "failed")); got != failedBefore+1 {
		t.Errorf("failed: expected %v, got %v", failedBefore+1, got)
	}
}

func TestCounters(t *testing.T) {
	RecordAuditWriteFailure()
	RecordLateFeeAccrued()
	RecordTemplateLookup("hit")
	RecordTriggerMessage("ok")
	RecordIdempotencyHit()
	RecordRateLimitRejection()
}

func TestHandler(t *testing.T) {
	RecordDelivery("whatsapp", "sent", time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "herald_deliveries_total") {
		t.Error("expected herald_deliveries_total in output")
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/jobs/{name}/run", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/jobs/{name}/run", "202"))

	req := httptest.NewRequest("POST", "/v1/jobs/overdue-sweep/run", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/jobs/{name}/run", "202")); got != before+1 {
		t.Errorf("expected route-labelled counter to increase, got %v", got)
	}
}

func TestMiddleware_DefaultStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200"))

	rec := httptest.NewRecorder()
	Middleware(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != before+1 {
		t.Errorf("expected 200 to be recorded, got %v", got)
	}
}
