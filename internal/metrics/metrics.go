package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_http_requests_total",
			Help: "Operator API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "Operator API latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "route"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_deliveries_total",
			Help: "Delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_delivery_duration_seconds",
			Help:    "Time spent in the channel adapter per attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"channel"},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_audit_write_failures_total",
			Help: "Delivery attempts whose audit row could not be written",
		},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_job_runs_total",
			Help: "Scheduler job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_job_duration_seconds",
			Help:    "Scheduler job wall time",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	campaignRecipients = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_campaign_recipients_total",
			Help: "Campaign recipients by campaign and result",
		},
		[]string{"campaign", "result"},
	)

	lateFeesAccrued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_late_fees_accrued_total",
			Help: "Fee balances that received a late fee increment",
		},
	)

	templateCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_template_cache_lookups_total",
			Help: "Template cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	triggerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_trigger_messages_total",
			Help: "Job trigger messages consumed from SQS by outcome",
		},
		[]string{"outcome"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_idempotency_hits_total",
			Help: "Operator sends served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_rate_limit_rejections_total",
			Help: "Operator API requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDelivery counts one delivery attempt and its adapter time.
func RecordDelivery(channel, status string, duration time.Duration) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
	deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// RecordJobRun counts a finished job. outcome is "ok", "error" or "skipped".
func RecordJobRun(job, outcome string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordCampaign adds a finished campaign's recipient tallies.
func RecordCampaign(campaign string, sent, failed int) {
	campaignRecipients.WithLabelValues(campaign, "sent").Add(float64(sent))
	campaignRecipients.WithLabelValues(campaign, "failed").Add(float64(failed))
}

func RecordLateFeeAccrued() {
	lateFeesAccrued.Inc()
}

// RecordTemplateLookup records a cache lookup result: hit, miss or error.
func RecordTemplateLookup(result string) {
	templateCacheLookups.WithLabelValues(result).Inc()
}

func RecordTriggerMessage(outcome string) {
	triggerMessages.WithLabelValues(outcome).Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
