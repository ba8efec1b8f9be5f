package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// webhooksTotal counts webhook outcomes.
	// Labels:
	// - flow:    "order_created", "order_cancelled", "order_fulfilled"
	// - outcome: "sent", "duplicate", "error"
	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	// authFailuresTotal counts rejected deliveries by failing header.
	authFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "auth_failures_total",
			Help:      "Webhook deliveries rejected by header verification",
		},
		[]string{"code"},
	)

	// mailSendSeconds tracks SMTP delivery latency.
	// Labels:
	// - result: "success" or "failure"
	mailSendSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notifyd",
			Name:      "mail_send_seconds",
			Help:      "Duration of SMTP send attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	documentRenderSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "notifyd",
			Name:      "document_render_seconds",
			Help:      "Duration of HTML to PDF conversions",
			Buckets:   prometheus.DefBuckets,
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		},
		[]string{"route", "status"},
	)
)

// IncWebhook records the outcome of one webhook delivery.
func IncWebhook(flow, outcome string) {
	if flow == "" {
		flow = "unknown"
	}
	webhooksTotal.WithLabelValues(flow, outcome).Inc()
}

// IncAuthFailure records a delivery rejected for code.
func IncAuthFailure(code string) {
	authFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveMailSend records one SMTP attempt.
func ObserveMailSend(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	mailSendSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveDocumentRender records one PDF conversion.
func ObserveDocumentRender(d time.Duration) {
	documentRenderSeconds.Observe(d.Seconds())
}

// IncHTTPRequest records a served request. route is the router pattern, not
// the raw path, to keep cardinality bounded.
func IncHTTPRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
