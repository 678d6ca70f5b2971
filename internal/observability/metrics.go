package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "campaign_engine"

// Result labels of the sender cycle counter.
const (
	SenderCycleOK      = "ok"
	SenderCycleSkipped = "skipped"
	SenderCycleError   = "error"
)

// Metrics stores Prometheus collectors used by the API, the scheduler and the
// sender. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	emailsScheduledTotal *prometheus.CounterVec
	emailsSentTotal      *prometheus.CounterVec
	emailsFailedTotal    *prometheus.CounterVec
	emailsSkippedTotal   prometheus.Counter
	emailSendDuration    *prometheus.HistogramVec
	senderCyclesTotal    *prometheus.CounterVec
	senderCycleDuration  prometheus.Histogram
	campaignsCompleted   prometheus.Counter
	campaignTransitions  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_scheduled_total",
				Help:      "Scheduled email rows created, by scheduling mode.",
			},
			[]string{"mode"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_sent_total",
				Help:      "Scheduled emails handed to the mail provider.",
			},
			[]string{"provider"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_failed_total",
				Help:      "Scheduled emails that ended in failed state, by reason.",
			},
			[]string{"reason"},
		),
		emailsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_skipped_total",
				Help:      "Scheduled emails skipped because their campaign was not running.",
			},
		),
		emailSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "email_send_duration_seconds",
				Help:      "Mail provider call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		senderCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sender_cycles_total",
				Help:      "Send cycles by result (" + SenderCycleOK + ", " + SenderCycleSkipped + ", " + SenderCycleError + ").",
			},
			[]string{"result"},
		),
		senderCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sender_cycle_duration_seconds",
				Help:      "Duration of completed send cycles.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		campaignsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "campaigns_completed_total",
				Help:      "Campaigns moved to completed by the reconciler.",
			},
		),
		campaignTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "campaign_transitions_total",
				Help:      "Campaign lifecycle transitions by target status.",
			},
			[]string{"to"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsScheduledTotal,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailsSkippedTotal,
		m.emailSendDuration,
		m.senderCyclesTotal,
		m.senderCycleDuration,
		m.campaignsCompleted,
		m.campaignTransitions,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) AddEmailsScheduled(mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.emailsScheduledTotal.WithLabelValues(normalizeLabel(mode)).Add(float64(count))
}

func (m *Metrics) IncEmailSent(provider string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncEmailFailed(reason string) {
	if m == nil {
		return
	}
	m.emailsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncEmailSkipped() {
	if m == nil {
		return
	}
	m.emailsSkippedTotal.Inc()
}

func (m *Metrics) ObserveEmailSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.emailSendDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncSenderCycle(result string) {
	if m == nil {
		return
	}
	m.senderCyclesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveSenderCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.senderCycleDuration.Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncCampaignCompleted() {
	if m == nil {
		return
	}
	m.campaignsCompleted.Inc()
}

func (m *Metrics) IncCampaignTransition(to string) {
	if m == nil {
		return
	}
	m.campaignTransitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
