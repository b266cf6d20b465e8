package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/auditnotary/internal/notary"
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditnotary_completions_total",
		Help: "Completed audits by evidentiary tier.",
	}, []string{"tier"})

	stepOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditnotary_step_outcomes_total",
		Help: "Notarization step outcomes by step and status.",
	}, []string{"step", "status"})

	storageCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditnotary_storage_cost_total",
		Help: "Accumulated archive storage cost in the archive's currency.",
	})

	networkFeeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditnotary_network_fee_total",
		Help: "Accumulated ledger network fees in SOL.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditnotary_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditnotary_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditnotary_health_checks_total",
		Help: "Dependency probes by dependency and result.",
	}, []string{"dependency", "result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditnotary_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCompletion records the tier, step outcomes and cost of one completion.
// It is installed with notary.Orchestrator.SetMetricsRecorder.
func RecordCompletion(res *notary.Result) {
	completionsTotal.WithLabelValues(string(res.Tier)).Inc()
	stepOutcomesTotal.WithLabelValues("upload", string(res.Upload.Status)).Inc()
	stepOutcomesTotal.WithLabelValues("anchor", string(res.Anchor.Status)).Inc()
	storageCostTotal.Add(res.Cost.StorageCost.InexactFloat64())
	networkFeeTotal.Add(res.Cost.NetworkFee.InexactFloat64())
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(dependency string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	healthChecksTotal.WithLabelValues(dependency, result).Inc()
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
}
