// Package metrics holds the Prometheus collectors shared by the CLI and the
// notifier service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	challengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlts_challenges_total",
		Help: "Total challenges by terminal outcome.",
	}, []string{"outcome"})

	challengeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dlts_challenge_duration_seconds",
		Help:    "Time from opening a challenge to its terminal outcome.",
		Buckets: []float64{1, 3, 6, 10, 20, 30, 60, 120, 300},
	})

	statusChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlts_status_checks_total",
		Help: "Total challenge status checks by reported status.",
	}, []string{"status"})

	statusCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dlts_status_check_duration_seconds",
		Help:    "Status check round trip in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	pushTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlts_push_tokens_total",
		Help: "Push token acquisitions by result.",
	}, []string{"result"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlts_push_deliveries_total",
		Help: "Push payloads received by the notifier, by result.",
	}, []string{"result"})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dlts_dependency_up",
		Help: "Whether the last probe of a dependency succeeded (1) or failed (0).",
	}, []string{"dependency"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlts_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dlts_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordChallenge records a challenge outcome ("approved", "denied",
// "timed_out", "failed", "cancelled", "request_failed").
func RecordChallenge(outcome string, elapsed time.Duration) {
	challengesTotal.WithLabelValues(outcome).Inc()
	challengeDuration.Observe(elapsed.Seconds())
}

// RecordStatusCheck records one status check. It matches challenge.PollHook.
func RecordStatusCheck(status string, elapsed time.Duration) {
	statusChecksTotal.WithLabelValues(status).Inc()
	statusCheckDuration.Observe(elapsed.Seconds())
}

// RecordPushToken records whether a push token was available for a login.
func RecordPushToken(ok bool) {
	if ok {
		pushTokensTotal.WithLabelValues("token").Inc()
	} else {
		pushTokensTotal.WithLabelValues("none").Inc()
	}
}

// RecordDelivery records a notifier delivery ("displayed", "display_failed",
// "rejected", "throttled").
func RecordDelivery(result string) {
	deliveriesTotal.WithLabelValues(result).Inc()
}

// RecordDependency records the result of a dependency probe.
func RecordDependency(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}
