package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReferralsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referrals_created_total",
			Help: "Total number of referrals stored",
		},
	)

	FraudRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_fraud_rejections_total",
			Help: "Referrals rejected by fraud evaluation",
		},
		[]string{"reason"},
	)

	FraudScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "referral_fraud_score",
			Help:    "Distribution of referral fraud scores",
			Buckets: []float64{0, 0.3, 0.4, 0.6, 0.7, 1},
		},
	)

	InvalidTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_invalid_trips_total",
			Help: "Trip completion events discarded by validation",
		},
		[]string{"reason"},
	)

	RewardsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_rewards_issued_total",
			Help: "Reward ledger entries created",
		},
		[]string{"type"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on referral progress",
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware records request counts and latencies per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
