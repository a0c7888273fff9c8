package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	// AttemptsTotal outcome: accepted / rejected / duplicate
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_attempts_total",
			Help: "Challenge attempts seen by the ingestor",
		},
		[]string{"outcome"},
	)

	DifficultyAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_difficulty_adjustments_total",
			Help: "Difficulty level changes",
		},
		[]string{"challenge_type", "direction"},
	)

	StreakTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_streak_transitions_total",
			Help: "Login streak transitions",
		},
		[]string{"kind"},
	)

	LeaderboardUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_leaderboard_updates_total",
			Help: "Leaderboard score writes",
		},
		[]string{"category", "result"},
	)

	MetricsCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_metrics_cache_total",
			Help: "Performance metrics cache lookups",
		},
		[]string{"result"},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_storage_errors_total",
			Help: "Storage collaborator failures",
		},
		[]string{"store", "op"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "progression_job_duration_seconds",
			Help:    "Background job run time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsTotal,
			DifficultyAdjustments,
			StreakTransitions,
			LeaderboardUpdates,
			MetricsCache,
			StorageErrors,
			JobDuration,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
