package telemetry

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const HeaderRequestID = "X-Request-ID"

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trivia_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trivia_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	QuizQuestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trivia_quiz_questions_total",
			Help: "Quiz question selections by outcome.",
		},
		[]string{"outcome"},
	)
)

// HTTPMiddleware tags every request with an id, records metrics and writes an access log line.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			if v7, err := uuid.NewV7(); err == nil {
				id = v7.String()
			}
		}
		c.Header(HeaderRequestID, id)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())

		lvl := slog.LevelInfo
		if status >= 500 {
			lvl = slog.LevelError
		}
		slog.Log(c.Request.Context(), lvl, "http: request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}
