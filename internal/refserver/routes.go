package refserver

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_refserver_requests_total",
		Help: "Reference service requests by route and status",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formsync_refserver_request_duration_seconds",
		Help:    "Reference service request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// RegisterRoutes registers the service routes on the router.
//
//	GET /api/*path - reference data
//	GET /healthz   - health check
//	GET /metrics   - Prometheus metrics
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/api/*path", h.HandleReference)
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// NewRouter builds a gin engine with recovery, request logging and metrics.
func NewRouter(h *Handlers, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), observe(logger))
	RegisterRoutes(router, h)
	return router
}

// observe logs each request and records its metrics. The route label is the
// matched pattern, not the raw path, to keep label cardinality bounded.
func observe(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", status,
			"duration", elapsed,
		)
	}
}
