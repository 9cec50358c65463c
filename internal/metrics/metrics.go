package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_ws_messages_total",
		Help: "Total number of chat messages persisted via websocket",
	})
	ReceiptUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_receipt_updates_total",
		Help: "Total number of receipt status upserts",
	})
	PollVotesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_poll_votes_total",
		Help: "Total number of successfully recorded poll votes",
	})
	PollVoteConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_poll_vote_conflicts_total",
		Help: "Total number of optimistic version conflicts retried during voting",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		WsMessagesTotal,
		ReceiptUpdatesTotal,
		PollVotesTotal,
		PollVoteConflictsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latency for Prometheus scrapes.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
