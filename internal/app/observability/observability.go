package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ruangobat/internal/draft"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "ruangobat"

type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	draftEvents  *prometheus.CounterVec
	commitSize   prometheus.Histogram
}

// NewCollector registers the service metrics on a private registry. db may be nil.
func NewCollector(db *sql.DB, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, namespace))
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		draftEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_events_total",
			Help:      "Draft session events by flow and kind.",
		}, []string{"flow", "kind"}),
		commitSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draft_commit_questions",
			Help:      "Number of questions per successful commit.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200},
		}),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := routeOf(r)
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpLatency.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		c.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("flow", flowOf(r)),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
			zap.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		)
	})
}

func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// DraftNotifier counts draft events and logs their confirmation message.
func (c *Collector) DraftNotifier() draft.Notifier {
	return draft.NotifierFunc(func(e draft.Event) {
		c.draftEvents.WithLabelValues(e.Flow, string(e.Kind)).Inc()
		if e.Kind == draft.EventCommitted {
			c.commitSize.Observe(float64(e.Count))
		}
		fields := []zap.Field{
			zap.String("flow", e.Flow),
			zap.String("kind", string(e.Kind)),
			zap.Int("index", e.Index),
			zap.Int("count", e.Count),
			zap.String("message", e.Message),
		}
		if e.Err != nil {
			c.logger.Warn("draft event", append(fields, zap.Error(e.Err))...)
			return
		}
		c.logger.Debug("draft event", fields...)
	})
}

// routeOf prefers the matched chi pattern so label cardinality stays bounded.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func flowOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("flow")
	}
	return ""
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{index}"
		}
	}
	return strings.Join(parts, "/")
}
