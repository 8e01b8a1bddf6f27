package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/alpha_monitor/internal/domain"
)

const namespace = "alpha_monitor"

// Recorder owns the Prometheus collectors for the collector, broker and fanout.
type Recorder struct {
	registry *prometheus.Registry

	cycles              *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	cyclesSkipped       prometheus.Counter
	assetFailures       prometheus.Counter
	recordsProcessed    prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	lastSuccess         prometheus.Gauge
	eventsPublished     *prometheus.CounterVec
	subscribers         prometheus.Gauge
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec

	failStreak atomic.Int64
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycles_total",
			Help:      "Collection cycles by final status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of collection cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because the previous one was still running.",
		}),
		assetFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "asset_failures_total",
			Help:      "Assets skipped because their fetch failed.",
		}),
		recordsProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "records_processed",
			Help:      "Records written by the last successful cycle.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "consecutive_failures",
			Help:      "Failed cycles since the last success.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "events_published_total",
			Help:      "Events published per channel.",
		}, []string{"channel"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently connected stream subscribers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}

	r.registry.MustRegister(
		r.cycles,
		r.cycleDuration,
		r.cyclesSkipped,
		r.assetFailures,
		r.recordsProcessed,
		r.consecutiveFailures,
		r.lastSuccess,
		r.eventsPublished,
		r.subscribers,
		r.httpRequests,
		r.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) CycleFinished(run *domain.CollectionRun) {
	if run == nil {
		return
	}
	r.cycles.WithLabelValues(string(run.Status)).Inc()
	r.cycleDuration.Observe(run.Duration.Seconds())

	if run.Status == domain.RunSuccess {
		r.failStreak.Store(0)
		r.recordsProcessed.Set(float64(run.RecordsProcessed))
		at := run.StartedAt
		if run.CompletedAt != nil {
			at = *run.CompletedAt
		}
		r.lastSuccess.Set(float64(at.Unix()))
	} else {
		r.failStreak.Add(1)
	}
	r.consecutiveFailures.Set(float64(r.failStreak.Load()))
}

func (r *Recorder) CycleSkipped() {
	r.cyclesSkipped.Inc()
}

func (r *Recorder) AssetFailed() {
	r.assetFailures.Inc()
}

func (r *Recorder) EventsPublished(channel string, n int) {
	r.eventsPublished.WithLabelValues(channel).Add(float64(n))
}

func (r *Recorder) SubscribersChanged(n int) {
	r.subscribers.Set(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Instrument wraps next with request count and latency metrics.
// The path label is the route pattern reported by routeOf, or the raw path.
func (r *Recorder) Instrument(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/metrics" {
				next.ServeHTTP(w, req)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, req)

			path := req.URL.Path
			if routeOf != nil {
				if p := routeOf(req); p != "" {
					path = p
				}
			}
			r.httpRequests.WithLabelValues(req.Method, path, strconv.Itoa(rec.status)).Inc()
			r.httpDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
		})
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

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
