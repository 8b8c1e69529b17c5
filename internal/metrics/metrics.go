package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the server's collectors. Tests may read it directly.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "socialchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	pushConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "socialchat",
			Subsystem: "push",
			Name:      "connections",
			Help:      "Live authenticated push connections.",
		},
	)

	pushRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialchat",
			Subsystem: "push",
			Name:      "frames_routed_total",
			Help:      "Frames handed to live connections, by event.",
		},
		[]string{"event"},
	)

	pushDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialchat",
			Subsystem: "push",
			Name:      "frames_dropped_total",
			Help:      "Frames a connection refused, by event.",
		},
		[]string{"event"},
	)

	socketEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialchat",
			Subsystem: "push",
			Name:      "client_events_total",
			Help:      "Client events received over push connections.",
		},
		[]string{"event", "outcome"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialchat",
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages persisted, by delivery path.",
		},
		[]string{"delivery"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		pushConnections,
		pushRouted,
		pushDropped,
		socketEvents,
		messagesSent,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency. route should be the
// matched pattern, never the raw path.
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func ConnectionOpened() { pushConnections.Inc() }
func ConnectionClosed() { pushConnections.Dec() }

func FrameRouted(event string)  { pushRouted.WithLabelValues(event).Inc() }
func FrameDropped(event string) { pushDropped.WithLabelValues(event).Inc() }

func ClientEvent(event, outcome string) { socketEvents.WithLabelValues(event, outcome).Inc() }

// MessageSent records a persisted message; delivered is the number of live
// connections that received it.
func MessageSent(delivered int) {
	if delivered > 0 {
		messagesSent.WithLabelValues("live").Inc()
		return
	}
	messagesSent.WithLabelValues("stored").Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
