package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mention_lifecycle"

// Collector exposes Prometheus metrics for inbound HTTP requests and for the
// mention lifecycle. A nil *Collector is valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	mentionsIngested     *prometheus.CounterVec
	verificationOutcomes *prometheus.CounterVec
	stateTransitions     *prometheus.CounterVec
	partySelections      *prometheus.CounterVec
	sweepDuration        *prometheus.HistogramVec
}

// NewCollector constructs a collector backed by its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "route", "status"}),
		mentionsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "mentions_total",
			Help:      "Mentions seen in webhook deliveries, by type and whether a row was created.",
		}, []string{"type", "result"}),
		verificationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "outcomes_total",
			Help:      "Story existence check outcomes.",
		}, []string{"result"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mentions",
			Name:      "state_transitions_total",
			Help:      "Mention state transitions applied by sweeps.",
		}, []string{"state"}),
		partySelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "party_selection",
			Name:      "events_total",
			Help:      "Party selection decisions and dialog outcomes.",
		}, []string{"event"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of scheduled sweeps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"type"}),
	}

	for _, collector := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.mentionsIngested,
		c.verificationOutcomes,
		c.stateTransitions,
		c.partySelections,
		c.sweepDuration,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics. The
// route template is used as label so path parameters do not explode
// cardinality.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		c.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, route, status).Observe(duration)
	})
}

// Middleware adapts InstrumentHandler for mux.Router.Use.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return c.InstrumentHandler(next)
}

func (c *Collector) MentionIngested(mentionType string, created bool) {
	if c == nil {
		return
	}
	result := "duplicate"
	if created {
		result = "created"
	}
	c.mentionsIngested.WithLabelValues(mentionType, result).Inc()
}

func (c *Collector) VerificationOutcome(result string) {
	if c == nil {
		return
	}
	c.verificationOutcomes.WithLabelValues(result).Inc()
}

func (c *Collector) StateTransition(state string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) PartySelection(event string) {
	if c == nil {
		return
	}
	c.partySelections.WithLabelValues(event).Inc()
}

// ObserveSweep records how long a sweep of the given type took.
func (c *Collector) ObserveSweep(sweepType string, started time.Time) {
	if c == nil {
		return
	}
	c.sweepDuration.WithLabelValues(sweepType).Observe(time.Since(started).Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
