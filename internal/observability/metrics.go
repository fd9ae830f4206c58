package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_http_requests_total",
			Help: "Total inbound messages",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "echo_http_request_duration_seconds",
		Help:    "Inbound message latency seconds",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 20, 40, 60, 120},
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "echo_http_in_flight",
		Help: "In-flight inbound messages",
	})
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_events_total",
			Help: "Analytics events by category and action",
		}, []string{"category", "action", "label"},
	)
	APICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_api_calls_total",
			Help: "Backend RPC attempts by api name",
		}, []string{"api"},
	)
	Replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_replies_total",
			Help: "Eligibility replies by kind",
		}, []string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, EventsTotal, APICalls, Replies)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
