package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sign-in collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer        prometheus.Gatherer
	authBegin       *prometheus.CounterVec
	authComplete    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
}

// New registers the sign-in collectors on a fresh registry under namespace.
func New(namespace string) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		authBegin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_begin_total",
			Help:      "Authorization redirects issued, by provider and outcome",
		}, []string{"provider", "outcome"}),
		authComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_complete_total",
			Help:      "Completed callbacks, by provider and outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of outbound provider calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "call", "result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"}),
	}
	for _, c := range []prometheus.Collector{
		m.authBegin, m.authComplete, m.providerLatency, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthBegin(provider, outcome string) {
	if m == nil {
		return
	}
	m.authBegin.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) AuthComplete(provider, outcome string) {
	if m == nil {
		return
	}
	m.authComplete.WithLabelValues(provider, outcome).Inc()
}

// ProviderCall observes the duration of an exchange or profile call.
func (m *Metrics) ProviderCall(provider, call string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerLatency.WithLabelValues(provider, call, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}
