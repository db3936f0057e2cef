package vault

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts and times the requests of one session. Each session has
// its own registry so sessions never share collectors.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the request collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpass_backend_requests_total",
				Help: "Total number of requests sent to the secret-storage server",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultpass_backend_request_duration_seconds",
				Help:    "Duration of requests sent to the secret-storage server in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method"},
		),
	}
	m.registry.MustRegister(m.requests, m.duration)
	return m
}

// Instrument wraps a transport so every round trip is counted and timed
func (m *Metrics) Instrument(rt http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.requests,
		promhttp.InstrumentRoundTripperDuration(m.duration, rt))
}

// Registry returns the session's registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Requests returns the request counter
func (m *Metrics) Requests() *prometheus.CounterVec { return m.requests }

// Summary renders request counts as "METHOD CODE: N" lines, sorted
func (m *Metrics) Summary() string {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Sprintf("metrics unavailable: %v", err)
	}

	var lines []string
	for _, mf := range families {
		if mf.GetName() != "vaultpass_backend_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			lines = append(lines, fmt.Sprintf("%s %s: %.0f",
				strings.ToUpper(labels["method"]), labels["code"], metric.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
