package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the collectors of one pipeline process.
type Metrics struct {
	Registry *prometheus.Registry

	APIRequests     *prometheus.CounterVec
	Pages           *prometheus.CounterVec
	RateLimitWait   prometheus.Counter
	GeocodeRequests *prometheus.CounterVec
	EventsCounted   prometheus.Counter
	StageDuration   *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	m.APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetup",
		Name:      "api_requests_total",
		Help:      "Meetup API requests by endpoint and HTTP status",
	}, []string{"endpoint", "status"})
	m.Pages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetup",
		Name:      "pages_total",
		Help:      "Result pages merged by pagination direction",
	}, []string{"direction"})
	m.RateLimitWait = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meetup",
		Name:      "ratelimit_wait_seconds_total",
		Help:      "Time spent blocked on the request quota",
	})
	m.GeocodeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_requests_total",
		Help: "Geocoding lookups by provider and result status",
	}, []string{"provider", "status"})
	m.EventsCounted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "summary",
		Name:      "events_counted_total",
		Help:      "Events that passed the bounding box and cutoff filters",
	})
	m.StageDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stage_duration_seconds",
		Help: "Wall time of the last run of each stage",
	}, []string{"stage"})

	m.Registry.MustRegister(
		m.APIRequests, m.Pages, m.RateLimitWait,
		m.GeocodeRequests, m.EventsCounted, m.StageDuration,
	)
	return m
}

// Push sends the registry to a Prometheus pushgateway under job.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Dump returns a sorted one-line-per-sample snapshot for logging.
func (m *Metrics) Dump() string {
	mfs, err := m.Registry.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			out = append(out, fmt.Sprintf("%s{%s} %g", mf.GetName(), labelString(metric.GetLabel()), value(metric)))
		}
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}

func labelString(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}

func value(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}
