package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusRecorder struct {
	registry  *prometheus.Registry
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func NewPrometheusRecorder() *PrometheusRecorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainpay",
			Name:      "events_total",
			Help:      "chainpay event counters",
		},
		[]string{"type", "chain", "outcome"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainpay",
			Name:      "latency_seconds",
			Help:      "chainpay operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "chain"},
	)

	r := prometheus.NewRegistry()
	r.MustRegister(counters, histogram, prometheus.NewGoCollector())

	return &PrometheusRecorder{
		registry:  r,
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":    name,
		"chain":   labels["chain"],
		"outcome": labels["outcome"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"chain":     labels["chain"],
	}).Observe(d.Seconds())
}

func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
