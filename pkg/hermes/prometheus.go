package hermes

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// help describes the metrics elysium emits. Unknown names get their own
// name as help text.
var help = map[string]string{
	"elysium_entries_written_total":          "Boot entry files written.",
	"elysium_entries_removed_total":          "Boot entry files removed.",
	"elysium_entries":                        "Boot entries present after the last write.",
	"elysium_subvolumes_created_total":       "Writable snapshot clones created.",
	"elysium_subvolumes_deleted_total":       "Writable snapshot clones deleted.",
	"elysium_images_copied_total":            "Kernel and initramfs images frozen onto the boot partition.",
	"elysium_operation_duration_seconds":     "Duration of sync and remove runs.",
	"elysium_operation_failures_total":       "Failed sync and remove runs.",
	"elysium_last_success_timestamp_seconds": "Unix time of the last successful run.",
}

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// PrometheusMetrics implements Metrics on a private registry, so a one-shot
// run can dump everything it recorded to a node-exporter textfile.
//
// Label keys of a metric are fixed by its first use.
type PrometheusMetrics struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.Mutex
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Registry exposes the underlying registry as a Gatherer.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in text exposition format, atomically.
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, labels ...Label) {
	keys, values := split(labels)
	vec := vecFor(m, m.counters, name, func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, keys)
	})
	vec.WithLabelValues(values...).Add(value)
}

func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels ...Label) {
	keys, values := split(labels)
	vec := vecFor(m, m.histograms, name, func() *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: durationBuckets,
		}, keys)
	})
	vec.WithLabelValues(values...).Observe(value)
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels ...Label) {
	keys, values := split(labels)
	vec := vecFor(m, m.gauges, name, func() *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, keys)
	})
	vec.WithLabelValues(values...).Set(value)
}

// vecFor returns the collector registered under name, creating and
// registering it on first use.
func vecFor[V prometheus.Collector](m *PrometheusMetrics, vecs map[string]V, name string, create func() V) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := vecs[name]; ok {
		return vec
	}
	vec := create()
	m.registry.MustRegister(vec)
	vecs[name] = vec
	return vec
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

func split(labels []Label) ([]string, []string) {
	keys := make([]string, len(labels))
	values := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}
