// Package metrics wraps the Prometheus registry consumed by the sample
// fanout: lazily created GaugeVec/CounterVec/HistogramVec handles, cached
// per metric name after first use.
package metrics

import (
	"fmt"
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srg/blecollector/internal/config"
)

// Handle is the cached Prometheus collector for one configured metric
// name, plus the kind it was registered as (upserts must agree on kind).
type Handle struct {
	Kind      config.MetricKind
	Gauge     *prometheus.GaugeVec
	Counter   *prometheus.CounterVec
	Histogram *prometheus.HistogramVec

	labelNames []string
}

// Registry owns every metric handle exposed through a *prometheus.Registry.
// Handle creation is lazy and cached by metric name; FQCN is never a
// label, only the operator-supplied name and label pairs.
type Registry struct {
	prom    *prometheus.Registry
	handles *hashmap.Map[string, *Handle]

	// previous tracks the last observed value per (metric name, label
	// set) so Counter publication can compute max(0, delta).
	previous *hashmap.Map[string, float64]
}

// New creates a Registry backed by a fresh prometheus.Registry.
func New() *Registry {
	return &Registry{
		prom:     prometheus.NewRegistry(),
		handles:  hashmap.New[string, *Handle](),
		previous: hashmap.New[string, float64](),
	}
}

// Prometheus returns the underlying registry for wiring into an HTTP
// handler (e.g. promhttp.HandlerFor).
func (r *Registry) Prometheus() *prometheus.Registry { return r.prom }

// handleFor returns (creating if necessary) the Handle for spec. Handles
// are cached by metric name alone: the sorted label *names* (not values)
// of the first spec registered under a name fix that vector's label set,
// and later specs with the same name reuse it.
func (r *Registry) handleFor(spec *config.MetricSpec) (*Handle, error) {
	if existing, ok := r.handles.Get(spec.Name); ok {
		if existing.Kind != spec.Kind {
			return nil, fmt.Errorf("metric %q previously registered as %s, now requested as %s", spec.Name, existing.Kind, spec.Kind)
		}
		return existing, nil
	}

	labelNames := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		labelNames = append(labelNames, k)
	}
	sort.Strings(labelNames)

	h := &Handle{Kind: spec.Kind, labelNames: labelNames}
	switch spec.Kind {
	case config.MetricCounter:
		h.Counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: spec.Name, Help: helpOrDefault(spec)}, labelNames)
	case config.MetricHistogram:
		h.Histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: spec.Name, Help: helpOrDefault(spec)}, labelNames)
	default:
		h.Kind = config.MetricGauge
		h.Gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: spec.Name, Help: helpOrDefault(spec)}, labelNames)
	}

	// Two Sessions can race to register the same metric name for the
	// first time (different FQCNs sharing a name with differing labels,
	// §open-question). Only the handle GetOrInsert actually stores gets
	// registered with Prometheus, so the loser's unregistered vectors are
	// simply discarded instead of MustRegister panicking on a duplicate.
	actual, loaded := r.handles.GetOrInsert(spec.Name, h)
	if !loaded {
		switch actual.Kind {
		case config.MetricCounter:
			r.prom.MustRegister(actual.Counter)
		case config.MetricHistogram:
			r.prom.MustRegister(actual.Histogram)
		default:
			r.prom.MustRegister(actual.Gauge)
		}
	}
	return actual, nil
}

func helpOrDefault(spec *config.MetricSpec) string {
	if spec.Help != "" {
		return spec.Help
	}
	return fmt.Sprintf("collected BLE characteristic samples for %s", spec.Name)
}

// Observe upserts value into the metric described by spec: Gauge = last
// value; Counter = monotonic add of max(0, new-previous); Histogram =
// observe.
func (r *Registry) Observe(spec *config.MetricSpec, value float64) error {
	h, err := r.handleFor(spec)
	if err != nil {
		return err
	}

	labelValues := make([]string, len(h.labelNames))
	for i, name := range h.labelNames {
		labelValues[i] = spec.Labels[name]
	}

	switch h.Kind {
	case config.MetricCounter:
		key := counterKey(spec.Name, labelValues)
		prev, _ := r.previous.Get(key)
		delta := value - prev
		if delta < 0 {
			delta = 0
		}
		r.previous.Set(key, value)
		h.Counter.WithLabelValues(labelValues...).Add(delta)
	case config.MetricHistogram:
		h.Histogram.WithLabelValues(labelValues...).Observe(value)
	default:
		h.Gauge.WithLabelValues(labelValues...).Set(value)
	}
	return nil
}

func counterKey(name string, labelValues []string) string {
	k := name
	for _, v := range labelValues {
		k += "\x00" + v
	}
	return k
}
