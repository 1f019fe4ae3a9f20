// Package fanout implements the Sample Fanout (C3): on every decoded
// sample, push to history, upsert into metrics, and enqueue an MQTT
// publish, without ever blocking on the slowest sink.
package fanout

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/decode"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/metrics"
	"github.com/srg/blecollector/internal/mqttpub"
	"github.com/srg/blecollector/internal/sample"
	"github.com/srg/blecollector/internal/template"
)

// CharacteristicSink bundles everything the fanout needs to know about one
// configured characteristic to route a decoded sample for it.
type CharacteristicSink struct {
	HistorySize int
	Metric      *config.MetricSpec
	MQTT        *config.MQTTSpec
}

// Fanout wires the sample registry, metrics registry, template evaluator,
// and MQTT publisher together. A nil Publisher or Engine disables that
// sink (e.g. running without a configured MQTT broker).
type Fanout struct {
	Samples   *sample.Registry
	Metrics   *metrics.Registry
	Templates *template.Engine
	Publisher *mqttpub.Publisher
	Logger    *logrus.Logger
}

// New creates a Fanout from its component registries. Publisher and
// Templates may be nil when MQTT publication is not configured.
func New(samples *sample.Registry, metricsReg *metrics.Registry, tmpl *template.Engine, pub *mqttpub.Publisher, logger *logrus.Logger) *Fanout {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fanout{Samples: samples, Metrics: metricsReg, Templates: tmpl, Publisher: pub, Logger: logger}
}

// Dispatch routes one decoded sample for key through the ring, metrics,
// and MQTT sinks per §4.3: ring push always happens; metrics and MQTT are
// opt-in per sink and never block the caller.
func (f *Fanout) Dispatch(key fqcn.FQCN, sink CharacteristicSink, s sample.Sample, tmplCtx template.Context) {
	f.Samples.Push(key, sink.HistorySize, s)

	if sink.Metric != nil && s.Value.Num != nil {
		if err := f.Metrics.Observe(sink.Metric, s.Value.Float64()); err != nil {
			f.Logger.WithError(err).WithField("fqcn", key.String()).Warn("fanout: metric observe failed")
		}
	}

	if sink.MQTT != nil && f.Publisher != nil && f.Templates != nil {
		f.dispatchMQTT(key, sink.MQTT, s, tmplCtx)
	}
}

func (f *Fanout) dispatchMQTT(key fqcn.FQCN, spec *config.MQTTSpec, s sample.Sample, tmplCtx template.Context) {
	stateTopic := f.evalTopic(key, spec.StateTopic, tmplCtx)
	if stateTopic == "" {
		return
	}

	// Discovery must be enqueued before the first state publish for this
	// FQCN: §5 requires discovery happens-before the first state-topic
	// publication after (re)connect. PublishDiscovery itself is a no-op
	// past the first call per (key, boot), so this ordering only matters
	// on that first sample.
	if spec.Discovery != nil && spec.ConfigTopic != "" {
		f.publishDiscovery(key, spec, stateTopic, tmplCtx)
	}

	var value interface{}
	if s.Value.Kind == decode.ValueText {
		value = s.Value.Text
	} else {
		value = s.Value.Float64()
	}
	f.Publisher.PublishState(key, stateTopic, value, s.Raw, s.TS)
}

func (f *Fanout) publishDiscovery(key fqcn.FQCN, spec *config.MQTTSpec, stateTopic string, tmplCtx template.Context) {
	configTopic := f.evalTopic(key, spec.ConfigTopic, tmplCtx)
	if configTopic == "" {
		return
	}

	// state_topic is bound into the discovery payload tree so its own
	// `${state_topic}` leaves can reuse the already-evaluated topic.
	payloadCopy := deepCopy(spec.Discovery)
	if m, ok := payloadCopy.(map[string]interface{}); ok {
		if _, present := m["state_topic"]; !present {
			m["state_topic"] = stateTopic
		}
	}
	tmplCtx.StateTopic = stateTopic
	evaluated, errs := f.Templates.Evaluate(payloadCopy, tmplCtx)
	for _, e := range errs {
		f.Logger.WithError(e).WithField("fqcn", key.String()).Warn("fanout: discovery template leaf failed")
	}
	f.Publisher.PublishDiscovery(key, configTopic, evaluated, spec.Retain)
}

func (f *Fanout) evalTopic(key fqcn.FQCN, topicExpr string, tmplCtx template.Context) string {
	if topicExpr == "" {
		return ""
	}
	out, errs := f.Templates.Evaluate(map[string]interface{}{"topic": topicExpr}, tmplCtx)
	for _, e := range errs {
		f.Logger.WithError(e).WithField("fqcn", key.String()).Warn("fanout: topic template failed")
		return ""
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		return ""
	}
	topic, _ := m["topic"].(string)
	return topic
}

// deepCopy clones a decoded YAML tree (maps, slices, scalars) so in-place
// template evaluation never mutates the shared configured payload.
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
