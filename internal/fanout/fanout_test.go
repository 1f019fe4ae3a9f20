package fanout

import (
	"testing"
	"time"

	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/decode"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/metrics"
	"github.com/srg/blecollector/internal/sample"
	"github.com/srg/blecollector/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPushesRingAndMetric(t *testing.T) {
	samples := sample.NewRegistry()
	metricsReg := metrics.New()
	f := New(samples, metricsReg, nil, nil, nil)

	key := fqcn.FQCN{Adapter: "hci0", Peripheral: "AA", ServiceUUID: "180f", CharacterUUID: "2a19"}
	sink := CharacteristicSink{
		HistorySize: 5,
		Metric:      &config.MetricSpec{Name: "battery_level", Kind: config.MetricGauge},
	}

	v, err := decode.Decode(decode.UnsignedConverter(1, 1, 0, 0), []byte{80})
	require.NoError(t, err)
	s := sample.Sample{FQCN: key, TS: time.Now(), Value: v, Raw: []byte{80}}

	f.Dispatch(key, sink, s, template.Context{FQCN: key})

	snap, ok := samples.Snapshot(key)
	require.True(t, ok)
	require.Len(t, snap, 1)
	assert.Equal(t, float64(80), snap[0].Value.Float64())

	families, err := metricsReg.Prometheus().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "battery_level", families[0].GetName())
	assert.Equal(t, float64(80), families[0].GetMetric()[0].GetGauge().GetValue())
}

func TestDispatchWithoutMetricSinkStillPushesRing(t *testing.T) {
	samples := sample.NewRegistry()
	metricsReg := metrics.New()
	f := New(samples, metricsReg, nil, nil, nil)

	key := fqcn.FQCN{Adapter: "hci0", Peripheral: "BB", ServiceUUID: "180f", CharacterUUID: "2a19"}
	sink := CharacteristicSink{HistorySize: 3}

	v, err := decode.Decode(decode.Utf8Converter(), []byte("ok"))
	require.NoError(t, err)
	s := sample.Sample{FQCN: key, TS: time.Now(), Value: v}

	f.Dispatch(key, sink, s, template.Context{FQCN: key})

	snap, ok := samples.Snapshot(key)
	require.True(t, ok)
	require.Len(t, snap, 1)
	assert.Equal(t, "ok", snap[0].Value.Text)
}
