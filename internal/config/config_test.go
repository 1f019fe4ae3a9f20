package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
peripherals:
  - name: hub
    device_name:
      starts_with: "Sensor Hub"
    adapter:
      equals: "hci0"
    services:
      - uuid: "180f"
        name: battery
        characteristics:
          - uuid: "2a19"
            name: level
            access: poll
            converter:
              unsigned: {l: 1, m: 1, d: 0, b: 0}
            metric:
              name: battery_level
`

func TestParseMinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Peripherals, 1)

	p := cfg.Peripherals[0]
	assert.True(t, p.Matches("Sensor Hub 01", "", "hci0"))
	assert.False(t, p.Matches("Sensor Hub 01", "", "hci1"))
	assert.False(t, p.Matches("Other Device", "", "hci0"))

	c := p.Services[0].Characteristics[0]
	assert.Equal(t, 10, c.ResolvedHistorySize(p.Services[0].DefaultHistorySize))
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestParseRejectsUnsetConverter(t *testing.T) {
	const yaml = `
peripherals:
  - name: hub
    services:
      - uuid: "180f"
        characteristics:
          - uuid: "2a19"
            metric:
              name: x
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "converter is unset")
}

func TestParseRejectsZeroHistorySize(t *testing.T) {
	const yaml = `
peripherals:
  - name: hub
    services:
      - uuid: "180f"
        default_history_size: 0
        characteristics:
          - uuid: "2a19"
            history_size: 0
            converter:
              utf8: {}
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_size must be >= 1")
}

func TestParseRejectsUnknownConverterTag(t *testing.T) {
	const yaml = `
peripherals:
  - name: hub
    services:
      - uuid: "180f"
        characteristics:
          - uuid: "2a19"
            converter:
              bogus: {}
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown converter tag")
}

func TestParseFlagsDuplicateMetricNameAndLabels(t *testing.T) {
	const yaml = `
peripherals:
  - name: hub1
    services:
      - uuid: "180f"
        characteristics:
          - uuid: "2a19"
            converter: {utf8: {}}
            metric: {name: temp, labels: {room: kitchen}}
  - name: hub2
    services:
      - uuid: "180f"
        characteristics:
          - uuid: "2a1a"
            converter: {utf8: {}}
            metric: {name: temp, labels: {room: kitchen}}
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric")
}
