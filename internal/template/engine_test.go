package template

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() Context {
	return Context{
		Adapter:            "hci0",
		Peripheral:         "FA:6F:EC:EE:4B:36",
		PeripheralName:     "Sensor Hub",
		ServiceName:        "battery",
		CharacteristicName: "level",
		FQCN: fqcn.FQCN{
			Adapter:       "hci0",
			Peripheral:    "FA:6F:EC:EE:4B:36",
			ServiceUUID:   "180f",
			CharacterUUID: "2a19",
		},
	}
}

// S5: a switch template distinguishes the living-room sensor hub by its
// MAC and interpolates the peripheral name into the result.
func TestEvaluateSwitchTemplate(t *testing.T) {
	eng := New(logrus.StandardLogger())
	defer eng.Close()

	payload := map[string]interface{}{
		"name": "switch {\n  case fqcn.peripheral == \"FA:6F:EC:EE:4B:36\": `${peripheral_name} Living Room`\n  default: `${peripheral_name} Unknown`\n}",
	}

	out, errs := eng.Evaluate(payload, testCtx())
	require.Empty(t, errs)
	m := out.(map[string]interface{})
	assert.Equal(t, "Sensor Hub Living Room", m["name"])
}

func TestEvaluateBacktickInterpolation(t *testing.T) {
	eng := New(logrus.StandardLogger())
	defer eng.Close()

	payload := map[string]interface{}{
		"topic": "`sensors/${clean_peripheral}/${clean_characteristic_name}`",
	}
	out, errs := eng.Evaluate(payload, testCtx())
	require.Empty(t, errs)
	m := out.(map[string]interface{})
	assert.Equal(t, "sensors/FA_6F_EC_EE_4B_36/level", m["topic"])
}

// Testable property 5: an all-literal tree passes through unchanged.
func TestEvaluateLiteralTreeUnchanged(t *testing.T) {
	eng := New(logrus.StandardLogger())
	defer eng.Close()

	payload := map[string]interface{}{
		"name":        "Battery Level",
		"unit":        "%",
		"retain":      true,
		"qos":         float64(1),
		"nested":      map[string]interface{}{"device_class": "battery"},
		"identifiers": []interface{}{"a", "b"},
	}
	out, errs := eng.Evaluate(payload, testCtx())
	require.Empty(t, errs)
	assert.Equal(t, payload, out)
}

// state_topic is evaluated first and bound so a sibling leaf can reuse it.
func TestEvaluateStateTopicBoundForSiblings(t *testing.T) {
	eng := New(logrus.StandardLogger())
	defer eng.Close()

	payload := map[string]interface{}{
		"state_topic": "`ble/${clean_peripheral}/state`",
		"discovery": map[string]interface{}{
			"state_topic": "${state_topic}",
		},
	}
	out, errs := eng.Evaluate(payload, testCtx())
	require.Empty(t, errs)
	m := out.(map[string]interface{})
	assert.Equal(t, "ble/FA_6F_EC_EE_4B_36/state", m["state_topic"])
	disc := m["discovery"].(map[string]interface{})
	assert.Equal(t, "ble/FA_6F_EC_EE_4B_36/state", disc["state_topic"])
}

// Per-leaf errors are isolated: a bad expression is replaced by an error
// string, and the rest of the payload still evaluates.
func TestEvaluateIsolatesPerLeafErrors(t *testing.T) {
	eng := New(logrus.StandardLogger())
	defer eng.Close()

	payload := map[string]interface{}{
		"bad":  "`${nonexistent_fn()}`",
		"good": "`${peripheral_name}`",
	}
	out, errs := eng.Evaluate(payload, testCtx())
	require.Len(t, errs, 1)
	assert.Equal(t, "$.bad", errs[0].Path)

	m := out.(map[string]interface{})
	assert.Equal(t, "Sensor Hub", m["good"])
	assert.Contains(t, m["bad"], "template error")
}
