package sample

import (
	"testing"
	"time"

	"github.com/srg/blecollector/internal/decode"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPushAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	key := fqcn.FQCN{Adapter: "hci0", Peripheral: "AA:BB", ServiceUUID: "180f", CharacterUUID: "2a19"}

	for i := 0; i < 4; i++ {
		v, err := decode.Decode(decode.UnsignedConverter(1, 1, 0, 0), []byte{byte(i)})
		require.NoError(t, err)
		reg.Push(key, 3, Sample{FQCN: key, TS: time.Unix(int64(i), 0), Value: v})
	}

	snap, ok := reg.Snapshot(key)
	require.True(t, ok)
	require.Len(t, snap, 3)
	assert.Equal(t, float64(1), snap[0].Value.Float64())
	assert.Equal(t, float64(3), snap[2].Value.Float64())
	assert.ElementsMatch(t, []fqcn.FQCN{key}, reg.Keys())
}

func TestRegistrySnapshotMissingKey(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Snapshot(fqcn.FQCN{Adapter: "hci0"})
	assert.False(t, ok)
}
