package adaptersup

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/provider"
	"github.com/srg/blecollector/internal/session"
)

const testConfigYAML = `
peripherals:
  - name: hub-a
    device_name: {equals: "Sensor Hub A"}
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            converter: {utf8: {}}
  - name: hub-b
    device_name: {starts_with: "Sensor Hub"}
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            converter: {utf8: {}}
`

type fakeAdvertisement struct {
	localName string
	addr      string
}

func (a fakeAdvertisement) LocalName() string        { return a.localName }
func (a fakeAdvertisement) Addr() string             { return a.addr }
func (a fakeAdvertisement) RSSI() int                { return -50 }
func (a fakeAdvertisement) Connectable() bool        { return true }
func (a fakeAdvertisement) Services() []string       { return nil }
func (a fakeAdvertisement) ManufacturerData() []byte { return nil }

type fakeAdapter struct{ id string }

func (a *fakeAdapter) ID() string { return a.id }
func (a *fakeAdapter) Scan(ctx context.Context, handler func(provider.Advertisement)) error {
	return nil
}
func (a *fakeAdapter) Connect(ctx context.Context, addr string, timeout time.Duration) (provider.Peripheral, error) {
	return nil, provider.ErrUnsupported
}

func newTestSupervisor(t *testing.T) (*Supervisor, *int) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfigYAML))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	sup := New(&fakeAdapter{id: "hci0"}, cfg, nil, nil, logger)
	spawnCount := 0
	sup.WithSpawnFunc(func(ctx context.Context, adapterID string, a provider.Adapter, address string, pCfg *config.ConfiguredPeripheral) *session.Session {
		spawnCount++
		return nil
	})
	return sup, &spawnCount
}

func TestMatchFirstInConfigOrderWins(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	// "Sensor Hub A" satisfies both hub-a's exact-equals rule and hub-b's
	// starts_with rule; config order means hub-a must win.
	matched := sup.match(fakeAdvertisement{localName: "Sensor Hub A", addr: "AA:BB:CC:DD:EE:01"})
	require.NotNil(t, matched)
	require.Equal(t, "hub-a", matched.Name)

	// Only hub-b's starts_with rule applies here.
	matched = sup.match(fakeAdvertisement{localName: "Sensor Hub Z", addr: "AA:BB:CC:DD:EE:02"})
	require.NotNil(t, matched)
	require.Equal(t, "hub-b", matched.Name)

	// Matches nothing.
	matched = sup.match(fakeAdvertisement{localName: "Unrelated Device", addr: "AA:BB:CC:DD:EE:03"})
	require.Nil(t, matched)
}

func TestHandleAdvertisementDedupAndSpawnOnce(t *testing.T) {
	sup, spawnCount := newTestSupervisor(t)

	adv := fakeAdvertisement{localName: "Sensor Hub A", addr: "AA:BB:CC:DD:EE:01"}
	ctx := context.Background()
	sup.HandleAdvertisement(ctx, adv)
	require.Equal(t, 1, *spawnCount)

	// A second, immediate advertisement from the same address must be
	// suppressed by the dedup window rather than spawning a second time.
	sup.HandleAdvertisement(ctx, adv)
	require.Equal(t, 1, *spawnCount)
}

func TestScanBackoffCapsAndGrows(t *testing.T) {
	require.Equal(t, scanBackoffBase, scanBackoff(0))
	require.Greater(t, scanBackoff(2), scanBackoff(1))
	require.LessOrEqual(t, scanBackoff(20), scanBackoffCap)
}

func TestScanBackoffMonotonicUntilCap(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := scanBackoff(i)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
