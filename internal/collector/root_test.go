package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/provider"
)

type fakeAdapter struct{ id string }

func (a *fakeAdapter) ID() string { return a.id }
func (a *fakeAdapter) Scan(ctx context.Context, handler func(provider.Advertisement)) error {
	<-ctx.Done()
	return ctx.Err()
}
func (a *fakeAdapter) Connect(ctx context.Context, addr string, timeout time.Duration) (provider.Peripheral, error) {
	return nil, provider.ErrUnsupported
}

type fakeProvider struct{ adapters []provider.Adapter }

func (p *fakeProvider) Adapters(ctx context.Context) ([]provider.Adapter, error) {
	return p.adapters, nil
}

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	cfg, err := config.Parse([]byte("peripherals: []\n"))
	require.NoError(t, err)

	prov := &fakeProvider{adapters: []provider.Adapter{&fakeAdapter{id: "hci0"}}}
	root, err := New(context.Background(), cfg, prov, nil)
	require.NoError(t, err)
	return root
}

func TestListAdaptersReportsEnumeratedAdapters(t *testing.T) {
	root := newTestRoot(t)
	adapters := root.ListAdapters()
	require.Len(t, adapters, 1)
	require.Equal(t, "hci0", adapters[0].ID)
	require.Equal(t, 0, adapters[0].PeripheralCount)
}

func TestDescribeUnknownAdapter(t *testing.T) {
	root := newTestRoot(t)
	_, err := root.Describe("hci9")
	require.Error(t, err)
}

func TestDescribeKnownAdapterWithNoPeripherals(t *testing.T) {
	root := newTestRoot(t)
	out, err := root.Describe("hci0")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestReadUnknownAdapterOrPeripheral(t *testing.T) {
	root := newTestRoot(t)
	_, err := root.Read(context.Background(), "hci9", "AA:BB:CC:DD:EE:FF", "180d", "2a37")
	require.Error(t, err)

	_, err = root.Read(context.Background(), "hci0", "AA:BB:CC:DD:EE:FF", "180d", "2a37")
	require.Error(t, err)
}

func TestSnapshotSamplesEmptyByDefault(t *testing.T) {
	root := newTestRoot(t)
	require.Empty(t, root.SnapshotSamples())
}
