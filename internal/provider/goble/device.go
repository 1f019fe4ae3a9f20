// Package goble backs the provider interfaces with github.com/go-ble/ble.
// The teacher's go-ble device package hardcoded a single Darwin adapter
// (DeviceFactory always returning darwin.NewDevice()); this package
// generalizes that to one ble.Device per named adapter id (e.g. "hci0",
// "hci1"), each independently scannable and dialable.
package goble

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/provider"
)

// DeviceOpener constructs the platform ble.Device for one adapter id. The
// default resolves Linux HCI adapters by index (hciN) and falls back to
// the host's single default radio on platforms without named adapters
// (Darwin's CoreBluetooth exposes only one). Tests override this to avoid
// touching real hardware.
var DeviceOpener = defaultDeviceOpener

// ble.Device operations are bound to a single process-wide "default
// device" (ble.SetDefaultDevice); the library was never designed for
// concurrent multi-radio use from one process. Every Adapter call below
// takes deviceMu for its duration and re-installs its own device as the
// default immediately before calling into the library, trading scan/dial
// concurrency across adapters for correctness. This mirrors a known
// limitation of go-ble rather than a choice made for this collector.
var deviceMu sync.Mutex

// Provider enumerates the configured BLE adapters.
type Provider struct {
	logger *logrus.Logger
	ids    []string
}

// NewProvider builds a Provider over the given adapter ids, e.g.
// []string{"hci0", "hci1"}. An empty id addresses the host's default
// radio.
func NewProvider(ids []string, logger *logrus.Logger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(ids) == 0 {
		ids = []string{""}
	}
	return &Provider{logger: logger, ids: ids}
}

func (p *Provider) Adapters(_ context.Context) ([]provider.Adapter, error) {
	out := make([]provider.Adapter, 0, len(p.ids))
	for _, id := range p.ids {
		out = append(out, &adapter{id: id, logger: p.logger})
	}
	return out, nil
}

func defaultDeviceOpener(adapterID string) (ble.Device, error) {
	if runtime.GOOS == "darwin" {
		return newDarwinDevice()
	}
	return newLinuxDevice(adapterID)
}

func deviceCreationError(adapterID string, err error) error {
	return fmt.Errorf("goble: opening adapter %q: %w", adapterID, err)
}
