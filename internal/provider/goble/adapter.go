package goble

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/provider"
)

// adapter is one named local BLE radio. Scan and Connect both briefly
// install this adapter's device as go-ble's process-wide default before
// calling into the library; see the comment on deviceMu in device.go.
type adapter struct {
	id     string
	logger *logrus.Logger
}

func (a *adapter) ID() string { return a.id }

func (a *adapter) withDevice(fn func(dev ble.Device) error) error {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	dev, err := DeviceOpener(a.id)
	if err != nil {
		return deviceCreationError(a.id, err)
	}
	ble.SetDefaultDevice(dev)
	return fn(dev)
}

// Scan runs until ctx is cancelled, forwarding every advertisement to
// handler. Duplicate-advertisement suppression across adapters is the
// Adapter Supervisor's concern, not the transport's: this always reports
// allowDup=true, matching the teacher's bleScanner.Scan passthrough.
func (a *adapter) Scan(ctx context.Context, handler func(provider.Advertisement)) error {
	return a.withDevice(func(dev ble.Device) error {
		bleHandler := func(adv ble.Advertisement) {
			handler(newAdvertisement(adv))
		}
		if err := dev.Scan(ctx, true, bleHandler); err != nil {
			return normalizeError(err)
		}
		return nil
	})
}

func (a *adapter) Connect(ctx context.Context, addr string, timeout time.Duration) (provider.Peripheral, error) {
	var p provider.Peripheral
	err := a.withDevice(func(dev ble.Device) error {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		client, err := ble.Dial(dialCtx, ble.NewAddr(addr))
		if err != nil {
			return fmt.Errorf("goble: dialing %q on %q: %w", addr, a.id, normalizeError(err))
		}
		p = newPeripheral(a.id, addr, client, a.logger)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
