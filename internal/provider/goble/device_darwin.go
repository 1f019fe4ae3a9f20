//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newDarwinDevice opens CoreBluetooth's single radio. CoreBluetooth has no
// concept of multiple named adapters, so every configured adapter id maps
// onto the same underlying device here; the deviceMu serialization in
// device.go is what keeps that safe.
func newDarwinDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
