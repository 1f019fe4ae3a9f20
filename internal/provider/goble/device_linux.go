//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newLinuxDevice opens the HCI device named by adapterID ("hci0", "hci1",
// ...; empty defaults to "hci0"). The teacher never ran on Linux, so there
// was nothing to generalize from directly here; this follows go-ble's
// linux.NewDevice(ble.OptDeviceID(n)) convention for picking a specific
// HCI socket, the same option the library's own multi-adapter examples
// use.
func newLinuxDevice(adapterID string) (ble.Device, error) {
	idx, err := hciIndex(adapterID)
	if err != nil {
		return nil, err
	}
	return linux.NewDevice(ble.OptDeviceID(idx))
}

func hciIndex(adapterID string) (int, error) {
	if adapterID == "" {
		return 0, nil
	}
	trimmed := strings.TrimPrefix(adapterID, "hci")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("goble: adapter id %q is not of the form hciN", adapterID)
	}
	return n, nil
}
