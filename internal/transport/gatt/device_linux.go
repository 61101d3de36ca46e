//go:build linux

package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newDevice() (ble.Device, error) {
	dev, err := linux.NewDevice(ble.OptPeripheralRole())
	if err != nil {
		return nil, fmt.Errorf("create peripheral on HCI device: %w", err)
	}
	return dev, nil
}
