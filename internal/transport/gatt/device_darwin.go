//go:build darwin

package gatt

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newDevice() (ble.Device, error) {
	dev, err := darwin.NewDevice(ble.OptPeripheralRole())
	if err != nil {
		if strings.Contains(err.Error(), "have=4") { // StatePoweredOff
			return nil, fmt.Errorf("Bluetooth is turned off - please enable Bluetooth and retry")
		}
		return nil, fmt.Errorf("create peripheral: %w", err)
	}
	return dev, nil
}
