//go:build !darwin && !linux

package gatt

import (
	"errors"

	"github.com/go-ble/ble"
)

func newDevice() (ble.Device, error) {
	return nil, errors.New("BLE peripheral is not supported on this platform")
}
