//go:build !linux

package transport

import (
	"errors"
	"time"
)

// HCISocket is only available on Linux.
type HCISocket struct{ Endpoint }

// OpenHCIUser is not supported on this platform.
func OpenHCIUser(dev int, readTimeout time.Duration) (*HCISocket, error) {
	return nil, errors.New("transport: hci user channel requires linux")
}

// CycleHCIDevice is not supported on this platform.
func CycleHCIDevice(dev int) error {
	return errors.New("transport: hci device control requires linux")
}
