//go:build linux

package controller

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// bluezAdapter wraps a tinygo-org/bluetooth adapter, which talks to BlueZ
// over D-Bus on Linux.
type bluezAdapter struct {
	adapter *bluetooth.Adapter
}

func (a bluezAdapter) Enable() error { return a.adapter.Enable() }

func (a bluezAdapter) Address() (string, error) {
	mac, err := a.adapter.Address()
	if err != nil {
		return "", err
	}
	return mac.String(), nil
}

// AdapterFor returns the BlueZ adapter for hci<device>.
func AdapterFor(device int) Adapter {
	return bluezAdapter{adapter: bluetooth.NewAdapter(fmt.Sprintf("hci%d", device))}
}
