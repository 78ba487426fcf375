//go:build !linux

package controller

import "errors"

type unsupportedAdapter struct{}

func (unsupportedAdapter) Enable() error { return errors.New("controller: bluez requires linux") }

func (unsupportedAdapter) Address() (string, error) { return "", errors.New("controller: bluez requires linux") }

// AdapterFor returns an adapter that always fails; hci_user controllers
// are Linux only.
func AdapterFor(device int) Adapter {
	return unsupportedAdapter{}
}
