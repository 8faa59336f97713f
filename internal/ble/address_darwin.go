package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// CoreBluetooth identifies peripherals by a per-host UUID rather than a MAC.
func parseAddress(address string) (bluetooth.Address, error) {
	u, err := bluetooth.ParseUUID(address)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("parse peripheral id %q: %w", address, err)
	}
	return bluetooth.Address{UUID: u}, nil
}
