//go:build !darwin

package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

func parseAddress(address string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(strings.ToUpper(strings.TrimSpace(address)))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("parse address %q: %w", address, err)
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}
