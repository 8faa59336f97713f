// Package ble is the narrow slice of the platform Bluetooth Low-Energy stack the
// printer needs: scanning, connecting, resolving GATT services and characteristics,
// and writing to a characteristic.
package ble

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a service or characteristic lookup does not resolve.
	ErrNotFound = errors.New("ble: attribute not found")

	// ErrWriteModeUnsupported is returned by Characteristic.Write on platforms
	// that expose no acknowledged write.
	ErrWriteModeUnsupported = errors.New("ble: acknowledged write not supported on this platform")
)

// Advertisement is one scan result.
type Advertisement struct {
	Address  string
	Name     string
	RSSI     int16
	Services []string // advertised service UUIDs that matched the scan filter
}

// ScanFilter narrows which advertisements are reported.
// An advertisement matches when it advertises any of Services or its name
// equals one of Names. An empty filter matches everything.
type ScanFilter struct {
	Services []string
	Names    []string
}

// Adapter is the local radio.
type Adapter interface {
	// Enable powers on the radio. It fails when no radio or BLE API is present.
	Enable() error

	// Scan reports matching advertisements to found until ctx is done.
	Scan(ctx context.Context, filter ScanFilter, found func(Advertisement)) error

	// Connect opens a GATT connection to address.
	Connect(ctx context.Context, address string) (Peripheral, error)

	// SetDisconnectHandler registers fn to be called when a peripheral drops its link.
	SetDisconnectHandler(fn func(address string))
}

// Peripheral is a connected remote device.
type Peripheral interface {
	Address() string

	// Connected reports whether the platform still considers the link up.
	Connected() bool

	// Service resolves a single primary service by UUID.
	Service(uuid string) (Service, error)

	Disconnect() error
}

// Service is a resolved GATT service.
type Service interface {
	UUID() string

	// Characteristic resolves a single characteristic by UUID.
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is a resolved GATT characteristic. Capability flags are
// deliberately absent: printers misreport them, writability is proven by writing.
type Characteristic interface {
	UUID() string

	// WriteWithoutResponse writes p without waiting for an acknowledgement.
	WriteWithoutResponse(p []byte) (int, error)

	// Write writes p and waits for the peripheral to acknowledge it.
	Write(p []byte) (int, error)
}

// Expand16 turns a 16-bit assigned number such as "18f0" into the full
// Bluetooth base UUID form.
func Expand16(short string) string {
	return "0000" + strings.ToLower(short) + "-0000-1000-8000-00805f9b34fb"
}

// NormalizeUUID lowercases u and expands 16-bit forms.
func NormalizeUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 4 {
		return Expand16(u)
	}
	return u
}
