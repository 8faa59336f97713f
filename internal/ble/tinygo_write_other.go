//go:build !darwin && !windows && !linux

package ble

func (c *tinygoCharacteristic) Write(p []byte) (int, error) {
	return 0, ErrWriteModeUnsupported
}
