//go:build darwin || windows

package ble

func (c *tinygoCharacteristic) Write(p []byte) (int, error) {
	return c.char.Write(p)
}
