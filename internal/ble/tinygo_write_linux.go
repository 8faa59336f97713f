package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName        = "org.bluez"
	bluezCharacteristic = "org.bluez.GattCharacteristic1"
	bluezGattService    = "org.bluez.GattService1"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Write sends a BlueZ WriteValue of type "request", which waits for the
// peripheral's write response. tinygo only exposes the command form on Linux,
// so the call goes to the characteristic's D-Bus object directly.
func (c *tinygoCharacteristic) Write(p []byte) (int, error) {
	obj, err := c.bluezObject()
	if err != nil {
		return 0, err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	if err := obj.Call(bluezCharacteristic+".WriteValue", 0, p, opts).Err; err != nil {
		return 0, fmt.Errorf("write value: %w", err)
	}
	return len(p), nil
}

func (c *tinygoCharacteristic) bluezObject() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		var objects managedObjects
		err := conn.Object(bluezBusName, "/").
			Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
			Store(&objects)
		if err != nil {
			return nil, fmt.Errorf("list bluez objects: %w", err)
		}
		path, ok := characteristicPath(objects, c.address, c.service, c.UUID())
		if !ok {
			return nil, fmt.Errorf("%w: bluez object for characteristic %s", ErrNotFound, c.UUID())
		}
		c.path = string(path)
	}
	return conn.Object(bluezBusName, dbus.ObjectPath(c.path)), nil
}

// characteristicPath finds the characteristic object with UUID char that
// belongs to the device at address and to the service with UUID service.
func characteristicPath(objects managedObjects, address, service, char string) (dbus.ObjectPath, bool) {
	device := "/dev_" + strings.ReplaceAll(addressKey(address), ":", "_") + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezCharacteristic]
		if !ok || !strings.Contains(string(path), device) {
			continue
		}
		if !uuidEqual(props["UUID"], char) {
			continue
		}
		svcPath, _ := props["Service"].Value().(dbus.ObjectPath)
		if svc, ok := objects[svcPath][bluezGattService]; ok && !uuidEqual(svc["UUID"], service) {
			continue
		}
		return path, true
	}
	return "", false
}

func uuidEqual(v dbus.Variant, want string) bool {
	s, ok := v.Value().(string)
	return ok && NormalizeUUID(s) == NormalizeUUID(want)
}
