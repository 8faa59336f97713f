package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

// echoWindow bounds how long a platform disconnect callback is attributed to
// a link this process closed itself.
const echoWindow = 5 * time.Second

// TinyGoAdapter implements Adapter on top of tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	enabled      bool
	seen         map[string]bluetooth.Address
	peripherals  map[string]*tinygoPeripheral
	released     map[string]time.Time
	onDisconnect func(address string)
	now          func() time.Time
}

// NewTinyGoAdapter wraps the platform default adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		seen:        make(map[string]bluetooth.Address),
		peripherals: make(map[string]*tinygoPeripheral),
		released:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Enable powers on the adapter once and installs the connect handler.
func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	a.adapter.SetConnectHandler(a.handleConnect)
	a.enabled = true
	return nil
}

// SetDisconnectHandler registers the function called on link loss.
func (a *TinyGoAdapter) SetDisconnectHandler(fn func(address string)) {
	a.mu.Lock()
	a.onDisconnect = fn
	a.mu.Unlock()
}

func (a *TinyGoAdapter) handleConnect(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	a.linkDropped(d.Address.String())
}

// linkDropped handles a platform disconnect callback. A callback echoing a
// Disconnect issued here is swallowed once, so a late echo cannot mark a newer
// link to the same address as down.
func (a *TinyGoAdapter) linkDropped(address string) {
	key := addressKey(address)

	a.mu.Lock()
	if at, ok := a.released[key]; ok {
		delete(a.released, key)
		if a.now().Sub(at) < echoWindow {
			a.mu.Unlock()
			return
		}
	}
	p := a.peripherals[key]
	delete(a.peripherals, key)
	fn := a.onDisconnect
	a.mu.Unlock()

	if p != nil {
		p.connected.Store(false)
	}
	if fn != nil {
		fn(address)
	}
}

// release forgets p, if it is still the registered link for key, and records
// that a disconnect callback for key is expected.
func (a *TinyGoAdapter) release(key string, p *tinygoPeripheral) {
	a.mu.Lock()
	if p != nil && a.peripherals[key] == p {
		delete(a.peripherals, key)
	}
	a.released[key] = a.now()
	a.mu.Unlock()
}

// Scan runs a platform scan until ctx is done. tinygo's Scan blocks until
// StopScan is called, so it runs on its own goroutine.
func (a *TinyGoAdapter) Scan(ctx context.Context, filter ScanFilter, found func(Advertisement)) error {
	services := make([]bluetooth.UUID, 0, len(filter.Services))
	for _, s := range filter.Services {
		u, err := bluetooth.ParseUUID(NormalizeUUID(s))
		if err != nil {
			return fmt.Errorf("parse service uuid %q: %w", s, err)
		}
		services = append(services, u)
	}

	done := make(chan error, 1)
	go func() {
		done <- a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			adv, ok := matchScanResult(r, filter, services)
			if !ok {
				return
			}
			a.mu.Lock()
			a.seen[addressKey(adv.Address)] = r.Address
			a.mu.Unlock()
			found(adv)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := a.adapter.StopScan(); err != nil {
			return fmt.Errorf("stop scan: %w", err)
		}
		return <-done
	}
}

func matchScanResult(r bluetooth.ScanResult, filter ScanFilter, services []bluetooth.UUID) (Advertisement, bool) {
	adv := Advertisement{
		Address: r.Address.String(),
		Name:    r.LocalName(),
		RSSI:    r.RSSI,
	}
	for _, u := range services {
		if r.HasServiceUUID(u) {
			adv.Services = append(adv.Services, u.String())
		}
	}
	if len(filter.Services) == 0 && len(filter.Names) == 0 {
		return adv, true
	}
	if len(adv.Services) > 0 {
		return adv, true
	}
	for _, n := range filter.Names {
		if n != "" && strings.EqualFold(n, adv.Name) {
			return adv, true
		}
	}
	return adv, false
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Connect opens a GATT connection. tinygo's Connect takes no context, so a
// connect that completes after ctx expired is torn down in the background.
func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Peripheral, error) {
	addr, err := a.resolveAddress(address)
	if err != nil {
		return nil, err
	}

	ch := make(chan connectResult, 1)
	go func() {
		d, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device: d, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				a.release(addressKey(address), nil)
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, r.err)
		}
		p := &tinygoPeripheral{device: r.device, address: address, adapter: a}
		p.connected.Store(true)

		a.mu.Lock()
		a.peripherals[addressKey(address)] = p
		a.mu.Unlock()
		return p, nil
	}
}

func (a *TinyGoAdapter) resolveAddress(address string) (bluetooth.Address, error) {
	a.mu.Lock()
	addr, ok := a.seen[addressKey(address)]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}
	return parseAddress(address)
}

func addressKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

type tinygoPeripheral struct {
	device    bluetooth.Device
	address   string
	adapter   *TinyGoAdapter
	connected atomic.Bool
}

func (p *tinygoPeripheral) Address() string { return p.address }

func (p *tinygoPeripheral) Connected() bool { return p.connected.Load() }

func (p *tinygoPeripheral) Service(uuid string) (Service, error) {
	u, err := bluetooth.ParseUUID(NormalizeUUID(uuid))
	if err != nil {
		return nil, fmt.Errorf("parse service uuid %q: %w", uuid, err)
	}
	services, err := p.device.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("%w: service %s: %w", ErrNotFound, uuid, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: service %s", ErrNotFound, uuid)
	}
	return &tinygoService{service: services[0], address: p.address}, nil
}

func (p *tinygoPeripheral) Disconnect() error {
	p.markClosed()
	return p.device.Disconnect()
}

// markClosed flags the link down. Only a link that was still up expects a
// disconnect callback, so only that one is released on the adapter.
func (p *tinygoPeripheral) markClosed() {
	if p.connected.Swap(false) && p.adapter != nil {
		p.adapter.release(addressKey(p.address), p)
	}
}

type tinygoService struct {
	service bluetooth.DeviceService
	address string
}

func (s *tinygoService) UUID() string { return s.service.UUID().String() }

func (s *tinygoService) Characteristic(uuid string) (Characteristic, error) {
	u, err := bluetooth.ParseUUID(NormalizeUUID(uuid))
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid %q: %w", uuid, err)
	}
	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("%w: characteristic %s: %w", ErrNotFound, uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotFound, uuid)
	}
	return &tinygoCharacteristic{char: chars[0], address: s.address, service: s.UUID()}, nil
}

type tinygoCharacteristic struct {
	char    bluetooth.DeviceCharacteristic
	address string
	service string

	// BlueZ object path of the characteristic, resolved on first acknowledged write.
	mu   sync.Mutex
	path string
}

func (c *tinygoCharacteristic) UUID() string { return c.char.UUID().String() }

func (c *tinygoCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}
