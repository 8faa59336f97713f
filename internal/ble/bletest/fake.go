// Package bletest provides an in-memory BLE adapter and peripheral that record
// every lookup and write, for tests of code built on package ble.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/thereceipt/bleprint/internal/ble"
)

// Write modes recorded by the fake characteristic.
const (
	ModeNoResponse = "write-without-response"
	ModeResponse   = "write"
)

// Write is one recorded characteristic write.
type Write struct {
	Mode string
	Data []byte
}

// FailFunc decides whether a write fails. n is the zero-based index of the
// write call across both modes.
type FailFunc func(mode string, n int, data []byte) error

// Adapter is a scripted ble.Adapter.
type Adapter struct {
	mu           sync.Mutex
	EnableErr    error
	ConnectErr   error
	Ads          []ble.Advertisement
	peripherals  map[string]*Peripheral
	onDisconnect func(string)
	// ConnectBlock, when non-nil, is waited on by Connect before returning.
	ConnectBlock chan struct{}
	connects     []string
}

// NewAdapter returns an adapter that knows the given peripherals.
func NewAdapter(peripherals ...*Peripheral) *Adapter {
	a := &Adapter{peripherals: make(map[string]*Peripheral)}
	for _, p := range peripherals {
		a.peripherals[strings.ToUpper(p.address)] = p
		a.Ads = append(a.Ads, ble.Advertisement{Address: p.address, Name: p.Name})
	}
	return a
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.EnableErr
}

func (a *Adapter) Scan(ctx context.Context, filter ble.ScanFilter, found func(ble.Advertisement)) error {
	a.mu.Lock()
	ads := append([]ble.Advertisement(nil), a.Ads...)
	a.mu.Unlock()

	for _, ad := range ads {
		found(ad)
	}
	<-ctx.Done()
	return nil
}

func (a *Adapter) Connect(ctx context.Context, address string) (ble.Peripheral, error) {
	a.mu.Lock()
	block := a.ConnectBlock
	err := a.ConnectErr
	p, ok := a.peripherals[strings.ToUpper(address)]
	a.connects = append(a.connects, address)
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bletest: no peripheral %s", address)
	}
	p.setConnected(true)
	return p, nil
}

func (a *Adapter) SetDisconnectHandler(fn func(string)) {
	a.mu.Lock()
	a.onDisconnect = fn
	a.mu.Unlock()
}

// Connects returns the addresses passed to Connect, in order.
func (a *Adapter) Connects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

// DropLink simulates a hardware disconnect (power-off, range loss).
func (a *Adapter) DropLink(address string) {
	a.mu.Lock()
	p := a.peripherals[strings.ToUpper(address)]
	fn := a.onDisconnect
	a.mu.Unlock()

	if p != nil {
		p.setConnected(false)
	}
	if fn != nil {
		fn(address)
	}
}

// Peripheral is a scripted ble.Peripheral exposing a fixed GATT table.
type Peripheral struct {
	Name    string
	address string

	mu        sync.Mutex
	connected bool
	gatt      map[string][]string
	lookups   []string
	writes    []Write
	calls     int
	fail      FailFunc
	// OnWrite runs after every write attempt, successful or not.
	OnWrite func(n int)
	// DisconnectErr is returned by Disconnect.
	DisconnectErr error
	disconnects   int
}

// NewPeripheral returns a peripheral whose GATT table maps service UUIDs to
// characteristic UUIDs.
func NewPeripheral(address string, gatt map[string][]string) *Peripheral {
	norm := make(map[string][]string, len(gatt))
	for svc, chars := range gatt {
		for _, c := range chars {
			norm[ble.NormalizeUUID(svc)] = append(norm[ble.NormalizeUUID(svc)], ble.NormalizeUUID(c))
		}
		if len(chars) == 0 {
			norm[ble.NormalizeUUID(svc)] = nil
		}
	}
	return &Peripheral{address: address, gatt: norm}
}

// FailWrites installs fn as the write failure policy.
func (p *Peripheral) FailWrites(fn FailFunc) {
	p.mu.Lock()
	p.fail = fn
	p.mu.Unlock()
}

func (p *Peripheral) Address() string { return p.address }

func (p *Peripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Peripheral) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Peripheral) Service(uuid string) (ble.Service, error) {
	uuid = ble.NormalizeUUID(uuid)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lookups = append(p.lookups, "service:"+uuid)
	if _, ok := p.gatt[uuid]; !ok {
		return nil, fmt.Errorf("%w: service %s", ble.ErrNotFound, uuid)
	}
	return &service{p: p, uuid: uuid}, nil
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.disconnects++
	return p.DisconnectErr
}

// Disconnects returns how many times Disconnect was called.
func (p *Peripheral) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

// Lookups returns every service ("service:<uuid>") and characteristic
// ("characteristic:<svc>/<uuid>") lookup, in order.
func (p *Peripheral) Lookups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lookups...)
}

// Writes returns every successful write, in order.
func (p *Peripheral) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}

// Attempts returns the number of write calls, failed ones included.
func (p *Peripheral) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Bytes concatenates the payload of every successful write.
func (p *Peripheral) Bytes() []byte {
	var out []byte
	for _, w := range p.Writes() {
		out = append(out, w.Data...)
	}
	return out
}

func (p *Peripheral) write(mode string, data []byte) (int, error) {
	p.mu.Lock()
	n := p.calls
	p.calls++
	fail := p.fail
	connected := p.connected
	onWrite := p.OnWrite
	p.mu.Unlock()

	var err error
	switch {
	case !connected:
		err = errors.New("bletest: not connected")
	case fail != nil:
		err = fail(mode, n, data)
	}
	if err == nil {
		p.mu.Lock()
		p.writes = append(p.writes, Write{Mode: mode, Data: append([]byte(nil), data...)})
		p.mu.Unlock()
	}
	if onWrite != nil {
		onWrite(n)
	}
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

type service struct {
	p    *Peripheral
	uuid string
}

func (s *service) UUID() string { return s.uuid }

func (s *service) Characteristic(uuid string) (ble.Characteristic, error) {
	uuid = ble.NormalizeUUID(uuid)

	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	s.p.lookups = append(s.p.lookups, "characteristic:"+s.uuid+"/"+uuid)
	for _, c := range s.p.gatt[s.uuid] {
		if c == uuid {
			return &characteristic{p: s.p, uuid: uuid}, nil
		}
	}
	return nil, fmt.Errorf("%w: characteristic %s", ble.ErrNotFound, uuid)
}

type characteristic struct {
	p    *Peripheral
	uuid string
}

func (c *characteristic) UUID() string { return c.uuid }

func (c *characteristic) WriteWithoutResponse(data []byte) (int, error) {
	return c.p.write(ModeNoResponse, data)
}

func (c *characteristic) Write(data []byte) (int, error) {
	return c.p.write(ModeResponse, data)
}
