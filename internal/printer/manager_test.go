package printer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/bleprint/internal/ble"
	"github.com/thereceipt/bleprint/internal/ble/bletest"
	"github.com/thereceipt/bleprint/internal/registry"
)

const testAddr = "AA:BB:CC:DD:EE:01"

type rig struct {
	adapter    *bletest.Adapter
	peripheral *bletest.Peripheral
	manager    *Manager
	registry   *registry.Registry
}

func newRig(t *testing.T, gatt map[string][]string) *rig {
	t.Helper()
	p := bletest.NewPeripheral(testAddr, gatt)
	p.Name = "MTP-II"
	a := bletest.NewAdapter(p)
	reg, err := registry.New("")
	require.NoError(t, err)

	m := NewManager(a, reg, nil, ManagerConfig{}, nil)
	return &rig{adapter: a, peripheral: p, manager: m, registry: reg}
}

func standardGATT() map[string][]string {
	return map[string][]string{"18f0": {"2af1"}}
}

func (r *rig) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, r.manager.Connect(context.Background(), PrinterDevice{Address: testAddr, Name: "MTP-II"}))
}

func (r *rig) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.manager.Run(ctx)
}

type statusLog struct {
	mu  sync.Mutex
	all []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	l.all = append(l.all, s)
	l.mu.Unlock()
}

func (l *statusLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.all))
	for i, s := range l.all {
		out[i] = s.State
	}
	return out
}

func TestConnect_FirstCandidate(t *testing.T) {
	r := newRig(t, standardGATT())
	log := &statusLog{}
	r.manager.Publisher().Subscribe(log.record)

	r.connect(t)

	st := r.manager.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.Printing)
	assert.Empty(t, st.Error)
	assert.Equal(t, []State{StateConnecting, StateConnected}, log.states())

	link, ok := r.manager.Link()
	require.True(t, ok)
	assert.Equal(t, ble.Expand16("2af1"), link.Candidate.Characteristic)
	assert.Equal(t, "MTP-II", link.Device.Name)
}

func TestConnect_ProbeShortCircuits(t *testing.T) {
	svc := "e7810a71-73ae-499d-8c15-faa9aef0c3f2"
	char := "bef8d6c9-9c21-4c9e-b632-bd58c1009f9f"
	r := newRig(t, map[string][]string{svc: {char}})

	r.connect(t)

	// Service #1 is absent, service #2 resolves with its first
	// characteristic, and nothing after it is touched.
	assert.Equal(t, []string{
		"service:" + ble.Expand16("18f0"),
		"service:" + svc,
		"characteristic:" + svc + "/" + char,
	}, r.peripheral.Lookups())
}

func TestConnect_FallsThroughCharacteristics(t *testing.T) {
	r := newRig(t, map[string][]string{"ff00": {"ff01"}})

	r.connect(t)

	ff00 := ble.Expand16("ff00")
	assert.Equal(t, []string{
		"service:" + ble.Expand16("18f0"),
		"service:e7810a71-73ae-499d-8c15-faa9aef0c3f2",
		"service:49535343-fe7d-4ae5-8fa9-9fafd205e455",
		"service:" + ff00,
		"characteristic:" + ff00 + "/" + ble.Expand16("ff02"),
		"characteristic:" + ff00 + "/" + ble.Expand16("ff01"),
	}, r.peripheral.Lookups())

	link, ok := r.manager.Link()
	require.True(t, ok)
	assert.Equal(t, "ff00", link.Candidate.Profile)
}

func TestConnect_UnsupportedDevice(t *testing.T) {
	r := newRig(t, map[string][]string{"180a": {"2a29"}})

	err := r.manager.Connect(context.Background(), PrinterDevice{Address: testAddr})
	require.ErrorIs(t, err, ErrUnsupportedDevice)

	st := r.manager.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, StateDisconnected, st.State)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 1, r.peripheral.Disconnects())

	_, ok := r.manager.Link()
	assert.False(t, ok)
}

func TestConnect_Timeout(t *testing.T) {
	p := bletest.NewPeripheral(testAddr, standardGATT())
	a := bletest.NewAdapter(p)
	a.ConnectBlock = make(chan struct{})
	m := NewManager(a, nil, nil, ManagerConfig{ConnectTimeout: 20 * time.Millisecond}, nil)

	err := m.Connect(context.Background(), PrinterDevice{Address: testAddr})
	require.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnect_ReplacesLiveLink(t *testing.T) {
	first := bletest.NewPeripheral(testAddr, standardGATT())
	second := bletest.NewPeripheral("AA:BB:CC:DD:EE:02", standardGATT())
	a := bletest.NewAdapter(first, second)
	m := NewManager(a, nil, nil, ManagerConfig{SettleDelay: time.Millisecond}, nil)

	require.NoError(t, m.Connect(context.Background(), PrinterDevice{Address: testAddr}))
	require.NoError(t, m.Connect(context.Background(), PrinterDevice{Address: "AA:BB:CC:DD:EE:02"}))

	assert.Equal(t, 1, first.Disconnects())
	assert.False(t, first.Connected())
	link, ok := m.Link()
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", link.Device.Address)
	assert.True(t, m.Status().Connected)
}

func TestConnect_BusyWhilePrinting(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)

	l, err := r.manager.beginJob()
	require.NoError(t, err)

	err = r.manager.Connect(context.Background(), PrinterDevice{Address: testAddr})
	require.ErrorIs(t, err, ErrPrinterBusy)
	assert.Zero(t, r.peripheral.Disconnects())
	_, ok := r.manager.Link()
	assert.True(t, ok, "live link survives a refused connect")
	assert.Equal(t, StatePrinting, r.manager.State())

	r.manager.endJob(l, false, "")
	assert.Equal(t, StateConnected, r.manager.State())
}

func TestConnect_RecordsNegotiatedPair(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)

	entry := r.registry.FindByAddress(testAddr)
	require.NotNil(t, entry)
	assert.Equal(t, ble.Expand16("18f0"), entry.Service)
	assert.Equal(t, ble.Expand16("2af1"), entry.Characteristic)
	assert.Equal(t, "MTP-II", entry.AdvertisedName)

	link, _ := r.manager.Link()
	assert.Equal(t, entry.ID, link.PrinterID)
}

func TestConnectAddress_UsesRememberedName(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)
	require.NoError(t, r.manager.Disconnect())

	require.NoError(t, r.manager.ConnectAddress(context.Background(), testAddr))
	link, ok := r.manager.Link()
	require.True(t, ok)
	assert.Equal(t, "MTP-II", link.Device.Name)
}

func TestHardwareDisconnect_FlipsStatusOnce(t *testing.T) {
	r := newRig(t, standardGATT())
	r.run(t)
	r.connect(t)

	log := &statusLog{}
	r.manager.Publisher().Subscribe(log.record)

	r.adapter.DropLink(testAddr)
	r.adapter.DropLink(testAddr)

	require.Eventually(t, func() bool {
		return r.manager.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []State{StateDisconnected}, log.states())
	_, ok := r.manager.Link()
	assert.False(t, ok)
}

func TestHandleEvent_IgnoresOtherDevices(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)

	r.manager.handleEvent(ConnectionEvent{Kind: EventDisconnected, Address: "11:22:33:44:55:66"})
	assert.Equal(t, StateConnected, r.manager.State())
}

func TestHandleEvent_IgnoresStaleDisconnect(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)

	// The peripheral still reports a live link.
	r.manager.handleEvent(ConnectionEvent{Kind: EventDisconnected, Address: testAddr})
	assert.Equal(t, StateConnected, r.manager.State())
}

func TestHandleEvent_Error(t *testing.T) {
	r := newRig(t, standardGATT())
	r.connect(t)

	r.manager.handleEvent(ConnectionEvent{Kind: EventError, Address: testAddr})
	st := r.manager.Status()
	assert.Equal(t, StateError, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, "link error", st.Error)
}

func TestDisconnect(t *testing.T) {
	r := newRig(t, standardGATT())
	require.NoError(t, r.manager.Disconnect(), "disconnect without a link is a no-op")

	r.connect(t)
	require.NoError(t, r.manager.Disconnect())

	assert.Equal(t, 1, r.peripheral.Disconnects())
	assert.Equal(t, StateDisconnected, r.manager.State())

	// The platform's own disconnect notification arrives afterwards.
	r.manager.handleEvent(ConnectionEvent{Kind: EventDisconnected, Address: testAddr})
	assert.Equal(t, StateDisconnected, r.manager.State())
}

func TestDisconnect_HoldsUntilNextConnect(t *testing.T) {
	r := newRig(t, standardGATT())
	assert.False(t, r.manager.Held())

	r.connect(t)
	require.NoError(t, r.manager.Disconnect())
	assert.True(t, r.manager.Held())

	require.ErrorIs(t, r.manager.reconnect(context.Background(), testAddr), errHeld)
	assert.Len(t, r.adapter.Connects(), 1)

	r.connect(t)
	assert.False(t, r.manager.Held())
	require.NoError(t, r.manager.reconnect(context.Background(), testAddr))
	assert.Len(t, r.adapter.Connects(), 3)
}

func TestPublisher(t *testing.T) {
	p := NewPublisher()
	assert.Equal(t, StateDisconnected, p.Status().State)

	log := &statusLog{}
	unsubscribe := p.Subscribe(log.record)

	assert.True(t, p.publish(statusFor(StateConnecting, "")))
	assert.False(t, p.publish(statusFor(StateConnecting, "")), "unchanged status is not republished")
	p.publish(statusFor(StateConnected, ""))

	late := &statusLog{}
	p.Subscribe(late.record)
	assert.Empty(t, late.states(), "subscribers get no replay")

	unsubscribe()
	unsubscribe()
	p.publish(statusFor(StatePrinting, ""))

	assert.Equal(t, []State{StateConnecting, StateConnected}, log.states())
	assert.Equal(t, []State{StatePrinting}, late.states())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, Status{State: StatePrinting, Connected: true, Printing: true}, statusFor(StatePrinting, ""))
	assert.Equal(t, Status{State: StateError, Connected: true, Error: "x"}, statusFor(StateError, "x"))
	assert.False(t, statusFor(StateConnecting, "").Connected)
}

func TestChain(t *testing.T) {
	chain := Chain([]Profile{
		{Name: "a", Service: "FF00", Characteristics: []string{"ff02", "ff01"}},
		{Name: "b", Service: "ae30", Characteristics: []string{"ae01"}},
	})
	require.Len(t, chain, 3)
	assert.Equal(t, ble.Expand16("ff00"), chain[0].Service)
	assert.Equal(t, ble.Expand16("ff01"), chain[1].Characteristic)
	assert.Equal(t, []string{ble.Expand16("ff00"), ble.Expand16("ae30")}, ServiceUUIDs(chain))
}
