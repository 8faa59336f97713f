// Package printer owns the Bluetooth printer connection: discovery, the
// connection state machine, chunked transmission and serialized print jobs.
package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/ble"
	"github.com/thereceipt/bleprint/internal/registry"
)

// EventKind distinguishes connection events.
type EventKind int

const (
	// EventDisconnected is raised by the platform when a link drops.
	EventDisconnected EventKind = iota
	// EventError reports a link-level fault that leaves the link up.
	EventError
)

func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "disconnected"
}

// ConnectionEvent is a platform notification about a peripheral.
type ConnectionEvent struct {
	Kind    EventKind
	Address string
	Err     error
	At      time.Time
}

// PrinterDevice identifies a printer chosen from a scan.
type PrinterDevice struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int16  `json:"rssi"`
}

// Link describes the live connection.
type Link struct {
	PrinterID string        `json:"printer_id,omitempty"`
	Device    PrinterDevice `json:"device"`
	Candidate Candidate     `json:"candidate"`
	Since     time.Time     `json:"since"`
}

// ManagerConfig tunes connection behaviour.
type ManagerConfig struct {
	Candidates     []Candidate
	SettleDelay    time.Duration // pause after tearing down a previous link
	ConnectTimeout time.Duration // bounds connect plus probe; zero means none
}

type link struct {
	info       Link
	peripheral ble.Peripheral
	char       ble.Characteristic
}

// Manager holds at most one live printer link and drives the connection
// state machine. Hardware disconnects arrive as ConnectionEvents and are
// applied by Run.
type Manager struct {
	adapter   ble.Adapter
	registry  *registry.Registry
	publisher *Publisher
	log       *zap.Logger
	cfg       ManagerConfig
	events    chan ConnectionEvent
	now       func() time.Time

	connectMu sync.Mutex // one connect or disconnect at a time
	mu        sync.Mutex
	link      *link
	// set by Disconnect, cleared by the next Connect; suppresses auto-reconnect
	held bool
}

// errHeld is returned by reconnect while the link is down on request.
var errHeld = errors.New("disconnected on request")

// NewManager wires a manager to adapter. reg may be nil.
func NewManager(adapter ble.Adapter, reg *registry.Registry, publisher *Publisher, cfg ManagerConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if publisher == nil {
		publisher = NewPublisher()
	}
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = Chain(DefaultProfiles)
	}

	m := &Manager{
		adapter:   adapter,
		registry:  reg,
		publisher: publisher,
		log:       log.Named("connection"),
		cfg:       cfg,
		events:    make(chan ConnectionEvent, 16),
		now:       time.Now,
	}
	adapter.SetDisconnectHandler(m.onPlatformDisconnect)
	return m
}

// Publisher returns the status publisher.
func (m *Manager) Publisher() *Publisher {
	return m.publisher
}

// Status returns the last published status.
func (m *Manager) Status() Status {
	return m.publisher.Status()
}

// Link returns the live link, or false when disconnected.
func (m *Manager) Link() (Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return Link{}, false
	}
	return m.link.info, true
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.publisher.Status().State
}

func (m *Manager) onPlatformDisconnect(address string) {
	m.Notify(ConnectionEvent{Kind: EventDisconnected, Address: address, At: m.now()})
}

// Notify queues ev for Run without blocking the caller.
func (m *Manager) Notify(ev ConnectionEvent) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	select {
	case m.events <- ev:
	default:
		// The platform callback must not block; deliver late rather than drop.
		go func() { m.events <- ev }()
	}
}

// Run applies connection events until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev ConnectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.link
	if l == nil || !strings.EqualFold(l.info.Device.Address, ev.Address) {
		m.log.Debug("ignoring event for inactive device", zap.Stringer("kind", ev.Kind), zap.String("address", ev.Address))
		return
	}

	switch ev.Kind {
	case EventError:
		msg := "link error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		m.log.Warn("printer link error", zap.String("address", ev.Address), zap.Error(ev.Err))
		// A running job reports its own outcome.
		if m.publisher.Status().State != StatePrinting {
			m.transition(StateError, msg)
		}
	case EventDisconnected:
		if l.peripheral.Connected() {
			m.log.Debug("ignoring stale disconnect", zap.String("address", ev.Address))
			return
		}
		m.link = nil
		m.log.Warn("printer link lost", zap.String("address", ev.Address))
		m.transition(StateDisconnected, "")
	}
}

// transition must be called with mu held so status changes publish in order.
func (m *Manager) transition(state State, errMsg string) {
	m.publisher.publish(statusFor(state, errMsg))
}

// Connect opens a link to dev, replacing any live link. The negotiated
// characteristic is the first candidate that resolves.
func (m *Manager) Connect(ctx context.Context, dev PrinterDevice) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	return m.connect(ctx, dev)
}

// reconnect is Connect for automatic reconnection. It does nothing while the
// link is down because of an explicit Disconnect.
func (m *Manager) reconnect(ctx context.Context, address string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.Held() {
		return errHeld
	}
	return m.connect(ctx, m.deviceFor(address))
}

// Held reports whether the link was closed by Disconnect and has not been
// reopened since.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

func (m *Manager) connect(ctx context.Context, dev PrinterDevice) error {
	had, err := m.teardown(true)
	if err != nil {
		return err
	}
	if had {
		if err := sleepCtx(ctx, m.cfg.SettleDelay); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.held = false
	m.transition(StateConnecting, "")
	m.mu.Unlock()

	log := m.log.With(zap.String("address", dev.Address), zap.String("name", dev.Name))
	log.Info("connecting to printer")

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	l, err := m.open(ctx, dev)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", ErrConnectTimeout, dev.Address, m.cfg.ConnectTimeout)
		}
		log.Warn("connect failed", zap.Error(err))
		m.mu.Lock()
		m.transition(StateDisconnected, err.Error())
		m.mu.Unlock()
		return err
	}

	if m.registry != nil {
		id, err := m.registry.Remember(registry.PrinterInfo{
			Address:        dev.Address,
			AdvertisedName: dev.Name,
			Profile:        l.info.Candidate.Profile,
			Service:        l.info.Candidate.Service,
			Characteristic: l.info.Candidate.Characteristic,
		}, l.info.Since)
		if err != nil {
			log.Warn("failed to record printer", zap.Error(err))
		}
		l.info.PrinterID = id
	}

	m.mu.Lock()
	m.link = l
	m.transition(StateConnected, "")
	m.mu.Unlock()

	log.Info("printer connected",
		zap.String("profile", l.info.Candidate.Profile),
		zap.String("service", l.info.Candidate.Service),
		zap.String("characteristic", l.info.Candidate.Characteristic))
	return nil
}

// ConnectAddress connects to a known address, using the registry for the
// display name when there is one.
func (m *Manager) ConnectAddress(ctx context.Context, address string) error {
	return m.Connect(ctx, m.deviceFor(address))
}

func (m *Manager) deviceFor(address string) PrinterDevice {
	dev := PrinterDevice{Address: address}
	if m.registry != nil {
		if e := m.registry.FindByAddress(address); e != nil {
			dev.Name = e.AdvertisedName
		}
	}
	return dev
}

func (m *Manager) open(ctx context.Context, dev PrinterDevice) (*link, error) {
	p, err := m.adapter.Connect(ctx, dev.Address)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dev.Address, err)
	}

	char, cand, err := probe(ctx, p, m.cfg.Candidates, m.log)
	if err != nil {
		if derr := p.Disconnect(); derr != nil {
			m.log.Debug("disconnect after failed probe", zap.Error(derr))
		}
		return nil, err
	}

	return &link{
		info: Link{
			Device:    dev,
			Candidate: cand,
			Since:     m.now(),
		},
		peripheral: p,
		char:       char,
	}, nil
}

// probe walks the candidate chain in order and returns the first
// characteristic that resolves. Each service is looked up at most once.
func probe(ctx context.Context, p ble.Peripheral, chain []Candidate, log *zap.Logger) (ble.Characteristic, Candidate, error) {
	services := make(map[string]ble.Service)
	missing := make(map[string]bool)

	for _, c := range chain {
		if err := ctx.Err(); err != nil {
			return nil, Candidate{}, err
		}
		if missing[c.Service] {
			continue
		}

		svc, ok := services[c.Service]
		if !ok {
			s, err := p.Service(c.Service)
			if err != nil {
				log.Debug("service not present", zap.String("service", c.Service), zap.Error(err))
				missing[c.Service] = true
				continue
			}
			services[c.Service] = s
			svc = s
		}

		char, err := svc.Characteristic(c.Characteristic)
		if err != nil {
			log.Debug("characteristic not present",
				zap.String("service", c.Service),
				zap.String("characteristic", c.Characteristic),
				zap.Error(err))
			continue
		}
		return char, c, nil
	}
	return nil, Candidate{}, ErrUnsupportedDevice
}

// Disconnect closes the live link, if any, and reports Disconnected. The
// link stays down until the next Connect; a Monitor does not reopen it.
func (m *Manager) Disconnect() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	m.held = true
	m.mu.Unlock()

	_, err := m.teardown(false)
	return err
}

// teardown disconnects the live link and clears it. It reports whether
// there was one. With refuseBusy it fails with ErrPrinterBusy while a job is
// printing; the check and the detach share one critical section with
// beginJob, so no job can start in between.
func (m *Manager) teardown(refuseBusy bool) (bool, error) {
	m.mu.Lock()
	if refuseBusy && m.publisher.Status().State == StatePrinting {
		m.mu.Unlock()
		return false, ErrPrinterBusy
	}
	l := m.link
	m.link = nil
	m.mu.Unlock()

	if l == nil {
		return false, nil
	}

	if err := l.peripheral.Disconnect(); err != nil {
		m.log.Warn("gatt disconnect failed", zap.String("address", l.info.Device.Address), zap.Error(err))
	}

	m.mu.Lock()
	m.transition(StateDisconnected, "")
	m.mu.Unlock()
	m.log.Info("printer disconnected", zap.String("address", l.info.Device.Address))
	return true, nil
}

// beginJob validates the link and moves to Printing.
func (m *Manager) beginJob() (*link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.link
	if l == nil {
		return nil, ErrNotConnected
	}
	if !l.peripheral.Connected() {
		m.link = nil
		m.transition(StateDisconnected, ErrConnectionLost.Error())
		return nil, ErrConnectionLost
	}
	if m.publisher.Status().State == StatePrinting {
		return nil, ErrPrinterBusy
	}
	m.transition(StatePrinting, "")
	return l, nil
}

// endJob leaves Printing for Connected, or Error when the job failed
// pervasively. A link that changed or dropped during the job is not resurrected.
func (m *Manager) endJob(l *link, pervasive bool, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link != l {
		return
	}
	switch {
	case !l.peripheral.Connected():
		m.link = nil
		m.transition(StateDisconnected, ErrConnectionLost.Error())
	case pervasive:
		m.transition(StateError, errMsg)
	default:
		m.transition(StateConnected, errMsg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
