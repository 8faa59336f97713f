package printer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor reconnects to the remembered printer whenever the link is down,
// unless it was brought down by Manager.Disconnect.
type Monitor struct {
	manager  *Manager
	address  func() string
	interval time.Duration
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
}

// NewMonitor polls every interval. address returns the printer to reconnect
// to, or "" to stay idle.
func NewMonitor(manager *Manager, address func() string, interval time.Duration, log *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = zap.NewNop()
	}

	return &Monitor{
		manager:  manager,
		address:  address,
		interval: interval,
		log:      log.Named("monitor"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins monitoring the link
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.check()
			}
		}
	}()
}

// Stop stops the monitor and waits for an in-flight reconnect.
func (m *Monitor) Stop() {
	m.cancel()
	if m.started.Load() {
		<-m.done
	}
}

func (m *Monitor) check() {
	if m.manager.State() != StateDisconnected || m.manager.Held() {
		return
	}
	addr := m.address()
	if addr == "" {
		return
	}

	m.log.Debug("reconnecting", zap.String("address", addr))
	if err := m.manager.reconnect(m.ctx, addr); err != nil {
		if !errors.Is(err, errHeld) {
			m.log.Debug("reconnect failed", zap.String("address", addr), zap.Error(err))
		}
		return
	}
	m.log.Info("reconnected", zap.String("address", addr))
}
