package printer

import (
	"encoding/json"
	"sync"
)

// State is the connection state machine.
//
//	Disconnected -> Connecting -> Connected -> Printing -> Connected
//
// A hardware disconnect moves any state to Disconnected. Error is Connected
// after a job that failed pervasively; the next job may still run.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePrinting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePrinting:
		return "printing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is the last-known printer status shown to UI indicators.
type Status struct {
	State     State  `json:"state"`
	Connected bool   `json:"connected"`
	Printing  bool   `json:"printing"`
	Error     string `json:"error,omitempty"`
}

func statusFor(state State, errMsg string) Status {
	return Status{
		State:     state,
		Connected: state == StateConnected || state == StatePrinting || state == StateError,
		Printing:  state == StatePrinting,
		Error:     errMsg,
	}
}

// Publisher holds the current Status and notifies subscribers synchronously
// on every change. Subscribers see only changes made after they subscribe.
// A subscriber must not change printer state from inside its callback.
type Publisher struct {
	notifyMu sync.Mutex // orders notifications
	mu       sync.Mutex
	status   Status
	subs     map[int]func(Status)
	nextID   int
}

// NewPublisher starts in the Disconnected state.
func NewPublisher() *Publisher {
	return &Publisher{
		status: statusFor(StateDisconnected, ""),
		subs:   make(map[int]func(Status)),
	}
}

// Status returns the current status.
func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Subscribe registers fn and returns a function that removes it.
func (p *Publisher) Subscribe(fn func(Status)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// publish stores s and notifies every subscriber if it differs from the
// current status. It reports whether anything changed.
func (p *Publisher) publish(s Status) bool {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return false
	}
	p.status = s
	subs := make([]func(Status), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return true
}
