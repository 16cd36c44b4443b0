package bridgetest

import (
	"sync"
	"sync/atomic"

	"github.com/pagevis/pagevis-go/pkg/gate"
)

// Readiness is a polled gate.ReadinessProvider.
type Readiness struct {
	connected atomic.Bool
}

var _ gate.ReadinessProvider = (*Readiness)(nil)

// NewReadiness creates a provider in the given state.
func NewReadiness(connected bool) *Readiness {
	r := &Readiness{}
	r.connected.Store(connected)
	return r
}

// IsConnected implements gate.ReadinessProvider.
func (r *Readiness) IsConnected() bool { return r.connected.Load() }

// Set changes the reported state.
func (r *Readiness) Set(connected bool) { r.connected.Store(connected) }

// Notifier is a gate.ReadinessNotifier that pushes on Set(true).
type Notifier struct {
	Readiness

	mu        sync.Mutex
	listeners map[uint64]func()
	next      uint64
}

var _ gate.ReadinessNotifier = (*Notifier)(nil)

// NewNotifier creates a pushing provider in the given state.
func NewNotifier(connected bool) *Notifier {
	n := &Notifier{listeners: make(map[uint64]func())}
	n.connected.Store(connected)
	return n
}

// NotifyConnected implements gate.ReadinessNotifier.
func (n *Notifier) NotifyConnected(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Set changes the reported state and notifies listeners on connect.
func (n *Notifier) Set(connected bool) {
	n.connected.Store(connected)
	if !connected {
		return
	}
	n.mu.Lock()
	fns := make([]func(), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Listeners returns the number of registered listeners.
func (n *Notifier) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
