package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// DefaultConnectTimeout bounds each reconnection attempt.
const DefaultConnectTimeout = 10 * time.Second

// State represents the host channel state.
type State uint8

const (
	// StateDisconnected indicates no usable channel.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates the channel is usable.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish a connection.
// It should return nil on success or an error on failure.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Backoff configures delays between reconnection attempts.
	Backoff BackoffConfig

	// ConnectTimeout bounds each reconnection attempt.
	// Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// DisableAutoReconnect turns off reconnection after a loss.
	DisableAutoReconnect bool

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives state change events. Nil disables them.
	EventLogger log.Logger

	// SessionID tags every emitted event.
	SessionID string
}

// Manager tracks the channel to the adapter host and reconnects with
// backoff when it is lost. It serves as the readiness source for a gate.
type Manager struct {
	mu sync.RWMutex

	state         State
	backoff       *Backoff
	connectFn     ConnectFunc
	autoReconnect bool
	timeout       time.Duration

	logger  *slog.Logger
	events  log.Logger
	session string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	// readiness listeners registered through NotifyConnected
	listeners    map[uint64]func()
	nextListener uint64

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

var _ gate.ReadinessNotifier = (*Manager)(nil)

// NewManager creates a manager with default settings.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, Config{Backoff: DefaultBackoffConfig()})
}

// NewManagerWithConfig creates a manager with custom settings.
func NewManagerWithConfig(connectFn ConnectFunc, cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state:         StateDisconnected,
		backoff:       NewBackoffWithConfig(cfg.Backoff),
		connectFn:     connectFn,
		autoReconnect: !cfg.DisableAutoReconnect,
		timeout:       cfg.ConnectTimeout,
		logger:        cfg.Logger.With("component", "connection"),
		events:        log.OrNoop(cfg.EventLogger),
		session:       cfg.SessionID,
		ctx:           ctx,
		cancel:        cancel,
		reconnectCh:   make(chan struct{}, 1),
		listeners:     make(map[uint64]func()),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// NotifyConnected registers fn to run each time the manager becomes
// connected. The returned func unregisters it.
func (m *Manager) NotifyConnected(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, id)
		})
	}
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect initiates a connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	n := m.transitionLocked(StateConnecting, "connect requested")
	m.mu.Unlock()
	n.fire()

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if err != nil {
		n = m.transitionLocked(StateDisconnected, err.Error())
		m.mu.Unlock()
		n.fire()
		return err
	}
	m.backoff.Reset()
	n = m.transitionLocked(StateConnected, "")
	m.mu.Unlock()
	n.fire()

	return nil
}

// Disconnect marks the channel as deliberately closed.
// If autoReconnect is enabled, reconnection will be attempted.
func (m *Manager) Disconnect() {
	m.lost("disconnect requested")
}

// NotifyConnectionLost should be called when a connection loss is detected.
// This triggers automatic reconnection if enabled.
func (m *Manager) NotifyConnectionLost() {
	m.lost("connection lost")
}

func (m *Manager) lost(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	autoReconnect := m.autoReconnect
	next := StateDisconnected
	if autoReconnect {
		next = StateReconnecting
	}
	n := m.transitionLocked(next, reason)
	m.mu.Unlock()
	n.fire()

	if autoReconnect {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the manager and waits for the reconnection loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	n := m.transitionLocked(StateClosed, "closed")
	m.mu.Unlock()
	n.fire()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect retries with backoff until connected or closed.
func (m *Manager) attemptReconnect() {
	for {
		m.mu.RLock()
		state := m.state
		onReconnecting := m.onReconnecting
		m.mu.RUnlock()

		if state == StateClosed || state == StateConnected {
			return
		}

		delay := m.backoff.Next()
		attempts := m.backoff.Attempts()
		m.logger.Debug("reconnecting", "attempt", attempts, "delay", delay)
		if onReconnecting != nil {
			onReconnecting(attempts, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		state = m.state
		m.mu.RUnlock()
		if state == StateClosed || state == StateConnected {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := m.connectFn(ctx)
		cancel()

		if err != nil {
			m.logger.Debug("reconnect attempt failed", "attempt", attempts, "error", err)
			continue
		}

		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			return
		}
		m.backoff.Reset()
		n := m.transitionLocked(StateConnected, "reconnected")
		m.mu.Unlock()
		n.fire()
		return
	}
}

// notification carries the callbacks for one transition, run after the lock
// is released.
type notification struct {
	m        *Manager
	from, to State
	reason   string

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	listeners      []func()
}

func (m *Manager) transitionLocked(next State, reason string) notification {
	n := notification{
		m:             m,
		from:          m.state,
		to:            next,
		reason:        reason,
		onStateChange: m.onStateChange,
	}
	m.state = next

	switch {
	case next == StateConnected:
		n.onConnected = m.onConnected
		for _, fn := range m.listeners {
			n.listeners = append(n.listeners, fn)
		}
	case n.from == StateConnected:
		n.onDisconnected = m.onDisconnected
	}
	return n
}

func (n notification) fire() {
	if n.from == n.to {
		return
	}
	n.m.logger.Debug("connection state changed", "from", n.from, "to", n.to, "reason", n.reason)
	n.m.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: n.m.session,
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: n.from.String(),
			NewState: n.to.String(),
			Reason:   n.reason,
		},
	})

	if n.onStateChange != nil {
		n.onStateChange(n.from, n.to)
	}
	if n.onConnected != nil {
		n.onConnected()
	}
	if n.onDisconnected != nil {
		n.onDisconnected()
	}
	for _, fn := range n.listeners {
		fn()
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// BackoffAttempts returns the current number of reconnection attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
