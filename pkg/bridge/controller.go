package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/pagevis/pagevis-go/pkg/wire"
)

// DefaultCallTimeout bounds a single bridge invocation.
const DefaultCallTimeout = 5 * time.Second

// Config configures a Controller.
type Config struct {
	// CallTimeout bounds each bridge invocation. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives structured bridge events. Nil disables them.
	EventLogger log.Logger

	// SessionID tags every emitted event.
	SessionID string
}

// Controller drives the adapter subscription through its phases.
//
// RequestSubscribe and RequestUnsubscribe never block on the bridge. They
// record the desired outcome and, when needed, hand the work to a worker
// goroutine. At most one bridge call is outstanding at a time, and requests
// made while one is in flight are coalesced into the desired outcome and
// applied when it resolves.
type Controller struct {
	bridge   Bridge
	gate     *gate.Gate
	receiver Receiver
	timeout  time.Duration
	logger   *slog.Logger
	events   log.Logger
	session  string

	mu              sync.Mutex
	phase           Phase
	wantSubscribed  bool
	adapterInjected bool
	closed          bool

	// gen invalidates a worker whose connection wait was canceled.
	gen        uint64
	cancelWait context.CancelFunc

	workers int
	idle    chan struct{}

	// transitions queued under mu, reported after it is released
	pending []transition

	onPhaseChange func(oldPhase, newPhase Phase)
	onError       func(err error)
}

type transition struct {
	from, to Phase
	reason   string
}

// NewController creates a controller that subscribes receiver through b once
// g reports the host channel usable.
func NewController(b Bridge, g *gate.Gate, receiver Receiver, cfg Config) *Controller {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	idle := make(chan struct{})
	close(idle)

	return &Controller{
		bridge:   b,
		gate:     g,
		receiver: receiver,
		timeout:  cfg.CallTimeout,
		logger:   cfg.Logger.With("component", "bridge"),
		events:   log.OrNoop(cfg.EventLogger),
		session:  cfg.SessionID,
		phase:    PhaseUnsubscribed,
		idle:     idle,
	}
}

// Phase returns the current subscription phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// AdapterInjected reports whether the adapter script was installed.
func (c *Controller) AdapterInjected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapterInjected
}

// OnPhaseChange sets a callback for phase transitions.
// The callback runs without internal locks held.
func (c *Controller) OnPhaseChange(fn func(oldPhase, newPhase Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPhaseChange = fn
}

// OnError sets a callback for subscribe failures and swallowed unsubscribe
// failures.
func (c *Controller) OnError(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// RequestSubscribe asks for a live subscription.
func (c *Controller) RequestSubscribe() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("subscribe ignored after close")
		return
	}
	c.wantSubscribed = true

	// Subscribing and Unsubscribing workers consult wantSubscribed when their
	// call resolves. Waiting and Subscribed already head the right way.
	if c.phase == PhaseUnsubscribed {
		c.setPhaseLocked(PhaseWaitingForConnection, "subscribe requested")
		c.startLocked()
	}
	c.unlockAndFlush()
}

// RequestUnsubscribe asks for the subscription to be released.
func (c *Controller) RequestUnsubscribe() {
	c.mu.Lock()
	c.requestUnsubscribeLocked("unsubscribe requested")
	c.unlockAndFlush()
}

// Close releases the subscription and ignores later subscribe requests.
// A subscribe already in flight is followed by a best-effort unsubscribe.
// Close does not wait for bridge calls; use Wait for that.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.requestUnsubscribeLocked("closed")
	c.unlockAndFlush()
}

// Wait blocks until no worker is running or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.workers == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) requestUnsubscribeLocked(reason string) {
	c.wantSubscribed = false

	switch c.phase {
	case PhaseWaitingForConnection:
		// No bridge call was made yet. Abandon the wait.
		c.gen++
		if c.cancelWait != nil {
			c.cancelWait()
			c.cancelWait = nil
		}
		c.setPhaseLocked(PhaseUnsubscribed, reason)
	case PhaseSubscribed:
		c.setPhaseLocked(PhaseUnsubscribing, reason)
		c.startLocked()
	}
}

// startLocked spawns a worker for the current phase.
func (c *Controller) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelWait = cancel
	if c.workers == 0 {
		c.idle = make(chan struct{})
	}
	c.workers++
	go c.run(ctx, cancel, c.gen)
}

func (c *Controller) workerDone(cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	c.workers--
	if c.workers == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// run advances the phase machine until it settles.
func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.workerDone(cancel)

	for {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}

		switch c.phase {
		case PhaseWaitingForConnection:
			c.mu.Unlock()
			if err := c.gate.AwaitReady(ctx); err != nil {
				return
			}

			c.mu.Lock()
			if c.gen != gen || c.phase != PhaseWaitingForConnection {
				c.mu.Unlock()
				return
			}
			c.setPhaseLocked(PhaseSubscribing, "connection ready")
			c.unlockAndFlush()

			if err := c.subscribe(); err != nil {
				c.mu.Lock()
				if !c.wantSubscribed && subscribeMayHaveApplied(err) {
					// The host may still have registered the receiver.
					c.setPhaseLocked(PhaseUnsubscribing, "subscribe outcome unknown after interest withdrawn")
					c.unlockAndFlush()
					c.reportError(err, "subscribe")
					continue
				}
				c.setPhaseLocked(PhaseUnsubscribed, "subscribe failed")
				c.unlockAndFlush()
				c.reportError(err, "subscribe")
				return
			}

			c.mu.Lock()
			if c.wantSubscribed {
				c.setPhaseLocked(PhaseSubscribed, "subscribe acknowledged")
				c.unlockAndFlush()
				return
			}
			c.setPhaseLocked(PhaseUnsubscribing, "interest withdrawn during subscribe")
			c.unlockAndFlush()

		case PhaseUnsubscribing:
			c.mu.Unlock()
			if err := c.invoke(UnsubscribeFunction); err != nil {
				c.reportError(fmt.Errorf("unsubscribe: %w", err), "unsubscribe")
			}

			c.mu.Lock()
			c.setPhaseLocked(PhaseUnsubscribed, "unsubscribe resolved")
			if c.wantSubscribed && !c.closed {
				c.setPhaseLocked(PhaseWaitingForConnection, "subscribe requested during unsubscribe")
				c.unlockAndFlush()
				continue
			}
			c.unlockAndFlush()
			return

		default:
			c.mu.Unlock()
			return
		}
	}
}

// subscribe injects the adapter once, then registers the receiver.
func (c *Controller) subscribe() error {
	c.mu.Lock()
	injected := c.adapterInjected
	c.mu.Unlock()

	if !injected {
		if err := c.invoke(AdapterFunction, AdapterScript); err != nil {
			return fmt.Errorf("%w: %w", ErrAdapterInjection, err)
		}
		c.mu.Lock()
		c.adapterInjected = true
		c.mu.Unlock()
	}

	if err := c.invoke(SubscribeFunction, c.receiver); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// invoke performs one bounded bridge call and records it.
func (c *Controller) invoke(function string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: log.DirectionOut,
		Layer:     log.LayerBridge,
		Category:  log.CategoryMessage,
		Invoke: &log.InvokeEvent{
			Type:     log.InvokeRequest,
			Function: function,
		},
	})

	start := time.Now()
	_, err := c.bridge.Invoke(ctx, function, args...)
	elapsed := time.Since(start)

	status := callStatus(err)
	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerBridge,
		Category:  log.CategoryMessage,
		Invoke: &log.InvokeEvent{
			Type:     log.InvokeResponse,
			Function: function,
			Status:   &status,
			Duration: &elapsed,
		},
	})
	c.logger.Debug("bridge call resolved", "function", function, "status", status, "duration", elapsed)

	return err
}

// subscribeMayHaveApplied reports whether a failed subscribe could still
// have reached the host. Injection failures never sent the subscribe, and
// an unavailable bridge never delivered it.
func subscribeMayHaveApplied(err error) bool {
	return !errors.Is(err, ErrAdapterInjection) && !errors.Is(err, ErrInteropUnavailable)
}

func callStatus(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusOK
	case errors.Is(err, ErrInteropUnavailable):
		return wire.StatusUnavailable
	default:
		return wire.StatusFailed
	}
}

func (c *Controller) reportError(err error, op string) {
	c.logger.Warn("bridge call failed", "op", op, "error", err)
	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Layer:     log.LayerBridge,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerBridge,
			Message: err.Error(),
			Context: op,
		},
	})

	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Controller) setPhaseLocked(next Phase, reason string) {
	if c.phase == next {
		return
	}
	c.pending = append(c.pending, transition{from: c.phase, to: next, reason: reason})
	c.phase = next
}

// unlockAndFlush releases mu and reports queued transitions.
func (c *Controller) unlockAndFlush() {
	pending := c.pending
	c.pending = nil
	fn := c.onPhaseChange
	c.mu.Unlock()

	for _, t := range pending {
		c.logger.Debug("phase changed", "from", t.from, "to", t.to, "reason", t.reason)
		c.events.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: c.session,
			Layer:     log.LayerBridge,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityController,
				OldState: t.from.String(),
				NewState: t.to.String(),
				Reason:   t.reason,
			},
		})
		if fn != nil {
			fn(t.from, t.to)
		}
	}
}
