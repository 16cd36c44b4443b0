package visibility

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/log"
)

// ErrDisposed is returned by Attach and Detach after Close.
var ErrDisposed = errors.New("visibility publisher disposed")

// Observer is called with the new page visibility each time it changes.
type Observer func(visible bool)

// Handle identifies an attached observer.
type Handle uint64

// Config configures a Publisher.
type Config struct {
	// CallTimeout bounds each bridge call. Zero means bridge.DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives structured bridge events. Nil disables them.
	EventLogger log.Logger

	// SessionID tags every emitted event.
	SessionID string
}

type request uint8

const (
	requestSubscribe request = iota
	requestUnsubscribe
	requestClose
)

type entry struct {
	handle Handle
	fn     Observer
}

// Publisher tracks page visibility for a set of observers.
//
// The adapter subscription is held exactly while at least one observer is
// attached. The last known visibility defaults to true until the adapter
// reports otherwise.
type Publisher struct {
	ctrl    *bridge.Controller
	logger  *slog.Logger
	events  log.Logger
	session string

	mu        sync.Mutex
	observers []entry
	next      Handle
	visible   bool
	disposed  bool

	// controller requests decided under mu, applied in order after it is
	// released so controller callbacks never run under mu
	requests []request
	flushing bool
	flushed  chan struct{}

	// serializes observer notification
	notifyMu sync.Mutex
}

var _ bridge.Receiver = (*Publisher)(nil)

// New creates a publisher whose subscription runs over b once g is ready.
func New(b bridge.Bridge, g *gate.Gate, cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		logger:  cfg.Logger.With("component", "visibility"),
		events:  log.OrNoop(cfg.EventLogger),
		session: cfg.SessionID,
		visible: true,
		next:    1,
	}
	p.ctrl = bridge.NewController(b, g, p, bridge.Config{
		CallTimeout: cfg.CallTimeout,
		Logger:      cfg.Logger,
		EventLogger: cfg.EventLogger,
		SessionID:   cfg.SessionID,
	})
	return p
}

// Controller returns the subscription controller owned by the publisher.
func (p *Publisher) Controller() *bridge.Controller {
	return p.ctrl
}

// Attach adds fn to the observers and returns its handle.
//
// Attach never blocks on the bridge. Every attach re-requests the
// subscription, so an attach after a failed subscribe retries it.
func (p *Publisher) Attach(fn Observer) (Handle, error) {
	if fn == nil {
		return 0, errors.New("visibility: nil observer")
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return 0, ErrDisposed
	}

	h := p.next
	p.next++
	p.observers = append(p.observers, entry{handle: h, fn: fn})
	n := len(p.observers)
	p.requests = append(p.requests, requestSubscribe)
	p.mu.Unlock()

	p.logger.Debug("observer attached", "handle", h, "observers", n)
	p.flushRequests()
	return h, nil
}

// Detach removes the observer identified by h. Unknown handles are ignored.
// Removing the last observer releases the subscription.
func (p *Publisher) Detach(h Handle) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}

	for i, e := range p.observers {
		if e.handle != h {
			continue
		}
		p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
		n := len(p.observers)
		if n == 0 {
			p.requests = append(p.requests, requestUnsubscribe)
		}
		p.mu.Unlock()

		p.logger.Debug("observer detached", "handle", h, "observers", n)
		p.flushRequests()
		return nil
	}
	p.mu.Unlock()
	return nil
}

// Observers returns the number of attached observers.
func (p *Publisher) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

// CurrentVisibility returns the last known page visibility.
func (p *Publisher) CurrentVisibility() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// SetVisibility is the adapter callback entry point.
//
// A changed value is delivered to every observer attached at the time of
// the call, in attach order. Repeated values and callbacks after Close are
// absorbed.
func (p *Publisher) SetVisibility(visible bool) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		p.logger.Debug("callback after close absorbed", "visible", visible)
		return
	}
	changed := p.visible != visible
	p.visible = visible
	var snapshot []entry
	if changed {
		snapshot = make([]entry, len(p.observers))
		copy(snapshot, p.observers)
	}
	p.mu.Unlock()

	p.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: p.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerBridge,
		Category:  log.CategoryCallback,
		Callback: &log.CallbackEvent{
			Visible:   visible,
			Changed:   changed,
			Observers: len(snapshot),
		},
	})

	for _, e := range snapshot {
		e.fn(visible)
	}
}

// Close detaches every observer without notifying them and releases the
// subscription. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	p.observers = nil
	p.requests = append(p.requests, requestClose)
	p.mu.Unlock()

	p.flushRequests()

	p.logger.Debug("publisher closed")
	p.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: p.session,
		Layer:     log.LayerBridge,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPublisher,
			OldState: "OPEN",
			NewState: "CLOSED",
		},
	})
	return nil
}

// Wait blocks until pending bridge work settles or ctx is done.
// It must not be called from an observer or a controller callback.
func (p *Publisher) Wait(ctx context.Context) error {
	p.flushRequests()
	for {
		p.mu.Lock()
		if !p.flushing {
			p.mu.Unlock()
			break
		}
		flushed := p.flushed
		p.mu.Unlock()

		select {
		case <-flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.ctrl.Wait(ctx)
}

// flushRequests hands queued requests to the controller in order. Only one
// goroutine flushes at a time; a request queued meanwhile, including one
// made from a controller callback, is applied by that goroutine.
func (p *Publisher) flushRequests() {
	p.mu.Lock()
	if p.flushing {
		p.mu.Unlock()
		return
	}
	p.flushing = true
	p.flushed = make(chan struct{})

	for len(p.requests) > 0 {
		r := p.requests[0]
		p.requests = p.requests[1:]
		p.mu.Unlock()

		switch r {
		case requestSubscribe:
			p.ctrl.RequestSubscribe()
		case requestUnsubscribe:
			p.ctrl.RequestUnsubscribe()
		case requestClose:
			p.ctrl.Close()
		}

		p.mu.Lock()
	}

	p.flushing = false
	close(p.flushed)
	p.mu.Unlock()
}
