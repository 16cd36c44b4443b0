package interop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/pagevis/pagevis-go/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed    = errors.New("interop client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrCallFailed      = errors.New("adapter call failed")
	ErrUnknownFunction = errors.New("unknown adapter function")
)

// Sender writes one encoded message to the adapter host.
// transport.Conn implements it.
type Sender interface {
	Send(data []byte) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives wire events. Nil disables them.
	EventLogger log.Logger

	// SessionID tags every emitted event.
	SessionID string
}

// Client is a bridge.Bridge over a framed connection to an adapter host.
//
// The client outlives individual connections: Bind attaches the current
// connection and Unbind detaches it when it is lost. Calls made while no
// connection is bound fail with bridge.ErrInteropUnavailable.
type Client struct {
	mu sync.RWMutex

	sender Sender
	closed bool

	nextMsgID uint32

	pending   map[uint32]chan *wire.Response
	pendingMu sync.Mutex

	// callback receivers by wire handle
	receivers  map[uint32]bridge.Receiver
	handles    map[bridge.Receiver]uint32
	nextHandle uint32

	logger  *slog.Logger
	events  log.Logger
	session string
}

var _ bridge.Bridge = (*Client)(nil)

// NewClient creates an unbound client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		pending:   make(map[uint32]chan *wire.Response),
		receivers: make(map[uint32]bridge.Receiver),
		handles:   make(map[bridge.Receiver]uint32),
		logger:    cfg.Logger.With("component", "interop"),
		events:    log.OrNoop(cfg.EventLogger),
		session:   cfg.SessionID,
	}
}

// Bind makes s the connection used for calls.
func (c *Client) Bind(s Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = s
}

// Unbind detaches the current connection and fails outstanding calls with
// bridge.ErrInteropUnavailable.
func (c *Client) Unbind() {
	c.mu.Lock()
	c.sender = nil
	c.mu.Unlock()

	c.failPending()
}

// Bound reports whether a connection is attached.
func (c *Client) Bound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender != nil
}

// Close fails outstanding calls and rejects new ones.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.sender = nil
	c.mu.Unlock()

	c.failPending()
	return nil
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// nextMessageID returns the next message ID, skipping the reserved 0.
func (c *Client) nextMessageID() uint32 {
	for {
		if id := atomic.AddUint32(&c.nextMsgID, 1); id != 0 {
			return id
		}
	}
}

// handleFor returns the wire handle of r, registering it on first use.
func (c *Client) handleFor(r bridge.Receiver) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[r]; ok {
		return h
	}
	c.nextHandle++
	h := c.nextHandle
	c.handles[r] = h
	c.receivers[h] = r
	return h
}

// Invoke implements bridge.Bridge.
//
// At most one bridge.Receiver argument is accepted. It is replaced by its
// wire handle and stays registered for callbacks.
func (c *Client) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	req := &wire.Request{Function: function}
	for _, arg := range args {
		if r, ok := arg.(bridge.Receiver); ok {
			if req.Handle != 0 {
				return nil, fmt.Errorf("%s: more than one receiver argument", function)
			}
			req.Handle = c.handleFor(r)
			continue
		}
		req.Args = append(req.Args, arg)
	}

	c.mu.RLock()
	sender, closed := c.sender, c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", bridge.ErrInteropUnavailable, ErrClientClosed)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: no connection to adapter host", bridge.ErrInteropUnavailable)
	}

	req.MessageID = c.nextMessageID()
	resp, err := c.roundTrip(ctx, sender, req)
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, fmt.Errorf("%s: %w", function, err)
	}
	return resp.Result, nil
}

func (c *Client) roundTrip(ctx context.Context, sender Sender, req *wire.Request) (*wire.Response, error) {
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[req.MessageID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	c.logInvoke(req, nil, 0)
	start := time.Now()

	if err := sender.Send(data); err != nil {
		return nil, fmt.Errorf("%w: %w", bridge.ErrInteropUnavailable, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w: connection lost", bridge.ErrInteropUnavailable)
		}
		c.logInvoke(req, resp, time.Since(start))
		return resp, nil
	}
}

// HandleFrame dispatches one inbound frame. Pass it to transport.Conn.Serve.
func (c *Client) HandleFrame(data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		c.logError(err, "decode")
		return
	}

	switch env.Kind {
	case wire.KindResponse:
		if err := c.handleResponse(env.Response); err != nil {
			c.logger.Debug("dropping response", "msg_id", env.Response.MessageID, "error", err)
		}
	case wire.KindCallback:
		c.handleCallback(env.Callback)
	default:
		c.logger.Warn("dropping unexpected message", "kind", env.Kind)
	}
}

func (c *Client) handleResponse(resp *wire.Response) error {
	// Held across the send so failPending cannot close ch underneath it.
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	ch, exists := c.pending[resp.MessageID]
	if !exists {
		return ErrUnexpectedReply
	}

	select {
	case ch <- resp:
	default:
		// Already resolved
	}
	return nil
}

func (c *Client) handleCallback(cb *wire.Callback) {
	c.mu.RLock()
	r := c.receivers[cb.Handle]
	c.mu.RUnlock()

	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryCallback,
		Callback: &log.CallbackEvent{
			Handle:  cb.Handle,
			Visible: cb.Visible,
		},
	})

	if r == nil || cb.Function != wire.CallbackSetVisibility {
		c.logger.Debug("dropping callback", "handle", cb.Handle, "function", cb.Function)
		return
	}
	r.SetVisibility(cb.Visible)
}

// responseError maps a non-OK response status to an error.
func responseError(resp *wire.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	var base error
	switch resp.Status {
	case wire.StatusUnavailable:
		base = bridge.ErrInteropUnavailable
	case wire.StatusUnknownFunction:
		base = ErrUnknownFunction
	default:
		base = ErrCallFailed
	}
	if resp.Error == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, resp.Error)
}

func (c *Client) logInvoke(req *wire.Request, resp *wire.Response, elapsed time.Duration) {
	ev := &log.InvokeEvent{
		Type:      log.InvokeRequest,
		MessageID: req.MessageID,
		Function:  req.Function,
		Handle:    req.Handle,
	}
	direction := log.DirectionOut
	if resp != nil {
		direction = log.DirectionIn
		ev.Type = log.InvokeResponse
		status := resp.Status
		ev.Status = &status
		ev.Duration = &elapsed
	}
	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: direction,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Invoke:    ev,
	})
}

func (c *Client) logError(err error, op string) {
	c.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: op,
		},
	})
}
