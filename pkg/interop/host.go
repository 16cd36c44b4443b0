package interop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/pagevis/pagevis-go/pkg/transport"
	"github.com/pagevis/pagevis-go/pkg/wire"
)

// HostConfig configures a Host.
type HostConfig struct {
	// InitialVisible is the page visibility before any change. Defaults to
	// visible when nil.
	InitialVisible *bool

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives frame and wire events. Nil disables them.
	EventLogger log.Logger

	// SessionID tags every emitted event.
	SessionID string
}

// Host plays the page side of the bridge: it accepts the adapter script,
// tracks one subscriber handle and reports visibility changes to it.
//
// Adapter state lives on the Host, not on a connection, so a client that
// reconnects finds the adapter still installed.
type Host struct {
	logger  *slog.Logger
	events  log.Logger
	session string

	// sendMu orders callbacks with the state changes they report.
	// Lock order: sendMu, then mu.
	sendMu sync.Mutex

	mu          sync.Mutex
	conn        *transport.Conn
	visible     bool
	injected    bool
	handle      uint32
	unavailable bool
}

// NewHost creates an adapter host.
func NewHost(cfg HostConfig) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	visible := true
	if cfg.InitialVisible != nil {
		visible = *cfg.InitialVisible
	}
	return &Host{
		logger:  cfg.Logger.With("component", "host"),
		events:  log.OrNoop(cfg.EventLogger),
		session: cfg.SessionID,
		visible: visible,
	}
}

// Serve handles requests on conn until it closes. A newer connection
// replaces the current one for callbacks.
func (h *Host) Serve(conn *transport.Conn) error {
	conn.SetLogger(h.events, h.session)

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
	}()

	return conn.Serve(func(data []byte) {
		env, err := wire.Decode(data)
		if err != nil {
			h.logger.Warn("dropping undecodable frame", "error", err)
			return
		}
		if env.Kind != wire.KindRequest {
			h.logger.Warn("dropping unexpected message", "kind", env.Kind)
			return
		}

		h.sendMu.Lock()
		defer h.sendMu.Unlock()

		resp, notify := h.HandleRequest(env.Request)
		out, err := wire.EncodeResponse(resp)
		if err != nil {
			h.logger.Error("encode response", "error", err)
			return
		}
		if err := conn.Send(out); err != nil {
			h.logger.Debug("send response", "error", err)
			return
		}
		if notify != nil {
			h.sendCallback(conn, notify)
		}
	})
}

// Accept serves connections from ln one at a time until ctx is done or ln
// fails.
func (h *Host) Accept(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		h.logger.Info("client connected", "remote", nc.RemoteAddr())
		if err := h.Serve(transport.NewConn(nc)); err != nil {
			h.logger.Warn("connection ended", "error", err)
		}
	}
}

// HandleRequest applies req to the adapter state. A non-nil callback is to
// be delivered after the response.
func (h *Host) HandleRequest(req *wire.Request) (*wire.Response, *wire.Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := &wire.Response{MessageID: req.MessageID, Status: wire.StatusOK}
	if h.unavailable {
		resp.Status = wire.StatusUnavailable
		resp.Error = "page not reachable"
		return resp, nil
	}

	switch req.Function {
	case bridge.AdapterFunction:
		script, _ := firstString(req.Args)
		if script == "" {
			resp.Status = wire.StatusFailed
			resp.Error = "empty script"
			return resp, nil
		}
		h.injected = true
		return resp, nil

	case bridge.SubscribeFunction:
		if !h.injected {
			resp.Status = wire.StatusFailed
			resp.Error = "adapter not installed"
			return resp, nil
		}
		if req.Handle == 0 {
			resp.Status = wire.StatusFailed
			resp.Error = "missing callback handle"
			return resp, nil
		}
		if h.handle != 0 {
			// Already subscribed: the adapter ignores a second subscribe.
			return resp, nil
		}
		h.handle = req.Handle
		return resp, &wire.Callback{Handle: h.handle, Function: wire.CallbackSetVisibility, Visible: h.visible}

	case bridge.UnsubscribeFunction:
		if !h.injected {
			resp.Status = wire.StatusFailed
			resp.Error = "adapter not installed"
			return resp, nil
		}
		h.handle = 0
		return resp, nil

	default:
		resp.Status = wire.StatusUnknownFunction
		resp.Error = fmt.Sprintf("no function %q", req.Function)
		return resp, nil
	}
}

// SetVisible changes the page visibility and reports it to the subscriber
// when it differs from the previous value.
func (h *Host) SetVisible(visible bool) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if h.visible == visible {
		h.mu.Unlock()
		return nil
	}
	h.visible = visible
	conn, handle := h.conn, h.handle
	h.mu.Unlock()

	if conn == nil || handle == 0 {
		return nil
	}
	return h.sendCallback(conn, &wire.Callback{Handle: handle, Function: wire.CallbackSetVisibility, Visible: visible})
}

// SetUnavailable makes every request fail with wire.StatusUnavailable.
func (h *Host) SetUnavailable(unavailable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unavailable = unavailable
}

// Visible returns the page visibility.
func (h *Host) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// Injected reports whether the adapter script was installed.
func (h *Host) Injected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.injected
}

// Subscribed reports whether a subscriber handle is registered.
func (h *Host) Subscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handle != 0
}

// Connected reports whether a client connection is being served.
func (h *Host) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Drop closes the current connection, if any.
func (h *Host) Drop() {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (h *Host) sendCallback(conn *transport.Conn, cb *wire.Callback) error {
	data, err := wire.EncodeCallback(cb)
	if err != nil {
		return err
	}
	h.events.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: h.session,
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryCallback,
		Callback:  &log.CallbackEvent{Handle: cb.Handle, Visible: cb.Visible},
	})
	return conn.Send(data)
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
