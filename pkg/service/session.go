package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/connection"
	"github.com/pagevis/pagevis-go/pkg/discovery"
	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/interop"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/pagevis/pagevis-go/pkg/transport"
	"github.com/pagevis/pagevis-go/pkg/visibility"
)

// Session is one application session's view of page visibility.
//
// It owns the channel to the adapter host and a single Publisher whose
// subscription runs over it. Observers attach and detach through the
// session; the host channel is reconnected behind them.
type Session struct {
	id     string
	config Config
	logger *slog.Logger
	events log.Logger
	file   *log.FileLogger
	dial   DialFunc

	client    *interop.Client
	manager   *connection.Manager
	gate      *gate.Gate
	publisher *visibility.Publisher

	mu      sync.Mutex
	conn    *transport.Conn
	started bool
	closed  bool
	serving sync.WaitGroup
}

// NewSession creates a session. Nothing is dialed until Start.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}

	s := &Session{
		id:     uuid.NewString(),
		config: config,
	}
	s.logger = config.Logger.With("session", s.id)

	var sinks []log.Logger
	if config.EventLogger != nil {
		sinks = append(sinks, config.EventLogger)
	}
	if config.EventLogPath != "" {
		file, err := log.NewFileLogger(config.EventLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		s.file = file
		sinks = append(sinks, file)
	}
	switch len(sinks) {
	case 0:
		s.events = log.NoopLogger{}
	case 1:
		s.events = sinks[0]
	default:
		s.events = log.NewMultiLogger(sinks...)
	}

	s.dial = config.Dial
	if s.dial == nil {
		s.dial = s.dialHost
	}

	s.client = interop.NewClient(interop.ClientConfig{
		Logger:      s.logger,
		EventLogger: s.events,
		SessionID:   s.id,
	})
	s.manager = connection.NewManagerWithConfig(s.connect, connection.Config{
		Backoff:              config.ReconnectBackoff,
		ConnectTimeout:       config.DialTimeout,
		DisableAutoReconnect: !config.EnableAutoReconnect,
		Logger:               s.logger,
		EventLogger:          s.events,
		SessionID:            s.id,
	})
	s.gate = gate.New(s.manager, gate.Config{PollInterval: config.PollInterval})
	s.publisher = visibility.New(s.client, s.gate, visibility.Config{
		CallTimeout: config.CallTimeout,
		Logger:      s.logger,
		EventLogger: s.events,
		SessionID:   s.id,
	})

	return s, nil
}

// ID returns the session UUID stamped on every event.
func (s *Session) ID() string {
	return s.id
}

// Start begins reconnection handling and opens the host channel.
// Observers may attach before Start; their subscription waits for it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.manager.StartReconnectLoop()

	ctx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()
	if err := s.manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect to adapter host: %w", err)
	}
	s.logger.Info("session started")
	return nil
}

// Attach adds an observer of page visibility.
func (s *Session) Attach(fn visibility.Observer) (visibility.Handle, error) {
	return s.publisher.Attach(fn)
}

// Detach removes the observer identified by h.
func (s *Session) Detach(h visibility.Handle) error {
	return s.publisher.Detach(h)
}

// CurrentVisibility returns the last known page visibility.
func (s *Session) CurrentVisibility() bool {
	return s.publisher.CurrentVisibility()
}

// Phase returns the adapter subscription phase.
func (s *Session) Phase() bridge.Phase {
	return s.publisher.Controller().Phase()
}

// ConnectionState returns the host channel state.
func (s *Session) ConnectionState() connection.State {
	return s.manager.State()
}

// Publisher returns the session's visibility publisher.
func (s *Session) Publisher() *visibility.Publisher {
	return s.publisher
}

// Connection returns the host channel manager.
func (s *Session) Connection() *connection.Manager {
	return s.manager
}

// Close disposes the publisher, waits (bounded by ctx) for its unsubscribe
// to settle, then tears down the host channel.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.publisher.Close()
	err := s.publisher.Wait(ctx)
	if err != nil {
		s.logger.Warn("subscription did not settle before close", "error", err)
	}

	s.manager.Close()
	_ = s.client.Close()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.serving.Wait()

	if s.file != nil {
		err = errors.Join(err, s.file.Close())
	}
	s.logger.Info("session closed")
	return err
}

// connect is the manager's ConnectFunc: it dials the host, binds the
// connection to the client and serves it in the background.
func (s *Session) connect(ctx context.Context) error {
	nc, err := s.dial(ctx)
	if err != nil {
		return err
	}
	conn := transport.NewConn(nc)
	conn.SetLogger(s.events, s.id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.serving.Add(1)
	s.mu.Unlock()

	s.client.Bind(conn)
	go s.serve(conn)

	s.logger.Info("connected to adapter host", "remote", conn.RemoteAddr())
	return nil
}

func (s *Session) serve(conn *transport.Conn) {
	defer s.serving.Done()

	if err := conn.Serve(s.client.HandleFrame); err != nil {
		s.logger.Warn("host channel failed", "error", err)
	}

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()

	if current {
		s.client.Unbind()
		s.manager.NotifyConnectionLost()
	}
}

// dialHost reaches the configured address, or looks the host up over mDNS.
func (s *Session) dialHost(ctx context.Context) (net.Conn, error) {
	addr := s.config.Address
	if addr == "" {
		svc, err := s.discover(ctx)
		if err != nil {
			return nil, err
		}
		addr = svc.Addr()
		s.logger.Info("discovered adapter host", "instance", svc.InstanceName, "addr", addr)
	}

	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (s *Session) discover(ctx context.Context) (*discovery.HostService, error) {
	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface:     s.config.Discovery.Interface,
		BrowseTimeout: s.config.Discovery.Timeout,
	})

	var match func(*discovery.HostService) bool
	if id := s.config.Discovery.HostID; id != "" {
		match = discovery.MatchHostID(id)
	}
	svc, err := browser.FindFirst(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("discover adapter host: %w", err)
	}
	return svc, nil
}
