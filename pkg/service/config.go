package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/connection"
	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/log"
)

// Service errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrSessionClosed = errors.New("session closed")
)

// DefaultDialTimeout bounds the initial connection to the adapter host.
const DefaultDialTimeout = 10 * time.Second

// DialFunc opens a stream connection to the adapter host.
type DialFunc func(ctx context.Context) (net.Conn, error)

// DiscoveryConfig selects an adapter host over mDNS when no address is set.
type DiscoveryConfig struct {
	// Enabled turns on mDNS lookup.
	Enabled bool `yaml:"enabled"`

	// HostID restricts the lookup to one host. Empty accepts any host.
	HostID string `yaml:"host_id"`

	// Interface limits browsing to one network interface.
	Interface string `yaml:"interface"`

	// Timeout bounds the lookup. Zero means discovery.BrowseTimeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Config configures a Session.
type Config struct {
	// Address is the adapter host address (e.g., "127.0.0.1:7450").
	Address string `yaml:"address"`

	// Discovery finds the host over mDNS when Address is empty.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// CallTimeout bounds each bridge call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// PollInterval is the gate poll interval when readiness cannot be pushed.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReconnectBackoff configures reconnection timing.
	ReconnectBackoff connection.BackoffConfig `yaml:"reconnect_backoff"`

	// EnableAutoReconnect reconnects after the host channel is lost.
	EnableAutoReconnect bool `yaml:"auto_reconnect"`

	// EventLogPath, when set, appends CBOR bridge events to this file.
	EventLogPath string `yaml:"event_log"`

	// Dial overrides how the host is reached. Used by tests and embedders.
	Dial DialFunc `yaml:"-"`

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger `yaml:"-"`

	// EventLogger receives bridge events in addition to EventLogPath.
	EventLogger log.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:         DefaultDialTimeout,
		CallTimeout:         bridge.DefaultCallTimeout,
		PollInterval:        gate.DefaultPollInterval,
		ReconnectBackoff:    connection.DefaultBackoffConfig(),
		EnableAutoReconnect: true,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Address == "" && c.Dial == nil && !c.Discovery.Enabled {
		return fmt.Errorf("%w: no host address, dial func or discovery", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 || c.CallTimeout < 0 || c.PollInterval < 0 || c.Discovery.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	b := c.ReconnectBackoff
	if b.Initial < 0 || b.Max < 0 {
		return fmt.Errorf("%w: negative backoff", ErrInvalidConfig)
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier %v below 1", ErrInvalidConfig, b.Multiplier)
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		return fmt.Errorf("%w: backoff jitter %v outside [0,1]", ErrInvalidConfig, b.Jitter)
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
