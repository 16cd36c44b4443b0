package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of adapter hosts.
	ServiceType = "_pagevis._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default adapter host port.
	DefaultPort = 7450

	// ProtocolVersion is advertised in the TXT record.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyVersion = "v"    // Bridge protocol version
	TXTKeyHostID  = "id"   // Stable host identifier (UUID)
	TXTKeyApp     = "app"  // Application name (optional)
	TXTKeyPage    = "page" // Page path served by the host (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for FindFirst.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidVersion      = errors.New("unsupported protocol version")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrBrowseTimeout       = errors.New("browse timeout")
	ErrNotAdvertising      = errors.New("not advertising")
)

// HostInfo is what an adapter host advertises.
type HostInfo struct {
	// InstanceName is the DNS-SD instance label.
	InstanceName string

	// Port the host listens on. Zero means DefaultPort.
	Port uint16

	// HostID identifies the host across restarts.
	HostID string

	// App is an optional application name.
	App string

	// Page is an optional page path.
	Page string
}

// HostService is a discovered adapter host.
type HostService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version int
	HostID  string
	App     string
	Page    string
}

// Addr returns a dialable host:port, preferring the first resolved address.
func (s *HostService) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
