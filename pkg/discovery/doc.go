// Package discovery finds adapter hosts with mDNS/DNS-SD.
//
// Adapter hosts advertise the _pagevis._tcp service. The instance name is
// free-form (at most 63 bytes). TXT records carry:
//
//   - v: bridge protocol version (required, currently 1)
//   - id: stable host identifier (required)
//   - app: application name (optional)
//   - page: page path served by the host (optional)
//
// Browsers merge entries seen on several interfaces by instance name, so a
// host is reported once with all of its addresses.
package discovery
