// Package transport carries bridge messages between the application and a
// remote adapter host.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Envelopes (wire)     │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   Stream socket (TCP / pipe)   │
//	└────────────────────────────────┘
//
// # Framing
//
// Each frame is a 4-byte big-endian length followed by the payload. Empty
// frames and frames above the configured maximum are rejected on both sides.
//
// # Connections
//
// Conn wraps a net.Conn: any goroutine may Send, one goroutine runs Serve to
// dispatch inbound frames. Closing from either side ends Serve.
package transport
