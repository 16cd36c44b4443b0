// Package wire defines the CBOR wire format used between the application
// and a remote visibility adapter host.
//
// Every frame carries one Envelope. The envelope kind selects which of the
// payloads is present:
//   - Request: application to host, invokes a named adapter entry point
//   - Response: host to application, resolves a request by message ID
//   - Callback: host to application, delivers a visibility change to the
//     receiver registered under a callback handle
//
// # CBOR Integer Keys
//
// All maps use integer keys for compactness. Message ID 0 is never used by
// requests, so a zero ID on a response indicates a protocol error.
package wire
