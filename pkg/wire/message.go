package wire

import (
	"errors"
	"fmt"
)

// Message errors.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownKind    = errors.New("unknown message kind")
)

// CallbackSetVisibility is the callback function name the adapter uses to
// report the page visibility.
const CallbackSetVisibility = "SetVisibility"

// Kind selects the payload carried by an Envelope.
type Kind uint8

const (
	// KindRequest carries a Request.
	KindRequest Kind = 1

	// KindResponse carries a Response.
	KindResponse Kind = 2

	// KindCallback carries a Callback.
	KindCallback Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindCallback:
		return "CALLBACK"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the top-level frame payload.
//
// CBOR encoding:
//
//	{
//	  1: kind,       // uint8
//	  2: request,    // present when kind == 1
//	  3: response,   // present when kind == 2
//	  4: callback    // present when kind == 3
//	}
type Envelope struct {
	Kind     Kind      `cbor:"1,keyasint"`
	Request  *Request  `cbor:"2,keyasint,omitempty"`
	Response *Response `cbor:"3,keyasint,omitempty"`
	Callback *Callback `cbor:"4,keyasint,omitempty"`
}

// Validate checks that the payload matches the kind.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindRequest:
		if e.Request == nil {
			return fmt.Errorf("%w: request envelope without request", ErrInvalidMessage)
		}
		return e.Request.Validate()
	case KindResponse:
		if e.Response == nil {
			return fmt.Errorf("%w: response envelope without response", ErrInvalidMessage)
		}
		if e.Response.MessageID == 0 {
			return fmt.Errorf("%w: response messageId 0", ErrInvalidMessage)
		}
		return nil
	case KindCallback:
		if e.Callback == nil {
			return fmt.Errorf("%w: callback envelope without callback", ErrInvalidMessage)
		}
		if e.Callback.Handle == 0 {
			return fmt.Errorf("%w: callback handle 0", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
}

// Request invokes a named entry point on the adapter host.
//
// Handle is non-zero when the call passes a callback receiver (subscribe).
// The receiver itself never crosses the wire; the host refers to it by handle.
type Request struct {
	MessageID uint32 `cbor:"1,keyasint"`
	Function  string `cbor:"2,keyasint"`
	Args      []any  `cbor:"3,keyasint,omitempty"`
	Handle    uint32 `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("%w: messageId 0 is reserved", ErrInvalidMessage)
	}
	if r.Function == "" {
		return fmt.Errorf("%w: empty function name", ErrInvalidMessage)
	}
	return nil
}

// Response resolves a request.
type Response struct {
	MessageID uint32 `cbor:"1,keyasint"`
	Status    Status `cbor:"2,keyasint"`
	Result    any    `cbor:"3,keyasint,omitempty"`
	Error     string `cbor:"4,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == StatusOK
}

// Callback delivers an adapter callback to a registered receiver.
type Callback struct {
	Handle   uint32 `cbor:"1,keyasint"`
	Function string `cbor:"2,keyasint"`
	Visible  bool   `cbor:"3,keyasint"`
}

// Status is a response status code.
type Status uint8

const (
	// StatusOK indicates the call completed.
	StatusOK Status = 0

	// StatusUnavailable indicates the host could not run the call because the
	// adapter channel is not usable.
	StatusUnavailable Status = 1

	// StatusFailed indicates the call ran and failed.
	StatusFailed Status = 2

	// StatusUnknownFunction indicates the function is not defined on the host.
	StatusUnknownFunction Status = 3
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusFailed:
		return "FAILED"
	case StatusUnknownFunction:
		return "UNKNOWN_FUNCTION"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}
