package log

import (
	"time"

	"github.com/pagevis/pagevis-go/pkg/wire"
)

// Event represents a bridge event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the visibility session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow relative to the application.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the adapter host address, when the bridge is remote.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Invoke      *InvokeEvent      `cbor:"11,keyasint,omitempty"`
	Callback    *CallbackEvent    `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a message toward the application.
	DirectionIn Direction = 0
	// DirectionOut indicates a message toward the adapter.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer.
	LayerWire Layer = 1
	// LayerBridge is the subscription and publisher layer.
	LayerBridge Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerBridge:
		return "BRIDGE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a frame or bridge invocation.
	CategoryMessage Category = 0
	// CategoryCallback indicates a visibility callback from the adapter.
	CategoryCallback Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryCallback:
		return "CALLBACK"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// InvokeEvent captures one side of a bridge invocation.
type InvokeEvent struct {
	// Type distinguishes the request from its response.
	Type InvokeType `cbor:"1,keyasint"`

	// MessageID correlates request and response (0 for in-process bridges).
	MessageID uint32 `cbor:"2,keyasint,omitempty"`

	// Function is the adapter entry point.
	Function string `cbor:"3,keyasint"`

	// Handle is the callback handle passed with the call, if any.
	Handle uint32 `cbor:"4,keyasint,omitempty"`

	// Status is the response status (responses only).
	Status *wire.Status `cbor:"5,keyasint,omitempty"`

	// Duration from request to response (responses only).
	Duration *time.Duration `cbor:"6,keyasint,omitempty"`
}

// InvokeType distinguishes requests from responses.
type InvokeType uint8

const (
	// InvokeRequest is the outgoing call.
	InvokeRequest InvokeType = 0
	// InvokeResponse is the resolution of a call.
	InvokeResponse InvokeType = 1
)

// String returns the invoke type name.
func (t InvokeType) String() string {
	switch t {
	case InvokeRequest:
		return "REQUEST"
	case InvokeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// CallbackEvent captures a visibility callback delivered by the adapter.
type CallbackEvent struct {
	// Handle is the receiver handle the callback targeted.
	Handle uint32 `cbor:"1,keyasint,omitempty"`

	// Visible is the reported page visibility.
	Visible bool `cbor:"2,keyasint"`

	// Changed is true if the value differed from the last known one.
	Changed bool `cbor:"3,keyasint,omitempty"`

	// Observers is the number of observers notified.
	Observers int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityController indicates a subscription phase change.
	StateEntityController StateEntity = 0
	// StateEntityConnection indicates a host channel state change.
	StateEntityConnection StateEntity = 1
	// StateEntityPublisher indicates a publisher lifecycle change.
	StateEntityPublisher StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityController:
		return "CONTROLLER"
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityPublisher:
		return "PUBLISHER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
