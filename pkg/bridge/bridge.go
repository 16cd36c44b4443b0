package bridge

import (
	"context"
	_ "embed"
	"errors"
)

// Adapter entry points on the host side.
const (
	// AdapterFunction evaluates the adapter script once per page.
	AdapterFunction = "eval"

	// SubscribeFunction starts visibility callbacks to a Receiver handle.
	SubscribeFunction = "window.pageVisibilityAdapter.subscribe"

	// UnsubscribeFunction stops visibility callbacks.
	UnsubscribeFunction = "window.pageVisibilityAdapter.unsubscribe"
)

// AdapterScript is the page-side adapter installed through AdapterFunction.
//
//go:embed adapter.js
var AdapterScript string

// Bridge errors.
var (
	// ErrInteropUnavailable is returned by a Bridge when the channel to the
	// adapter host cannot carry the call.
	ErrInteropUnavailable = errors.New("interop unavailable")

	// ErrAdapterInjection wraps a failed adapter bootstrap call.
	ErrAdapterInjection = errors.New("adapter injection failed")
)

// Bridge is the asynchronous interop channel to the page-side adapter.
//
// Invoke blocks until the call resolves or ctx is done. Implementations
// return an error wrapping ErrInteropUnavailable when the channel is not
// usable. Arguments that implement Receiver are callback handles: the
// adapter reports visibility through them until unsubscribed.
type Bridge interface {
	Invoke(ctx context.Context, function string, args ...any) (any, error)
}

// Receiver accepts visibility callbacks from the adapter.
type Receiver interface {
	SetVisibility(visible bool)
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, function string, args ...any) (any, error)

// Invoke calls f.
func (f BridgeFunc) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	return f(ctx, function, args...)
}

var _ Bridge = BridgeFunc(nil)
