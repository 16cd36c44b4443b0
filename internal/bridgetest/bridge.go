// Package bridgetest provides controllable fakes for bridge and gate tests.
package bridgetest

import (
	"context"
	"sync"

	"github.com/pagevis/pagevis-go/pkg/bridge"
)

// Call is one recorded bridge invocation.
type Call struct {
	Function string
	Args     []any
}

// Bridge is an in-memory bridge.Bridge.
//
// Calls resolve immediately unless held with Hold. A successful subscribe
// remembers the receiver passed to it so tests can drive callbacks with Fire.
type Bridge struct {
	mu          sync.Mutex
	calls       []Call
	errs        map[string]error
	holds       map[string]chan struct{}
	unavailable bool
	receiver    bridge.Receiver
	initial     *bool
	inFlight    int
	maxInFlight int
}

var _ bridge.Bridge = (*Bridge)(nil)

// NewBridge creates a fake bridge.
func NewBridge() *Bridge {
	return &Bridge{
		errs:  make(map[string]error),
		holds: make(map[string]chan struct{}),
	}
}

// Invoke records the call and resolves it.
func (b *Bridge) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Function: function, Args: args})
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	hold := b.holds[function]
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	if b.unavailable {
		b.mu.Unlock()
		return nil, bridge.ErrInteropUnavailable
	}
	if err := b.errs[function]; err != nil {
		b.mu.Unlock()
		return nil, err
	}

	var notify bridge.Receiver
	var initial bool
	switch function {
	case bridge.SubscribeFunction:
		for _, arg := range args {
			if r, ok := arg.(bridge.Receiver); ok {
				b.receiver = r
			}
		}
		if b.initial != nil {
			notify, initial = b.receiver, *b.initial
		}
	case bridge.UnsubscribeFunction:
		b.receiver = nil
	}
	b.mu.Unlock()

	if notify != nil {
		notify.SetVisibility(initial)
	}
	return nil, nil
}

// Hold makes calls to function block until Release.
func (b *Bridge) Hold(function string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holds[function] == nil {
		b.holds[function] = make(chan struct{})
	}
}

// Release resolves every held call to function and stops holding it.
func (b *Bridge) Release(function string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch := b.holds[function]; ch != nil {
		close(ch)
		delete(b.holds, function)
	}
}

// SetError makes calls to function fail with err. A nil err clears it.
func (b *Bridge) SetError(function string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, function)
		return
	}
	b.errs[function] = err
}

// SetUnavailable makes every call fail with bridge.ErrInteropUnavailable.
func (b *Bridge) SetUnavailable(unavailable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = unavailable
}

// SetInitialVisibility makes a successful subscribe call the receiver once
// with visible before returning, as the page adapter does.
func (b *Bridge) SetInitialVisibility(visible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initial = &visible
}

// Fire delivers a visibility callback to the subscribed receiver.
// It reports false when nothing is subscribed.
func (b *Bridge) Fire(visible bool) bool {
	b.mu.Lock()
	r := b.receiver
	b.mu.Unlock()
	if r == nil {
		return false
	}
	r.SetVisibility(visible)
	return true
}

// Subscribed reports whether a receiver is currently registered.
func (b *Bridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiver != nil
}

// Calls returns a copy of all recorded calls.
func (b *Bridge) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Count returns the number of calls to function.
func (b *Bridge) Count(function string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Function == function {
			n++
		}
	}
	return n
}

// Functions returns the recorded function names in call order.
func (b *Bridge) Functions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Function
	}
	return out
}

// MaxInFlight returns the highest number of concurrently unresolved calls.
func (b *Bridge) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}
