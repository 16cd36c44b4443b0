package visibility_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pagevis/pagevis-go/internal/bridgetest"
	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects observer notifications across observers.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) observer(name string) visibility.Observer {
	return func(visible bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if visible {
			r.calls = append(r.calls, name+":visible")
		} else {
			r.calls = append(r.calls, name+":hidden")
		}
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newPublisher(t *testing.T, provider gate.ReadinessProvider) (*visibility.Publisher, *bridgetest.Bridge) {
	t.Helper()
	b := bridgetest.NewBridge()
	g := gate.New(provider, gate.Config{PollInterval: time.Millisecond})
	p := visibility.New(b, g, visibility.Config{SessionID: "test"})
	t.Cleanup(func() {
		_ = p.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Wait(ctx)
	})
	return p, b
}

func settle(t *testing.T, p *visibility.Publisher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestCurrentVisibilityDefaultsToVisible(t *testing.T) {
	p, _ := newPublisher(t, bridgetest.NewReadiness(true))
	assert.True(t, p.CurrentVisibility())
	assert.Zero(t, p.Observers())
}

func TestTwoAttachesShareOneSubscription(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))
	b.Hold(bridge.SubscribeFunction)

	var rec recorder
	a, err := p.Attach(rec.observer("a"))
	require.NoError(t, err)
	bh, err := p.Attach(rec.observer("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, bh)

	b.Release(bridge.SubscribeFunction)
	settle(t, p)
	assert.Equal(t, 1, b.Count(bridge.SubscribeFunction))
	assert.Equal(t, bridge.PhaseSubscribed, p.Controller().Phase())

	require.NoError(t, p.Detach(a))
	settle(t, p)
	assert.Zero(t, b.Count(bridge.UnsubscribeFunction), "detaching a non-last observer")

	require.NoError(t, p.Detach(bh))
	settle(t, p)
	assert.Equal(t, 1, b.Count(bridge.UnsubscribeFunction))
	assert.Equal(t, bridge.PhaseUnsubscribed, p.Controller().Phase())
	assert.Equal(t, 1, b.Count(bridge.AdapterFunction))
}

func TestAttachWaitsForReadiness(t *testing.T) {
	ready := bridgetest.NewNotifier(false)
	p, b := newPublisher(t, ready)
	b.SetInitialVisibility(false)

	var rec recorder
	_, err := p.Attach(rec.observer("a"))
	require.NoError(t, err)
	_, err = p.Attach(rec.observer("b"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.Calls())
	assert.Equal(t, bridge.PhaseWaitingForConnection, p.Controller().Phase())

	ready.Set(true)
	settle(t, p)

	assert.Equal(t, 1, b.Count(bridge.SubscribeFunction))
	assert.Equal(t, []string{"a:hidden", "b:hidden"}, rec.got())
	assert.False(t, p.CurrentVisibility())
}

func TestDetachDuringSubscribe(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))
	b.Hold(bridge.SubscribeFunction)

	h, err := p.Attach(func(bool) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Count(bridge.SubscribeFunction) == 1 },
		time.Second, time.Millisecond)

	require.NoError(t, p.Detach(h))
	b.Release(bridge.SubscribeFunction)
	settle(t, p)

	assert.Equal(t, []string{
		bridge.AdapterFunction,
		bridge.SubscribeFunction,
		bridge.UnsubscribeFunction,
	}, b.Functions())
	assert.Equal(t, bridge.PhaseUnsubscribed, p.Controller().Phase())
	assert.False(t, b.Subscribed())
}

func TestSetVisibilityNotifiesOnlyOnChange(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	var rec recorder
	for _, name := range []string{"a", "b", "c"} {
		_, err := p.Attach(rec.observer(name))
		require.NoError(t, err)
	}
	settle(t, p)

	require.True(t, b.Fire(true))
	assert.Empty(t, rec.got(), "unchanged value")

	require.True(t, b.Fire(false))
	require.True(t, b.Fire(false))
	assert.Equal(t, []string{"a:hidden", "b:hidden", "c:hidden"}, rec.got())

	require.True(t, b.Fire(true))
	assert.Equal(t, []string{
		"a:hidden", "b:hidden", "c:hidden",
		"a:visible", "b:visible", "c:visible",
	}, rec.got())
}

func TestMutationDuringNotification(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	var rec recorder
	var second visibility.Handle
	var late visibility.Handle
	first, err := p.Attach(func(visible bool) {
		rec.observer("a")(visible)
		if !visible {
			assert.NoError(t, p.Detach(second))
			late, _ = p.Attach(rec.observer("late"))
		}
	})
	require.NoError(t, err)
	second, err = p.Attach(rec.observer("b"))
	require.NoError(t, err)
	settle(t, p)

	require.True(t, b.Fire(false))
	assert.Equal(t, []string{"a:hidden", "b:hidden"}, rec.got(), "snapshot taken at notification time")

	require.True(t, b.Fire(true))
	assert.Equal(t, []string{"a:hidden", "b:hidden", "a:visible", "late:visible"}, rec.got())

	require.NoError(t, p.Detach(first))
	require.NoError(t, p.Detach(late))
	settle(t, p)
	assert.Equal(t, 1, b.Count(bridge.UnsubscribeFunction))
}

func TestDetachUnknownHandle(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	assert.NoError(t, p.Detach(visibility.Handle(99)))
	settle(t, p)
	assert.Empty(t, b.Calls())
}

func TestAttachNilObserver(t *testing.T) {
	p, _ := newPublisher(t, bridgetest.NewReadiness(true))

	_, err := p.Attach(nil)
	assert.Error(t, err)
	assert.Zero(t, p.Observers())
}

func TestCloseIsIdempotent(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	var rec recorder
	h, err := p.Attach(rec.observer("a"))
	require.NoError(t, err)
	settle(t, p)

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	settle(t, p)

	assert.Equal(t, 1, b.Count(bridge.UnsubscribeFunction))
	assert.Zero(t, p.Observers())

	_, err = p.Attach(rec.observer("b"))
	assert.ErrorIs(t, err, visibility.ErrDisposed)
	assert.ErrorIs(t, p.Detach(h), visibility.ErrDisposed)

	p.SetVisibility(false)
	assert.Empty(t, rec.got(), "callbacks after close are absorbed")
	assert.True(t, p.CurrentVisibility())
}

func TestCloseWithoutObserversMakesNoCalls(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	require.NoError(t, p.Close())
	settle(t, p)
	assert.Empty(t, b.Calls())
}

func TestCloseDuringSubscribe(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))
	b.Hold(bridge.SubscribeFunction)
	b.SetInitialVisibility(false)

	var rec recorder
	_, err := p.Attach(rec.observer("a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Count(bridge.SubscribeFunction) == 1 },
		time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	b.Release(bridge.SubscribeFunction)
	settle(t, p)

	assert.Equal(t, 1, b.Count(bridge.UnsubscribeFunction))
	assert.Empty(t, rec.got())
	assert.False(t, b.Subscribed())
}

func TestAttachRetriesAfterUnavailable(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))
	b.SetUnavailable(true)

	_, err := p.Attach(func(bool) {})
	require.NoError(t, err, "bridge errors are not surfaced to attach")
	settle(t, p)
	assert.Equal(t, bridge.PhaseUnsubscribed, p.Controller().Phase())

	b.SetUnavailable(false)
	_, err = p.Attach(func(bool) {})
	require.NoError(t, err)
	settle(t, p)

	assert.Equal(t, bridge.PhaseSubscribed, p.Controller().Phase())
	assert.Equal(t, 1, b.Count(bridge.SubscribeFunction))
}

func TestPhaseCallbackCanReadPublisher(t *testing.T) {
	p, _ := newPublisher(t, bridgetest.NewReadiness(true))

	var mu sync.Mutex
	var seen []int
	p.Controller().OnPhaseChange(func(_, _ bridge.Phase) {
		n := p.Observers()
		_ = p.CurrentVisibility()
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Attach(func(bool) {})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("attach blocked on phase callback")
	}
	settle(t, p)

	assert.Equal(t, bridge.PhaseSubscribed, p.Controller().Phase())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestPhaseCallbackCanAttach(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	var once sync.Once
	attached := make(chan error, 1)
	p.Controller().OnPhaseChange(func(_, newPhase bridge.Phase) {
		if newPhase != bridge.PhaseWaitingForConnection {
			return
		}
		once.Do(func() {
			_, err := p.Attach(func(bool) {})
			attached <- err
		})
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Attach(func(bool) {})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("attach blocked on phase callback")
	}
	require.NoError(t, <-attached)
	settle(t, p)

	assert.Equal(t, 2, p.Observers())
	assert.Equal(t, bridge.PhaseSubscribed, p.Controller().Phase())
	assert.Equal(t, 1, b.Count(bridge.SubscribeFunction))
}

func TestCloseFromPhaseCallback(t *testing.T) {
	p, b := newPublisher(t, bridgetest.NewReadiness(true))

	p.Controller().OnPhaseChange(func(_, newPhase bridge.Phase) {
		if newPhase == bridge.PhaseSubscribed {
			_ = p.Close()
		}
	})

	_, err := p.Attach(func(bool) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Count(bridge.UnsubscribeFunction) == 1 },
		time.Second, time.Millisecond)
	settle(t, p)

	assert.Equal(t, bridge.PhaseUnsubscribed, p.Controller().Phase())
	assert.False(t, b.Subscribed())
}
