package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pagevis/pagevis-go/pkg/gate"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        40 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			15 * time.Second,
			15 * time.Second, // stays at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			assert.InDelta(t, float64(exp), float64(base), float64(time.Millisecond), "attempt %d", i)
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 10)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(InitialBackoff)*(1+JitterFactor)) + time.Millisecond
		allSame := true
		for i, s := range samples {
			assert.GreaterOrEqual(t, s, InitialBackoff, "sample %d", i)
			assert.LessOrEqual(t, s, upper, "sample %d", i)
			if s != samples[0] {
				allSame = false
			}
		}
		assert.False(t, allSame, "jitter should vary")
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		require.Greater(t, b.Current(), InitialBackoff)

		b.Reset()
		assert.Equal(t, InitialBackoff, b.Current())
		assert.Zero(t, b.Attempts())
	})

	t.Run("Attempts", func(t *testing.T) {
		b := NewBackoff()
		assert.Zero(t, b.Attempts())
		for i := 1; i <= 5; i++ {
			b.Next()
			assert.Equal(t, i, b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			assert.Equal(t, exp, b.Next(), "attempt %d", i)
		}
	})
}

func TestBackoffSequence(t *testing.T) {
	seq := DefaultBackoffConfig().Sequence()

	require.Len(t, seq, 7)
	assert.Equal(t, InitialBackoff, seq[0])
	assert.Equal(t, MaxBackoff, seq[len(seq)-1])

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
	}, BackoffConfig{Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond}.Sequence())
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		defer m.Close()

		assert.Equal(t, StateDisconnected, m.State())
		assert.False(t, m.IsConnected())
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		connectCalled := false
		m := NewManager(func(ctx context.Context) error {
			connectCalled = true
			return nil
		})
		defer m.Close()

		var connectedCalled bool
		m.OnConnected(func() { connectedCalled = true })

		require.NoError(t, m.Connect(context.Background()))
		assert.True(t, connectCalled)
		assert.True(t, connectedCalled)
		assert.Equal(t, StateConnected, m.State())
	})

	t.Run("FailedConnect", func(t *testing.T) {
		expectedErr := errors.New("connection failed")
		m := NewManager(func(ctx context.Context) error { return expectedErr })
		defer m.Close()

		assert.ErrorIs(t, m.Connect(context.Background()), expectedErr)
		assert.Equal(t, StateDisconnected, m.State())
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		defer m.Close()

		require.NoError(t, m.Connect(context.Background()))
		assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)
	})

	t.Run("ConnectAfterClose", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.Close()

		assert.ErrorIs(t, m.Connect(context.Background()), ErrConnectionClosed)
		assert.Equal(t, StateClosed, m.State())
	})

	t.Run("Disconnect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.SetAutoReconnect(false)
		defer m.Close()

		require.NoError(t, m.Connect(context.Background()))

		var disconnectedCalled bool
		m.OnDisconnected(func() { disconnectedCalled = true })

		m.Disconnect()
		assert.True(t, disconnectedCalled)
		assert.Equal(t, StateDisconnected, m.State())
	})

	t.Run("StateChangeCallback", func(t *testing.T) {
		events := &capture{}
		m := NewManagerWithConfig(func(ctx context.Context) error { return nil }, Config{
			DisableAutoReconnect: true,
			EventLogger:          events,
			SessionID:            "s1",
		})
		defer m.Close()

		type transition struct{ old, new State }
		var transitions []transition
		m.OnStateChange(func(old, new State) {
			transitions = append(transitions, transition{old, new})
		})

		require.NoError(t, m.Connect(context.Background()))
		m.Disconnect()

		assert.Equal(t, []transition{
			{StateDisconnected, StateConnecting},
			{StateConnecting, StateConnected},
			{StateConnected, StateDisconnected},
		}, transitions)
		assert.Equal(t, []string{"CONNECTING", "CONNECTED", "DISCONNECTED"}, events.states())
	})
}

func TestManagerNotifyConnected(t *testing.T) {
	m := NewManagerWithConfig(func(ctx context.Context) error { return nil }, Config{DisableAutoReconnect: true})
	defer m.Close()

	var fired atomic.Int32
	stop := m.NotifyConnected(func() { fired.Add(1) })

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), fired.Load())

	m.Disconnect()
	stop()
	stop()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), fired.Load(), "stopped listener must not fire")
}

func TestManagerWakesGateWaiters(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil })
	defer m.Close()

	g := gate.New(m, gate.Config{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- g.AwaitReady(context.Background()) }()
	require.Eventually(t, func() bool { return g.Waiters() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Connect(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate waiter not woken by manager")
	}
}

func TestManagerReconnect(t *testing.T) {
	t.Run("AutoReconnectOnLoss", func(t *testing.T) {
		var connectCount atomic.Int32
		m := NewManagerWithConfig(func(ctx context.Context) error {
			connectCount.Add(1)
			return nil
		}, Config{Backoff: fastBackoff()})
		m.StartReconnectLoop()
		defer m.Close()

		require.NoError(t, m.Connect(context.Background()))
		m.NotifyConnectionLost()

		assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
		assert.GreaterOrEqual(t, connectCount.Load(), int32(2))
		assert.Zero(t, m.BackoffAttempts(), "backoff resets on success")
	})

	t.Run("BackoffOnFailure", func(t *testing.T) {
		var connectCount atomic.Int32
		var mu sync.Mutex
		var attempts []time.Time

		m := NewManagerWithConfig(func(ctx context.Context) error {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()

			if connectCount.Add(1) < 4 {
				return errors.New("not yet")
			}
			return nil
		}, Config{Backoff: BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        200 * time.Millisecond,
			Multiplier: 2.0,
		}})

		var reconnecting []int
		m.OnReconnecting(func(attempt int, delay time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			reconnecting = append(reconnecting, attempt)
		})
		m.StartReconnectLoop()
		defer m.Close()

		require.Error(t, m.Connect(context.Background()))
		m.mu.Lock()
		m.state = StateReconnecting
		m.mu.Unlock()
		m.triggerReconnect()

		require.Eventually(t, m.IsConnected, 2*time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, attempts, 4)
		assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 15*time.Millisecond)
		assert.GreaterOrEqual(t, attempts[3].Sub(attempts[2]), 30*time.Millisecond)
		assert.Equal(t, []int{1, 2, 3}, reconnecting)
	})

	t.Run("DisabledAutoReconnect", func(t *testing.T) {
		var connectCount atomic.Int32
		m := NewManagerWithConfig(func(ctx context.Context) error {
			connectCount.Add(1)
			return nil
		}, Config{Backoff: fastBackoff(), DisableAutoReconnect: true})
		m.StartReconnectLoop()
		defer m.Close()

		require.NoError(t, m.Connect(context.Background()))
		m.Disconnect()

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, StateDisconnected, m.State())
		assert.Equal(t, int32(1), connectCount.Load())
	})

	t.Run("CloseStopsReconnecting", func(t *testing.T) {
		var connectCount atomic.Int32
		m := NewManagerWithConfig(func(ctx context.Context) error {
			if connectCount.Add(1) == 1 {
				return nil
			}
			return errors.New("host gone")
		}, Config{Backoff: fastBackoff()})
		m.StartReconnectLoop()

		require.NoError(t, m.Connect(context.Background()))
		m.NotifyConnectionLost()
		require.Eventually(t, func() bool { return connectCount.Load() >= 3 }, time.Second, time.Millisecond)

		m.Close()
		settled := connectCount.Load()
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, settled, connectCount.Load())
		assert.Equal(t, StateClosed, m.State())
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

type capture struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *capture) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityConnection {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}
