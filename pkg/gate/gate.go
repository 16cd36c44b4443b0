package gate

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the readiness poll interval used when the provider
// cannot push notifications.
const DefaultPollInterval = 20 * time.Millisecond

// ReadinessProvider reports whether the channel to the host is usable.
type ReadinessProvider interface {
	IsConnected() bool
}

// ReadinessNotifier is a ReadinessProvider that can push readiness changes.
// NotifyConnected registers fn to be called each time the channel becomes
// usable; stop unregisters it.
type ReadinessNotifier interface {
	ReadinessProvider
	NotifyConnected(fn func()) (stop func())
}

// Config configures a Gate.
type Config struct {
	// PollInterval is used when the provider is not a ReadinessNotifier.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration
}

// Gate lets callers wait until the host channel is usable.
//
// All concurrent waiters share one watcher: a single poll loop, or a single
// notifier registration. The watcher exists only while someone is waiting.
type Gate struct {
	provider ReadinessProvider
	interval time.Duration

	mu      sync.Mutex
	ready   chan struct{} // closed when the current watcher sees readiness
	waiters int
	stop    func() // stops the current watcher
}

// New creates a gate over provider.
func New(provider ReadinessProvider, cfg Config) *Gate {
	if provider == nil {
		panic("gate: provider must not be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Gate{provider: provider, interval: cfg.PollInterval}
}

// IsReady samples the provider.
func (g *Gate) IsReady() bool {
	return g.provider.IsConnected()
}

// Waiters returns the number of callers currently suspended in AwaitReady.
func (g *Gate) Waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters
}

// AwaitReady returns once the channel is usable, or ctx is done.
// It returns immediately, without starting a watcher, if the channel is
// already usable.
func (g *Gate) AwaitReady(ctx context.Context) error {
	if g.provider.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := g.join()
	defer g.leave(ready)

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join registers a waiter and returns the shared ready channel, starting a
// watcher if none is running.
func (g *Gate) join() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.waiters++
	if g.ready == nil {
		ready := make(chan struct{})
		g.ready = ready
		g.stop = g.watch(ready)
	}
	return g.ready
}

// leave unregisters a waiter. The last waiter out stops a watcher that has
// not fired yet.
func (g *Gate) leave(ready chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.waiters--
	if g.waiters == 0 && g.ready == ready {
		g.stop()
		g.ready = nil
		g.stop = nil
	}
}

// fire closes ready if it is still the current watcher's channel.
func (g *Gate) fire(ready chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready != ready {
		return
	}
	close(ready)
	g.ready = nil
	if g.stop != nil {
		g.stop()
		g.stop = nil
	}
}

// watch starts a watcher that fires ready once the provider is connected.
// Called with g.mu held; the returned stop func is called with g.mu held.
func (g *Gate) watch(ready chan struct{}) (stop func()) {
	if n, ok := g.provider.(ReadinessNotifier); ok {
		return g.watchNotifier(n, ready)
	}
	return g.watchPoll(ready)
}

func (g *Gate) watchNotifier(n ReadinessNotifier, ready chan struct{}) func() {
	var once sync.Once
	signal := make(chan struct{})
	unregister := n.NotifyConnected(func() {
		once.Do(func() { close(signal) })
	})

	quit := make(chan struct{})
	go func() {
		select {
		case <-signal:
			g.fire(ready)
		case <-quit:
		}
	}()

	// Readiness may have flipped between the caller's sample and registration.
	if n.IsConnected() {
		once.Do(func() { close(signal) })
	}

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			close(quit)
			unregister()
		})
	}
}

func (g *Gate) watchPoll(ready chan struct{}) func() {
	quit := make(chan struct{})
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if g.provider.IsConnected() {
					g.fire(ready)
					return
				}
			}
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(quit) })
	}
}
