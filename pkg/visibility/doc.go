// Package visibility publishes page visibility to application observers.
//
// A Publisher owns one bridge.Controller. Attaching the first observer
// requests the adapter subscription and detaching the last one releases it.
// The adapter reports visibility through Publisher.SetVisibility, which
// fans a changed value out to the observers in attach order.
//
// Usage:
//
//	g := gate.New(conn, gate.Config{})
//	p := visibility.New(client, g, visibility.Config{})
//	defer p.Close()
//
//	h, err := p.Attach(func(visible bool) {
//	    if !visible {
//	        pauseRendering()
//	    }
//	})
//	...
//	p.Detach(h)
package visibility
