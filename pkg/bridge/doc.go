// Package bridge drives the page-side visibility adapter subscription.
//
// The Bridge interface is the asynchronous call channel to the adapter
// host. Controller owns the single subscription slot on that channel and
// moves through these phases:
//
//	UNSUBSCRIBED -> WAITING_FOR_CONNECTION -> SUBSCRIBING -> SUBSCRIBED
//	      ^                 |                      |              |
//	      +-----------------+                      v              v
//	      +---------------------------------- UNSUBSCRIBING <-----+
//
// The adapter script is injected once, before the first subscribe call, and
// is reinjected only if injection failed.
package bridge
