// Package gate provides the connection gate consulted before any bridge call.
//
// A Gate wraps a ReadinessProvider, typically the host connection manager,
// and lets the subscription controller suspend until the channel to the
// adapter host is usable.
//
// # Waiting
//
// AwaitReady returns at once when the provider already reports a usable
// channel. Otherwise the caller joins the single shared watcher:
//
//   - If the provider implements ReadinessNotifier, the watcher is one
//     NotifyConnected registration.
//   - Otherwise the watcher is one poll loop sampling IsConnected every
//     PollInterval (20ms by default).
//
// Many concurrent waiters never produce more than one watcher, and the
// watcher is stopped as soon as readiness is observed or the last waiter
// gives up.
package gate
