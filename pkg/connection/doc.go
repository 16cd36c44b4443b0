// Package connection tracks the channel to the adapter host.
//
// A Manager runs a caller-supplied ConnectFunc, reports state changes and
// reconnects after a loss. It implements gate.ReadinessNotifier, so a gate
// built over it wakes waiters as soon as the channel comes back instead of
// polling.
//
// # Reconnection Strategy
//
// When the channel is lost, the manager retries with exponential backoff:
//
//  1. Initial delay: 250ms
//  2. Exponential increase: 500ms, 1s, 2s, 4s, 8s
//  3. Maximum delay: 15 seconds
//  4. Continue at the maximum until successful
//  5. Reset to the initial delay on success
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
