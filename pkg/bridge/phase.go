package bridge

// Phase is the subscription lifecycle phase of a Controller.
type Phase uint8

const (
	// PhaseUnsubscribed indicates no active or pending subscription.
	PhaseUnsubscribed Phase = iota

	// PhaseWaitingForConnection indicates a subscribe was requested but the
	// host channel is not usable yet.
	PhaseWaitingForConnection

	// PhaseSubscribing indicates adapter injection and the subscribe call are
	// in flight.
	PhaseSubscribing

	// PhaseSubscribed indicates the adapter acknowledged a live subscription.
	PhaseSubscribed

	// PhaseUnsubscribing indicates the unsubscribe call is in flight.
	PhaseUnsubscribing
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUnsubscribed:
		return "UNSUBSCRIBED"
	case PhaseWaitingForConnection:
		return "WAITING_FOR_CONNECTION"
	case PhaseSubscribing:
		return "SUBSCRIBING"
	case PhaseSubscribed:
		return "SUBSCRIBED"
	case PhaseUnsubscribing:
		return "UNSUBSCRIBING"
	default:
		return "UNKNOWN"
	}
}

// Settled reports whether no bridge work is pending in this phase.
func (p Phase) Settled() bool {
	return p == PhaseUnsubscribed || p == PhaseSubscribed
}
