package interactive

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pagevis/pagevis-go/pkg/log"
)

// DefaultHistorySize is the number of events kept for the events command.
const DefaultHistorySize = 200

// History keeps the most recent bridge events in memory.
type History struct {
	mu     sync.Mutex
	events []log.Event
	next   int
	full   bool
}

// NewHistory creates a history holding up to size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{events: make([]log.Event, size)}
}

// Log records an event, evicting the oldest when full.
func (h *History) Log(event log.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = event
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// Last returns up to n events, oldest first.
func (h *History) Last(n int) []log.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = len(h.events)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]log.Event, 0, n)
	for i := count - n; i < count; i++ {
		idx := i
		if h.full {
			idx = (h.next + i) % len(h.events)
		}
		out = append(out, h.events[idx])
	}
	return out
}

var _ log.Logger = (*History)(nil)

// formatEvent renders one event as a single line.
func formatEvent(e log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s %-8s %-3s ", e.Timestamp.Format("15:04:05.000"), e.Layer, e.Category, e.Direction)

	switch {
	case e.Invoke != nil:
		fmt.Fprintf(&b, "%s %s", e.Invoke.Type, e.Invoke.Function)
		if e.Invoke.Handle != 0 {
			fmt.Fprintf(&b, " handle=%d", e.Invoke.Handle)
		}
		if e.Invoke.Status != nil {
			fmt.Fprintf(&b, " status=%s", *e.Invoke.Status)
		}
		if e.Invoke.Duration != nil {
			fmt.Fprintf(&b, " took=%s", *e.Invoke.Duration)
		}
	case e.Callback != nil:
		fmt.Fprintf(&b, "visible=%v", e.Callback.Visible)
		if e.Callback.Changed {
			fmt.Fprintf(&b, " observers=%d", e.Callback.Observers)
		}
	case e.StateChange != nil:
		fmt.Fprintf(&b, "%s %s -> %s", e.StateChange.Entity, e.StateChange.OldState, e.StateChange.NewState)
		if e.StateChange.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.StateChange.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, "%s: %s", e.Error.Context, e.Error.Message)
	case e.Frame != nil:
		fmt.Fprintf(&b, "frame %d bytes", e.Frame.Size)
	}
	return b.String()
}
