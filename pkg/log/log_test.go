package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pagevis/pagevis-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger records events for testing.
type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestNoopLogger(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
	logger.Log(Event{Invoke: &InvokeEvent{Function: "eval"}})

	assert.Equal(t, NoopLogger{}, OrNoop(nil))
	r := &recordingLogger{}
	assert.Same(t, r, OrNoop(r))
}

func TestMultiLoggerCallsAllAndSkipsNil(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Log(Event{SessionID: "s-1"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "s-1", b.events[0].SessionID)

	NewMultiLogger().Log(Event{})
}

func TestEventRoundTrip(t *testing.T) {
	status := wire.StatusUnavailable
	d := 1500 * time.Microsecond
	event := Event{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		SessionID: "session-1",
		Direction: DirectionIn,
		Layer:     LayerWire,
		Category:  CategoryMessage,
		Invoke: &InvokeEvent{
			Type:      InvokeResponse,
			MessageID: 4,
			Function:  "window.pageVisibilityAdapter.subscribe",
			Status:    &status,
			Duration:  &d,
		},
	}

	data, err := EncodeEvent(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
	require.NotNil(t, decoded.Invoke)
	assert.Equal(t, wire.StatusUnavailable, *decoded.Invoke.Status)
	assert.Equal(t, d, *decoded.Invoke.Duration)
	assert.Nil(t, decoded.Callback)
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.vlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	base := time.Now()
	logger.Log(Event{Timestamp: base, SessionID: "a", Layer: LayerBridge, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityController, OldState: "UNSUBSCRIBED", NewState: "WAITING_FOR_CONNECTION"}})
	logger.Log(Event{Timestamp: base.Add(time.Millisecond), SessionID: "a", Layer: LayerBridge, Category: CategoryCallback,
		Callback: &CallbackEvent{Handle: 1, Visible: false, Changed: true, Observers: 2}})
	logger.Log(Event{Timestamp: base.Add(2 * time.Millisecond), SessionID: "b", Layer: LayerBridge, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityConnection, NewState: "CONNECTED"}})
	assert.Equal(t, 3, logger.Count())
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	// Ignored after close.
	logger.Log(Event{SessionID: "late"})

	reader, err := NewReader(path)
	require.NoError(t, err)
	all, err := reader.ReadAll()
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[1].Callback.Observers)

	entity := StateEntityController
	reader, err = NewFilteredReader(path, Filter{SessionID: "a", Entity: &entity})
	require.NoError(t, err)
	defer reader.Close()

	event, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "WAITING_FOR_CONNECTION", event.StateChange.NewState)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.vlog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		require.NoError(t, err)
		logger.Log(Event{SessionID: "s"})
		require.NoError(t, logger.Close())
	}

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	all, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.vlog")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Log(Event{SessionID: "s", Category: CategoryCallback, Callback: &CallbackEvent{Visible: j%2 == 0}})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, logger.Flush())
	require.NoError(t, logger.Close())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	all, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 200)
}

func TestReaderFilterByTimeRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.vlog")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	for i := -1; i <= 2; i++ {
		logger.Log(Event{Timestamp: base.Add(time.Duration(i) * time.Hour), SessionID: "s"})
	}
	require.NoError(t, logger.Close())

	end := base.Add(2 * time.Hour)
	reader, err := NewFilteredReader(path, Filter{TimeStart: &base, TimeEnd: &end})
	require.NoError(t, err)
	defer reader.Close()

	all, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		SessionID: "s-9",
		Direction: DirectionOut,
		Layer:     LayerWire,
		Category:  CategoryMessage,
		Invoke:    &InvokeEvent{Type: InvokeRequest, MessageID: 3, Function: "eval"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bridge", entry["msg"])
	assert.Equal(t, "s-9", entry["session_id"])
	assert.Equal(t, "OUT", entry["direction"])
	assert.Equal(t, "WIRE", entry["layer"])
	assert.Equal(t, "eval", entry["function"])
	assert.Equal(t, float64(3), entry["msg_id"])
}

func TestSlogAdapterStateChange(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		Layer:    LayerBridge,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityController,
			OldState: "SUBSCRIBING",
			NewState: "UNSUBSCRIBED",
			Reason:   "interop unavailable",
		},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "CONTROLLER", entry["entity"])
	assert.Equal(t, "interop unavailable", entry["reason"])
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "BRIDGE", LayerBridge.String())
	assert.Equal(t, "CALLBACK", CategoryCallback.String())
	assert.Equal(t, "RESPONSE", InvokeResponse.String())
	assert.Equal(t, "PUBLISHER", StateEntityPublisher.String())
	assert.Equal(t, "UNKNOWN", Layer(9).String())
}
