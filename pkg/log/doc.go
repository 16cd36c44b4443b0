// Package log captures bridge-level events for a visibility session.
//
// It is separate from operational logging (slog). The event log is a complete
// machine-readable trace of what crossed the interop bridge and how the
// subscription state machine reacted, useful when a page stops receiving
// visibility updates and nobody knows why.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/pagevis/session.vlog")
//
//	// Both
//	cfg.EventLogger = log.NewMultiLogger(consoleLogger, fileLogger)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: bridge invocations and their results (InvokeEvent)
//   - Bridge: visibility callbacks (CallbackEvent) and state changes of the
//     controller, connection and publisher (StateChangeEvent)
//
// Errors at any layer have a dedicated payload (ErrorEventData).
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys, one after
// another, conventionally with a .vlog extension. Reader streams them back
// with optional filtering.
package log
