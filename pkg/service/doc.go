// Package service wires the visibility stack into one session per
// application.
//
// A Session owns:
//   - an interop.Client speaking to the adapter host over a framed TCP
//     connection
//   - a connection.Manager that dials, detects loss and reconnects with
//     backoff
//   - a gate.Gate fed by the manager's readiness notifications
//   - a visibility.Publisher whose subscription runs over the client
//
// Every event the stack emits carries the session UUID and goes to the
// configured event logger and, optionally, a CBOR event log file.
//
// Example usage:
//
//	cfg, err := service.LoadConfig("pagevis.yaml")
//	if err != nil {
//		return err
//	}
//	cfg.Logger = slog.Default()
//
//	s, err := service.NewSession(cfg)
//	if err != nil {
//		return err
//	}
//	defer s.Close(context.Background())
//
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	h, _ := s.Attach(func(visible bool) {
//		fmt.Println("page visible:", visible)
//	})
//	defer s.Detach(h)
//
// # Configuration
//
// Config is usually loaded from YAML. Unset keys keep the values from
// DefaultConfig:
//
//	address: 127.0.0.1:7450
//	call_timeout: 5s
//	auto_reconnect: true
//	event_log: /var/log/pagevis/session.vlog
//	reconnect_backoff:
//	  initial: 250ms
//	  max: 15s
//	discovery:
//	  enabled: false
//	  host_id: ""
package service
