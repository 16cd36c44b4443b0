// Command pagevis-sim runs an adapter host and a visibility session against
// it in one process.
//
// The host plays the page: it accepts the adapter script and reports
// visibility changes. The session is the application side: it connects,
// reconnects and keeps the adapter subscription alive while observers are
// attached.
//
// Usage:
//
//	pagevis-sim [flags]
//
// Flags:
//
//	-config string      Session configuration file (YAML)
//	-listen string      Host listen address (default "127.0.0.1:7450")
//	-advertise          Advertise the host over mDNS
//	-discover           Find the host over mDNS instead of dialing -listen
//	-hidden             Start with the page hidden
//	-event-log string   Append CBOR bridge events to this file
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-interactive        Run the command prompt (default true)
//
// Examples:
//
//	# Interactive session against a local host
//	pagevis-sim
//
//	# Advertise and discover the host over mDNS, keep an event log
//	pagevis-sim -advertise -discover -event-log /tmp/pagevis.vlog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pagevis/pagevis-go/cmd/pagevis-sim/interactive"
	"github.com/pagevis/pagevis-go/pkg/discovery"
	"github.com/pagevis/pagevis-go/pkg/interop"
	"github.com/pagevis/pagevis-go/pkg/log"
	"github.com/pagevis/pagevis-go/pkg/service"
)

// Config holds the command line settings.
type Config struct {
	ConfigFile  string
	Listen      string
	Advertise   bool
	Discover    bool
	Hidden      bool
	EventLog    string
	LogLevel    string
	Interactive bool
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Session configuration file (YAML)")
	flag.StringVar(&config.Listen, "listen", net.JoinHostPort("127.0.0.1", strconv.Itoa(discovery.DefaultPort)), "Host listen address")
	flag.BoolVar(&config.Advertise, "advertise", false, "Advertise the host over mDNS")
	flag.BoolVar(&config.Discover, "discover", false, "Find the host over mDNS instead of dialing -listen")
	flag.BoolVar(&config.Hidden, "hidden", false, "Start with the page hidden")
	flag.StringVar(&config.EventLog, "event-log", "", "Append CBOR bridge events to this file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.Interactive, "interactive", true, "Run the command prompt")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pagevis-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := service.DefaultConfig()
	if config.ConfigFile != "" {
		loaded, err := service.LoadConfig(config.ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history := interactive.NewHistory(interactive.DefaultHistorySize)

	var prompt *interactive.Sim
	var out io.Writer = os.Stderr
	if config.Interactive {
		var err error
		prompt, err = interactive.New()
		if err != nil {
			return err
		}
		out = prompt.Stderr()
	}
	logger := setupLogging(out, config.LogLevel)

	// Host side.
	hostID := uuid.NewString()
	visible := !config.Hidden
	host := interop.NewHost(interop.HostConfig{
		InitialVisible: &visible,
		Logger:         logger,
	})

	ln, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := host.Accept(ctx, ln); err != nil {
			logger.Error("host stopped", "error", err)
		}
	}()
	logger.Info("adapter host listening", "addr", ln.Addr().String(), "host_id", hostID)

	if config.Advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
		info := &discovery.HostInfo{
			InstanceName: "pagevis-" + hostID[:8],
			Port:         uint16(ln.Addr().(*net.TCPAddr).Port),
			HostID:       hostID,
			App:          "pagevis-sim",
			Page:         "/",
		}
		if err := adv.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	// Session side.
	if config.Discover {
		cfg.Address = ""
		cfg.Discovery.Enabled = true
		cfg.Discovery.HostID = hostID
	} else if cfg.Address == "" && !cfg.Discovery.Enabled {
		cfg.Address = ln.Addr().String()
	}
	if config.EventLog != "" {
		cfg.EventLogPath = config.EventLog
	}
	cfg.Logger = logger
	cfg.EventLogger = history
	if config.LogLevel == "debug" {
		cfg.EventLogger = log.NewMultiLogger(history, log.NewSlogAdapter(logger))
	}

	session, err := service.NewSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("session close", "error", err)
		}
		cancel()
		<-hostDone
	}()

	if err := session.Start(ctx); err != nil {
		return err
	}
	logger.Info("session started", "session", session.ID())

	if prompt != nil {
		prompt.Run(ctx, cancel, session, host, history)
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}
	return nil
}

func setupLogging(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
