// Package interactive provides the command prompt for pagevis-sim.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/pagevis/pagevis-go/pkg/interop"
	"github.com/pagevis/pagevis-go/pkg/service"
	"github.com/pagevis/pagevis-go/pkg/visibility"
)

// Sim handles interactive mode for pagevis-sim.
type Sim struct {
	rl *readline.Instance

	session *service.Session
	host    *interop.Host
	history *History

	mu       sync.Mutex
	attached map[visibility.Handle]bool
}

// New creates the prompt. Call Run once the session is started.
func New() (*Sim, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagevis> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Sim{rl: rl, attached: make(map[visibility.Handle]bool)}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
func (s *Sim) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Sim) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run starts the interactive command loop.
func (s *Sim) Run(ctx context.Context, cancel context.CancelFunc, session *service.Session, host *interop.Host, history *History) {
	defer s.rl.Close()

	s.session = session
	s.host = host
	s.history = history

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "attach", "a":
			s.cmdAttach()

		case "detach", "d":
			s.cmdDetach(args)

		case "show":
			s.cmdVisible(true)

		case "hide":
			s.cmdVisible(false)

		case "drop":
			s.host.Drop()
			fmt.Fprintln(s.Stdout(), "Host connection dropped")

		case "unavailable":
			s.cmdUnavailable(args)

		case "status", "s":
			s.cmdStatus()

		case "events", "e":
			s.cmdEvents(args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Sim) printHelp() {
	fmt.Fprintln(s.Stdout(), `
pagevis Commands:
  Observers:
    attach             - Attach an observer that prints visibility changes
    detach <id>        - Detach an observer

  Page (host side):
    show               - Make the page visible
    hide               - Make the page hidden
    drop               - Drop the host connection (session reconnects)
    unavailable on|off - Make bridge calls fail as unavailable

  Inspection:
    status             - Show session, connection and host state
    events [n]         - Show the last n bridge events (default 20)

  General:
    help               - Show this help
    quit               - Exit`)
}

func (s *Sim) cmdAttach() {
	var (
		once sync.Once
		id   visibility.Handle
		set  = make(chan struct{})
	)
	h, err := s.session.Attach(func(visible bool) {
		once.Do(func() { <-set })
		fmt.Fprintf(s.Stdout(), "[observer %d] page visible: %v\n", id, visible)
	})
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Attach failed: %v\n", err)
		return
	}
	id = h
	close(set)

	s.mu.Lock()
	s.attached[h] = true
	s.mu.Unlock()
	fmt.Fprintf(s.Stdout(), "Attached observer %d (page visible: %v)\n", h, s.session.CurrentVisibility())
}

func (s *Sim) cmdDetach(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: detach <id>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Invalid observer id: %s\n", args[0])
		return
	}
	h := visibility.Handle(n)

	s.mu.Lock()
	known := s.attached[h]
	delete(s.attached, h)
	s.mu.Unlock()
	if !known {
		fmt.Fprintf(s.Stdout(), "No observer %d\n", h)
		return
	}

	if err := s.session.Detach(h); err != nil {
		fmt.Fprintf(s.Stdout(), "Detach failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "Detached observer %d\n", h)
}

func (s *Sim) cmdVisible(visible bool) {
	if err := s.host.SetVisible(visible); err != nil {
		fmt.Fprintf(s.Stdout(), "Callback failed: %v\n", err)
	}
}

func (s *Sim) cmdUnavailable(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(s.Stdout(), "Usage: unavailable on|off")
		return
	}
	s.host.SetUnavailable(args[0] == "on")
	fmt.Fprintf(s.Stdout(), "Host unavailable: %s\n", args[0])
}

func (s *Sim) cmdStatus() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.attached))
	for h := range s.attached {
		ids = append(ids, int(h))
	}
	s.mu.Unlock()
	sort.Ints(ids)

	w := s.Stdout()
	fmt.Fprintf(w, "Session:      %s\n", s.session.ID())
	fmt.Fprintf(w, "Connection:   %s\n", s.session.ConnectionState())
	fmt.Fprintf(w, "Subscription: %s\n", s.session.Phase())
	fmt.Fprintf(w, "Visible:      %v\n", s.session.CurrentVisibility())
	fmt.Fprintf(w, "Observers:    %v\n", ids)
	fmt.Fprintf(w, "Host:         visible=%v injected=%v subscribed=%v connected=%v\n",
		s.host.Visible(), s.host.Injected(), s.host.Subscribed(), s.host.Connected())
}

func (s *Sim) cmdEvents(args []string) {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(s.Stdout(), "Invalid count: %s\n", args[0])
			return
		}
		n = v
	}
	events := s.history.Last(n)
	if len(events) == 0 {
		fmt.Fprintln(s.Stdout(), "No events")
		return
	}
	for _, e := range events {
		fmt.Fprintln(s.Stdout(), formatEvent(e))
	}
}
