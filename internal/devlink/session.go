// Package devlink owns the serial command link to the physical device.
// Command dispatch is an explicit state machine: only the Sending state
// writes to the link, and a single session goroutine executes commands one
// at a time, so no two writes can ever overlap.
package devlink

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// State of the session's command cycle.
type State uint32

const (
	Idle State = iota
	Sending
	AwaitingAck
	Retrying
	Failed
)

func (s State) String() string {
	return [...]string{"idle", "sending", "awaiting_ack", "retrying", "failed"}[s]
}

// Outcome is the terminal result of one dispatch.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
	OutcomeLinkBroken     Outcome = "link_broken"
)

// Result reports how a dispatch ended.
type Result struct {
	CommandID string
	Outcome   Outcome
	Attempts  int
	Err       error
}

// Config holds session construction parameters.
type Config struct {
	Port       string
	BaudRate   int
	MaxRetries int
}

type request struct {
	cmd  Command
	resp chan Result
}

// Session owns one physical link exclusively. At most one command is in
// flight at any time; Dispatch blocks until the command reaches a terminal
// state.
type Session struct {
	port       Port
	lock       *flock.Flock
	maxRetries int

	state    atomic.Uint32
	broken   atomic.Bool
	requests chan request
	done     chan struct{}
}

// Open locks the port, opens the serial link, and starts the session.
func Open(cfg Config) (*Session, error) {
	lock, err := acquirePortLock(cfg.Port)
	if err != nil {
		return nil, err
	}
	port, err := openSerialPort(cfg.Port, cfg.BaudRate)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s := newSession(port, cfg.MaxRetries)
	s.lock = lock
	return s, nil
}

// NewWithPort builds a session over an existing Port. Used by tests and by
// callers that manage the transport themselves.
func NewWithPort(port Port, maxRetries int) *Session {
	return newSession(port, maxRetries)
}

func newSession(port Port, maxRetries int) *Session {
	s := &Session{
		port:       port,
		maxRetries: maxRetries,
		requests:   make(chan request), // unbuffered: the single command slot
		done:       make(chan struct{}),
	}
	s.state.Store(uint32(Idle))
	go s.loop()
	return s
}

// State returns the current command-cycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Broken reports whether a connection-level failure has ended the session.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

// Dispatch sends one command and blocks until it reaches a terminal state.
// A per-command failure leaves the session usable; a link-level failure
// breaks it permanently.
func (s *Session) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{CommandID: cmd.ID}, err
	}
	if s.broken.Load() {
		err := apperrors.New(apperrors.CodeLinkIO, "session is broken; reopen required")
		return Result{CommandID: cmd.ID, Outcome: OutcomeLinkBroken, Err: err}, err
	}

	req := request{cmd: cmd, resp: make(chan Result, 1)}
	select {
	case <-ctx.Done():
		return Result{CommandID: cmd.ID}, ctx.Err()
	case <-s.done:
		err := apperrors.New(apperrors.CodeLinkIO, "session closed")
		return Result{CommandID: cmd.ID, Outcome: OutcomeLinkBroken, Err: err}, err
	case s.requests <- req:
	}

	select {
	case <-ctx.Done():
		// The command keeps running to its terminal state on the session
		// goroutine; the caller just stops waiting.
		return Result{CommandID: cmd.ID}, ctx.Err()
	case res := <-req.resp:
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case req := <-s.requests:
			res := s.execute(req.cmd)
			if res.Outcome == OutcomeDispatchFailed {
				// A per-command failure is terminal for the command only;
				// the machine resets for the next one.
				s.state.Store(uint32(Idle))
			}
			req.resp <- res
		}
	}
}

// execute runs one command through the state machine. Exactly
// maxRetries+1 send attempts are made before the command fails.
func (s *Session) execute(cmd Command) Result {
	attempts := 0

	for retry := 0; retry <= s.maxRetries; retry++ {
		s.state.Store(uint32(Sending))
		attempts++
		if _, err := s.port.Write(cmd.Payload); err != nil {
			return s.fail(cmd, attempts, apperrors.Wrapf(err, apperrors.CodeLinkIO, "write %s", cmd.Name))
		}

		s.state.Store(uint32(AwaitingAck))
		line, err := s.port.ReadLine(cmd.Timeout)
		switch {
		case err == nil && cmd.ExpectAck(line):
			s.state.Store(uint32(Idle))
			return Result{CommandID: cmd.ID, Outcome: OutcomeSuccess, Attempts: attempts}
		case err == nil:
			// Malformed response counts the same as a timeout.
			slog.Debug("malformed acknowledgement", "command", cmd.Name, "line", string(line))
			s.state.Store(uint32(Retrying))
		case apperrors.IsCode(err, apperrors.CodeLinkTimeout):
			slog.Debug("acknowledgement timeout", "command", cmd.Name, "attempt", attempts)
			s.state.Store(uint32(Retrying))
		default:
			return s.fail(cmd, attempts, err)
		}
	}

	s.state.Store(uint32(Failed))
	err := apperrors.Newf(apperrors.CodeDispatchFailed, "command %s failed after %d attempts", cmd.Name, attempts)
	return Result{CommandID: cmd.ID, Outcome: OutcomeDispatchFailed, Attempts: attempts, Err: err}
}

// fail marks a connection-level failure. The failure is fatal to the
// session; there is no automatic reconnect.
func (s *Session) fail(cmd Command, attempts int, err error) Result {
	s.state.Store(uint32(Failed))
	s.broken.Store(true)
	slog.Error("device link broken", "command", cmd.Name, "error", err)
	return Result{CommandID: cmd.ID, Outcome: OutcomeLinkBroken, Attempts: attempts, Err: err}
}

// Close stops the session and releases the port and its lock.
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.port.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}
