package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/hci-bridge/internal/activity"
	"github.com/chaz8081/hci-bridge/internal/local"
	"github.com/chaz8081/hci-bridge/internal/transport"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mode selects how a session drives its two relay directions.
type Mode string

const (
	// ModeConcurrent runs each direction in its own goroutine.
	ModeConcurrent Mode = "concurrent"
	// ModePolling drives both directions from one loop via Relay.Step.
	ModePolling Mode = "polling"
)

// DefaultPollInterval is how long the polling loop sleeps when idle.
const DefaultPollInterval = time.Millisecond

// Opener opens the endpoints of one session.
type Opener interface {
	OpenHost(ctx context.Context) (transport.Endpoint, error)
	OpenController(ctx context.Context) (transport.Endpoint, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Mode         Mode
	ChunkSize    int
	PollInterval time.Duration
	Activity     activity.Func
	Interceptor  *local.Interceptor
	// OnState is called on every state transition. It must not block.
	OnState func(id uint64, s State)
}

// Session pairs one host endpoint with one controller endpoint for as long
// as both relay directions run. A Session is single-use.
type Session struct {
	id       uint64
	opener   Opener
	opts     SessionOptions
	state    atomic.Int32
	counters Counters
}

// NewSession creates a session numbered id.
func NewSession(id uint64, opener Opener, opts SessionOptions) *Session {
	if opts.Mode == "" {
		opts.Mode = ModeConcurrent
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Session{id: id, opener: opener, opts: opts}
}

// ID returns the session number.
func (s *Session) ID() uint64 { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Counters returns the session's traffic counters.
func (s *Session) Counters() *Counters { return &s.counters }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	slog.Debug("[BRIDGE] session state", "session", s.id, "state", st)
	if s.opts.OnState != nil {
		s.opts.OnState(s.id, st)
	}
}

// Run opens both endpoints, relays until either direction ends or ctx is
// cancelled, then releases the endpoints. It returns nil when the session
// ended by end-of-stream or cancellation, and the cause otherwise.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != StateIdle {
		return errors.New("bridge: session already run")
	}
	s.setState(StateInitializing)

	rawCtrl, err := s.opener.OpenController(ctx)
	if err != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("bridge: open controller: %w", err)
	}
	ctrl := transport.NewCloseOnce(rawCtrl)

	rawHost, err := s.opener.OpenHost(ctx)
	if err != nil {
		closeQuietly("controller", ctrl)
		s.setState(StateTerminated)
		return fmt.Errorf("bridge: open host: %w", err)
	}
	host := transport.NewCloseOnce(rawHost)

	relay := NewRelay(host, ctrl, RelayOptions{
		ChunkSize:   s.opts.ChunkSize,
		Activity:    s.opts.Activity,
		Interceptor: s.opts.Interceptor,
		Counters:    &s.counters,
	})

	s.setState(StateRunning)
	slog.Info("[BRIDGE] session running", "session", s.id, "mode", s.opts.Mode)

	if s.opts.Mode == ModePolling {
		err = s.runPolling(ctx, relay, host)
	} else {
		err = s.runConcurrent(ctx, relay, host)
	}

	// Both directions have returned; nothing touches the endpoints now.
	// The host may already have been aborted, making its Close a no-op.
	closeQuietly("host", host)
	closeQuietly("controller", ctrl)
	s.setState(StateTerminated)

	if isNormalEnd(err) {
		slog.Info("[BRIDGE] session ended", "session", s.id, "reason", err)
		return nil
	}
	return err
}

func (s *Session) runConcurrent(ctx context.Context, relay *Relay, host transport.Endpoint) error {
	g, gctx := errgroup.WithContext(ctx)

	var drain sync.Once
	enterDraining := func() { drain.Do(func() { s.setState(StateDraining) }) }

	// Once either direction ends or ctx is cancelled, drain and abort the
	// host so a direction blocked writing to it returns.
	stop := context.AfterFunc(gctx, func() {
		enterDraining()
		abortHost(s.id, host)
	})
	defer stop()

	g.Go(func() error {
		defer enterDraining()
		return afterCancel(gctx, relay.HostToController(gctx))
	})
	g.Go(func() error {
		defer enterDraining()
		return afterCancel(gctx, relay.ControllerToHost(gctx))
	})
	return g.Wait()
}

func (s *Session) runPolling(ctx context.Context, relay *Relay, host transport.Endpoint) error {
	defer s.setState(StateDraining)

	stop := context.AfterFunc(ctx, func() { abortHost(s.id, host) })
	defer stop()

	for {
		moved, err := relay.Step(ctx)
		if err != nil {
			return afterCancel(ctx, err)
		}
		if moved {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// afterCancel replaces err with ctx's error once ctx is done: I/O on an
// aborted endpoint fails, and that failure is part of the shutdown.
func afterCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func abortHost(id uint64, host transport.Endpoint) {
	if err := transport.Abort(host); err != nil {
		slog.Debug("[BRIDGE] host abort failed", "session", id, "error", err)
	}
}

// isNormalEnd reports whether err is an orderly session end.
func isNormalEnd(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled)
}

// closeQuietly closes e, logging but otherwise ignoring any error.
func closeQuietly(name string, e transport.Endpoint) {
	if err := e.Close(); err != nil {
		slog.Debug("[BRIDGE] close failed", "endpoint", name, "error", err)
	}
}
