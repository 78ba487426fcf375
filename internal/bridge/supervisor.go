package bridge

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chaz8081/hci-bridge/internal/local"
	"github.com/chaz8081/hci-bridge/internal/version"
)

// DefaultBackoff is the delay between sessions.
const DefaultBackoff = time.Second

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Interval is the delay before restarting a session (default 1s).
	Interval time.Duration
	// MaxInterval, when greater than Interval, enables exponential backoff
	// capped at MaxInterval after consecutive failed sessions.
	MaxInterval time.Duration
	// Session is applied to every session. Its Interceptor is created if
	// nil and always carries the built-in local commands.
	Session SessionOptions
	// Transport is the controller transport identifier reported by the
	// device information local command.
	Transport byte
}

// Status is a snapshot of the supervisor for reporting.
type Status struct {
	State     string          `json:"state"`
	Mode      string          `json:"mode"`
	Session   uint64          `json:"session"`
	Restarts  uint64          `json:"restarts"`
	Current   CounterSnapshot `json:"current"`
	Total     CounterSnapshot `json:"total"`
	LastError string          `json:"last_error,omitempty"`
}

// Supervisor runs bridge sessions one after another until its context is
// cancelled. It is the only place a failed session is retried.
type Supervisor struct {
	opener Opener
	opts   SupervisorOptions
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	current  *Session
	sessions uint64
	total    CounterSnapshot
	lastErr  error

	// accounted is set once current's counters have been folded into total.
	accounted bool
}

// NewSupervisor creates a Supervisor and registers the built-in local
// commands on the session interceptor.
func NewSupervisor(opener Opener, opts SupervisorOptions) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultBackoff
	}
	if opts.Session.Interceptor == nil {
		opts.Session.Interceptor = local.NewInterceptor()
	}
	if opts.Session.Mode == "" {
		opts.Session.Mode = ModeConcurrent
	}

	s := &Supervisor{opener: opener, opts: opts, sleep: sleepCtx}
	local.RegisterDeviceInfo(opts.Session.Interceptor, s.deviceInfo)
	local.RegisterStatistics(opts.Session.Interceptor, s.statistics)
	return s
}

// Run starts sessions until ctx is cancelled and then returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess := s.begin()
		err := sess.Run(ctx)
		s.end(sess, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			failures++
			slog.Error("[BRIDGE] session failed", "session", sess.ID(), "error", err)
		} else {
			failures = 0
		}

		delay := s.backoffDelay(failures)
		slog.Info("[BRIDGE] restarting session", "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoffDelay returns the restart delay after n consecutive failures.
func (s *Supervisor) backoffDelay(failures int) time.Duration {
	base := s.opts.Interval
	if s.opts.MaxInterval <= base || failures <= 1 {
		return base
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.opts.MaxInterval {
			return s.opts.MaxInterval
		}
	}
	return delay
}

func (s *Supervisor) begin() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	sess := NewSession(s.sessions, s.opener, s.opts.Session)
	s.current = sess
	s.accounted = false
	return sess
}

func (s *Supervisor) end(sess *Session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = s.total.Add(sess.Counters().Snapshot())
	s.lastErr = err
	if sess == s.current {
		s.accounted = true
	}
}

// Current returns the session currently running or most recently run.
func (s *Supervisor) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Status returns a snapshot of the supervisor and its current session.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State: StateIdle.String(),
		Mode:  string(s.opts.Session.Mode),
		Total: s.total,
	}
	if s.sessions > 1 {
		st.Restarts = s.sessions - 1
	}
	if s.current != nil {
		st.Session = s.current.ID()
		st.State = s.current.State().String()
		// A terminated session stays in Current until Run has accounted it.
		if !s.accounted {
			st.Current = s.current.Counters().Snapshot()
			st.Total = st.Total.Add(st.Current)
		}
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) deviceInfo() local.DeviceInfo {
	var id uint64
	if cur := s.Current(); cur != nil {
		id = cur.ID()
	}
	return local.DeviceInfo{
		Major:     version.Major,
		Minor:     version.Minor,
		Patch:     version.Patch,
		Session:   uint16(min(id, math.MaxUint16)),
		Transport: s.opts.Transport,
	}
}

func (s *Supervisor) statistics() local.Statistics {
	var snap CounterSnapshot
	if cur := s.Current(); cur != nil {
		snap = cur.Counters().Snapshot()
	}
	return local.Statistics{
		HostPackets:     saturate32(snap.HostPackets()),
		LocalCommands:   saturate32(snap.LocalCommands),
		ControllerBytes: saturate32(snap.ControllerBytes),
	}
}

// saturate32 clamps v to the 32-bit fields of the statistics response.
func saturate32(v uint64) uint32 {
	return uint32(min(v, math.MaxUint32))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
