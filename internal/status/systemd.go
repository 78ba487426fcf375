package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/chaz8081/hci-bridge/internal/bridge"
)

// Systemd reports service state through sd_notify. Outside systemd every
// notification is a no-op.
type Systemd struct {
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	mu    sync.Mutex
	ready bool
}

// NewSystemd creates a notifier bound to $NOTIFY_SOCKET.
func NewSystemd() *Systemd {
	return &Systemd{
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (s *Systemd) send(state string) {
	if _, err := s.notify(state); err != nil {
		slog.Debug("[STATUS] sd_notify failed", "state", state, "error", err)
	}
}

// OnState reports a session state change. READY=1 is sent the first time a
// session reaches the running state.
func (s *Systemd) OnState(id uint64, st bridge.State) {
	s.mu.Lock()
	first := st == bridge.StateRunning && !s.ready
	if first {
		s.ready = true
	}
	s.mu.Unlock()

	if first {
		s.send(daemon.SdNotifyReady)
	}
	s.send(fmt.Sprintf("STATUS=session %d %s", id, st))
}

// Stopping reports that the service is shutting down.
func (s *Systemd) Stopping() {
	s.send(daemon.SdNotifyStopping)
}

// Watchdog pings the systemd watchdog at half its interval until ctx is
// done. It returns immediately when the watchdog is not enabled.
func (s *Systemd) Watchdog(ctx context.Context) {
	interval, err := s.watchdog()
	if err != nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.send(daemon.SdNotifyWatchdog)
		}
	}
}
