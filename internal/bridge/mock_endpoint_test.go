package bridge

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/hci-bridge/internal/transport"
)

// mockEndpoint simulates a serial port or HCI socket. Reads are fed through
// a channel and time out with (0, nil) like a port with a read timeout;
// closing the feed signals end of stream.
type mockEndpoint struct {
	in      chan []byte
	timeout time.Duration
	closed  chan struct{}

	// stallFlush makes Flush block until Close, like tcdrain on a port
	// whose peer stopped reading.
	stallFlush bool

	mu       sync.Mutex
	pending  []byte
	eof      bool
	writes   [][]byte
	flushes  int
	closes   int
	writeErr error
}

func newMockEndpoint() *mockEndpoint {
	return &mockEndpoint{
		in:      make(chan []byte, 64),
		timeout: 2 * time.Millisecond,
		closed:  make(chan struct{}),
	}
}

// Feed queues data for Read.
func (e *mockEndpoint) Feed(data ...byte) { e.in <- data }

// EOF ends the read stream once queued data has been consumed.
func (e *mockEndpoint) EOF() { close(e.in) }

func (e *mockEndpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pending) == 0 && !e.eof {
		e.mu.Unlock()
		select {
		case data, ok := <-e.in:
			e.mu.Lock()
			if ok {
				e.pending = append(e.pending, data...)
			} else {
				e.eof = true
			}
		case <-time.After(e.timeout):
			return 0, nil
		}
	}
	defer e.mu.Unlock()

	if e.closes > 0 {
		return 0, transport.ErrClosed
	}
	if len(e.pending) == 0 {
		if e.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func (e *mockEndpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closes > 0 {
		return 0, transport.ErrClosed
	}
	if e.writeErr != nil {
		return 0, e.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	e.writes = append(e.writes, cp)
	return len(p), nil
}

func (e *mockEndpoint) Flush() error {
	e.mu.Lock()
	e.flushes++
	stall := e.stallFlush
	e.mu.Unlock()

	if stall {
		<-e.closed
		return transport.ErrClosed
	}
	return nil
}

func (e *mockEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	if e.closes == 1 {
		close(e.closed)
	}
	return nil
}

// Written returns everything written so far.
func (e *mockEndpoint) Written() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.Join(e.writes, nil)
}

func (e *mockEndpoint) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

func (e *mockEndpoint) Flushes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes
}

func (e *mockEndpoint) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// mockOpener hands out endpoints built by its functions.
type mockOpener struct {
	mu        sync.Mutex
	host      func() (transport.Endpoint, error)
	ctrl      func() (transport.Endpoint, error)
	hostOpens int
	ctrlOpens int
}

// newPairOpener returns an opener that always hands out host and ctrl.
func newPairOpener(host, ctrl *mockEndpoint) *mockOpener {
	return &mockOpener{
		host: func() (transport.Endpoint, error) { return host, nil },
		ctrl: func() (transport.Endpoint, error) { return ctrl, nil },
	}
}

func (o *mockOpener) OpenHost(context.Context) (transport.Endpoint, error) {
	o.mu.Lock()
	o.hostOpens++
	o.mu.Unlock()
	return o.host()
}

func (o *mockOpener) OpenController(context.Context) (transport.Endpoint, error) {
	o.mu.Lock()
	o.ctrlOpens++
	o.mu.Unlock()
	return o.ctrl()
}

func TestMockEndpointImplementsInterface(t *testing.T) {
	var _ transport.Endpoint = (*mockEndpoint)(nil)
	var _ Opener = (*mockOpener)(nil)
}

// stateRecorder collects session state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_ uint64, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
