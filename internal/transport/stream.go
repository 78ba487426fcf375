package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// StdioPort is the host port name that selects standard input and output,
// for running the bridge behind socat, ssh or a pty wrapper.
const StdioPort = "-"

// streamChunk is one result of a read on the underlying stream.
type streamChunk struct {
	data []byte
	err  error
}

// StreamEndpoint is an Endpoint over a plain reader and writer, such as a
// pipe or the process's standard streams. A goroutine reads ahead so Read
// can honour the read timeout even though the stream itself cannot.
type StreamEndpoint struct {
	r       io.Reader
	w       io.Writer
	name    string
	timeout time.Duration

	chunks chan streamChunk
	done   chan struct{}

	rmu     sync.Mutex
	pending []byte
	rerr    error

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Endpoint = (*StreamEndpoint)(nil)

// NewStreamEndpoint starts reading r and returns an endpoint that writes to w.
func NewStreamEndpoint(name string, r io.Reader, w io.Writer, readTimeout time.Duration) *StreamEndpoint {
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	s := &StreamEndpoint{
		r:       r,
		w:       w,
		name:    name,
		timeout: readTimeout,
		chunks:  make(chan streamChunk),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// OpenStdio returns an endpoint over os.Stdin and os.Stdout.
func OpenStdio(readTimeout time.Duration) *StreamEndpoint {
	return NewStreamEndpoint("stdio", os.Stdin, os.Stdout, readTimeout)
}

// Name returns the name the endpoint was created with.
func (s *StreamEndpoint) Name() string { return s.name }

func (s *StreamEndpoint) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.r.Read(buf)
		var data []byte
		if n > 0 {
			data = append([]byte(nil), buf[:n]...)
		}
		if n > 0 || err != nil {
			select {
			case s.chunks <- streamChunk{data: data, err: err}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Read returns read-ahead bytes, or waits up to the read timeout for more.
func (s *StreamEndpoint) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if len(s.pending) == 0 && s.rerr == nil {
		select {
		case c := <-s.chunks:
			s.pending = c.data
			s.rerr = streamError(s.name, c.err)
		case <-s.done:
			return 0, ErrClosed
		case <-time.After(s.timeout):
			return 0, nil
		}
	}
	if len(s.pending) == 0 {
		return 0, s.rerr
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *StreamEndpoint) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.w.Write(p)
}

// Flush flushes w if it buffers output.
func (s *StreamEndpoint) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}
	f, ok := s.w.(interface{ Flush() error })
	if !ok {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return f.Flush()
}

// Close stops delivering reads and closes the reader and writer if they
// are closers.
func (s *StreamEndpoint) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
		if c, ok := s.w.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	})
	return err
}

// streamError maps the end of the underlying stream to io.EOF.
func streamError(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return io.EOF
	default:
		return fmt.Errorf("transport: %s read: %w", name, err)
	}
}

// Lease wraps a long-lived endpoint for one user. Closing the lease leaves
// e open for the next lease; the closed lease reports ErrClosed.
func Lease(e Endpoint) Endpoint {
	return &lease{e: e}
}

type lease struct {
	e      Endpoint
	closed atomic.Bool
}

func (l *lease) Read(p []byte) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	return l.e.Read(p)
}

func (l *lease) Write(p []byte) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	return l.e.Write(p)
}

func (l *lease) Flush() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.e.Flush()
}

func (l *lease) Close() error {
	l.closed.Store(true)
	return nil
}
