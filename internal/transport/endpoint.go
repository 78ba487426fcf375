// Package transport provides the byte endpoints the bridge relays between:
// the host-facing serial port and the controller's HCI transport.
package transport

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by endpoints used after Close.
var ErrClosed = errors.New("transport: endpoint closed")

// Endpoint is a bidirectional byte channel.
type Endpoint interface {
	// Read reads available bytes into p. It returns (0, nil) when the
	// configured read timeout elapsed with no data and io.EOF once the
	// stream has ended.
	Read(p []byte) (int, error)
	// Write queues p for transmission.
	Write(p []byte) (int, error)
	// Flush blocks until all written bytes have been transmitted.
	Flush() error
	// Close releases the endpoint.
	Close() error
}

// Aborter is implemented by endpoints that can discard queued output and
// release the device while another goroutine is blocked writing to it.
type Aborter interface {
	Abort() error
}

// Abort unblocks pending I/O on e and releases it. Endpoints that are not
// Aborters are closed.
func Abort(e Endpoint) error {
	if a, ok := e.(Aborter); ok {
		return a.Abort()
	}
	return e.Close()
}

// WriteFlush writes all of p and then flushes e.
func WriteFlush(e Endpoint, p []byte) error {
	for len(p) > 0 {
		n, err := e.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return e.Flush()
}

// CloseOnce wraps an Endpoint so the underlying Close runs exactly once.
// Later calls return the result of the first.
type CloseOnce struct {
	Endpoint

	once sync.Once
	err  error
}

// NewCloseOnce wraps e.
func NewCloseOnce(e Endpoint) *CloseOnce {
	return &CloseOnce{Endpoint: e}
}

// Close closes the wrapped endpoint the first time it is called.
func (c *CloseOnce) Close() error {
	c.once.Do(func() { c.err = c.Endpoint.Close() })
	return c.err
}

// Abort aborts the wrapped endpoint unless it has already been closed.
func (c *CloseOnce) Abort() error {
	c.once.Do(func() { c.err = Abort(c.Endpoint) })
	return c.err
}
