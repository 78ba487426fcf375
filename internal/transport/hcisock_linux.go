//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// HCI device ioctls: _IOW('H', 201|202, int).
const (
	hciDevUp   = 0x400448c9
	hciDevDown = 0x400448ca
)

// hciMaxFrame fits the largest ACL packet plus its indicator and header.
const hciMaxFrame = 1 + 4 + 0xFFFF

// HCISocket is an Endpoint over a Linux HCI user channel. The kernel hands
// the controller to this process exclusively; every write must be exactly
// one H4 packet, and every read returns one H4 packet which is served to
// callers as a byte stream.
type HCISocket struct {
	fd      int
	dev     int
	timeout time.Duration

	rmu     sync.Mutex
	rbuf    []byte
	pending []byte

	wmu    sync.Mutex
	closed atomic.Bool
}

// Compile-time check that HCISocket implements Endpoint.
var _ Endpoint = (*HCISocket)(nil)

// CycleHCIDevice brings hci<dev> up and then down again. The kernel only
// grants a user channel on a device that has been initialized at least
// once and is currently down.
func CycleHCIDevice(dev int) error {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return fmt.Errorf("transport: hci socket: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.IoctlSetInt(fd, hciDevUp, dev); err != nil && !errors.Is(err, unix.EALREADY) {
		return fmt.Errorf("transport: hci%d up: %w", dev, err)
	}
	if err := unix.IoctlSetInt(fd, hciDevDown, dev); err != nil {
		return fmt.Errorf("transport: hci%d down: %w", dev, err)
	}
	return nil
}

// OpenHCIUser binds a user channel to hci<dev>. The device is taken down
// first in case the kernel or BlueZ powered it back on since the last
// session; see CycleHCIDevice for the one-time initialization.
func OpenHCIUser(dev int, readTimeout time.Duration) (*HCISocket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, fmt.Errorf("transport: hci socket: %w", err)
	}

	if err := unix.IoctlSetInt(fd, hciDevDown, dev); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: hci%d down: %w", dev, err)
	}

	sa := &unix.SockaddrHCI{Dev: uint16(dev), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind hci%d user channel: %w", dev, err)
	}

	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	return &HCISocket{
		fd:      fd,
		dev:     dev,
		timeout: readTimeout,
		rbuf:    make([]byte, hciMaxFrame),
	}, nil
}

// Read returns buffered bytes of the last received packet, or waits up to
// the read timeout for the next one.
func (s *HCISocket) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.closed.Load() {
		return 0, io.EOF
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, int(s.timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("transport: hci%d poll: %w", s.dev, err)
	}
	if ready == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLIN == 0 && fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err := unix.Read(s.fd, s.rbuf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		if s.closed.Load() {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("transport: hci%d read: %w", s.dev, err)
	case n == 0:
		return 0, io.EOF
	}

	c := copy(p, s.rbuf[:n])
	s.pending = s.rbuf[c:n]
	return c, nil
}

// Write sends p as a single packet.
func (s *HCISocket) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(s.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("transport: hci%d write: %w", s.dev, err)
		}
		return n, nil
	}
}

// Flush is a no-op: each Write is handed to the controller whole.
func (s *HCISocket) Flush() error { return nil }

// Close releases the user channel; the kernel returns the device to the
// down state.
func (s *HCISocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return unix.Close(s.fd)
}
