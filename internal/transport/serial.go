package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialConfig describes a serial endpoint.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// SerialEndpoint is an Endpoint over a serial device: the host's USB virtual
// serial port, or a UART-attached controller.
type SerialEndpoint struct {
	port serial.Port
	name string
}

// Compile-time check that SerialEndpoint implements Endpoint.
var (
	_ Endpoint = (*SerialEndpoint)(nil)
	_ Aborter  = (*SerialEndpoint)(nil)
)

// OpenSerial opens cfg.Port in raw 8N1 mode with a read timeout so that
// blocked reads return periodically.
func OpenSerial(cfg SerialConfig) (*SerialEndpoint, error) {
	if cfg.Port == "" {
		return nil, errors.New("transport: serial port must not be empty")
	}
	baud := cfg.Baud
	if baud <= 0 {
		baud = 115200
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: set read timeout on %s: %w", cfg.Port, err)
	}

	return &SerialEndpoint{port: port, name: cfg.Port}, nil
}

// Name returns the device path.
func (s *SerialEndpoint) Name() string { return s.name }

func (s *SerialEndpoint) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil && isDisconnect(err) {
		return n, io.EOF
	}
	return n, err
}

func (s *SerialEndpoint) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil && isDisconnect(err) {
		return n, fmt.Errorf("%w: %s", ErrClosed, s.name)
	}
	return n, err
}

// Flush waits for the output buffer to drain.
func (s *SerialEndpoint) Flush() error {
	return s.port.Drain()
}

func (s *SerialEndpoint) Close() error {
	return s.port.Close()
}

// Abort discards unsent output, which releases a Flush stuck waiting on a
// peer that stopped reading, and closes the port.
func (s *SerialEndpoint) Abort() error {
	if err := s.port.ResetOutputBuffer(); err != nil {
		slog.Debug("[HOST] reset output buffer", "port", s.name, "error", err)
	}
	return s.port.Close()
}

// isDisconnect reports whether err means the device went away. A USB serial
// port that is unplugged or closed by the peer ends its stream.
func isDisconnect(err error) bool {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return false
	}
	switch portErr.Code() {
	case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListSerialPorts enumerates serial ports with USB details where available.
func ListSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
