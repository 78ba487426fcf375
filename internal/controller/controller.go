// Package controller prepares the Bluetooth controller and opens the HCI
// transport of the radio the bridge relays to.
package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/hci-bridge/internal/local"
	"github.com/chaz8081/hci-bridge/internal/transport"
)

// Transport selects how the controller is reached.
type Transport string

const (
	// TransportHCIUser takes over a kernel-managed controller (hciN) through
	// an HCI user channel.
	TransportHCIUser Transport = "hci_user"
	// TransportUART talks H4 directly to a controller on a serial line.
	TransportUART Transport = "uart"
)

// ID returns the identifier reported by the device information local command.
func (t Transport) ID() byte {
	if t == TransportUART {
		return local.TransportUART
	}
	return local.TransportHCIUser
}

// Adapter abstracts the BlueZ adapter consulted during bring-up, for testing.
type Adapter interface {
	// Enable connects to the adapter through the system Bluetooth service.
	Enable() error
	// Address returns the adapter's public address.
	Address() (string, error)
}

// BringUp prepares an hci_user controller once per process: it checks in
// with BlueZ for the adapter, then cycles hci<Device> up and down so the
// kernel will hand over a user channel. A failed attempt is retried on the
// next call; after the first success further calls return immediately.
type BringUp struct {
	adapter Adapter
	device  int
	cycle   func(dev int) error

	mu      sync.Mutex
	done    bool
	address string
}

// NewBringUp creates a BringUp for hci<device>. adapter may be nil to skip
// the BlueZ step.
func NewBringUp(adapter Adapter, device int) *BringUp {
	return &BringUp{adapter: adapter, device: device, cycle: transport.CycleHCIDevice}
}

// Do performs the bring-up if it has not succeeded yet.
func (b *BringUp) Do() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}

	dev := fmt.Sprintf("hci%d", b.device)
	if b.adapter != nil {
		// The user channel does not need bluetoothd; its absence is not fatal.
		if err := b.adapter.Enable(); err != nil {
			slog.Warn("[CTRL] bluez adapter unavailable", "device", dev, "error", err)
		} else if addr, err := b.adapter.Address(); err != nil {
			slog.Debug("[CTRL] adapter address unavailable", "device", dev, "error", err)
		} else {
			b.address = addr
		}
	}

	if err := b.cycle(b.device); err != nil {
		return fmt.Errorf("controller: initialize %s: %w", dev, err)
	}
	b.done = true
	slog.Info("[CTRL] controller initialized", "device", dev, "address", b.address)
	return nil
}

// Address returns the address BlueZ reported during bring-up, if any.
func (b *BringUp) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

// Options configures how the controller endpoint is opened.
type Options struct {
	Transport   Transport
	Device      int    // hci index for TransportHCIUser
	Port        string // serial device for TransportUART
	Baud        int
	ReadTimeout time.Duration
}

// Opener opens the host and controller endpoints for each bridge session.
type Opener struct {
	Host       transport.SerialConfig
	Controller Options
	// BringUp, if set, runs before an hci_user controller is opened. It is
	// not used for uart controllers.
	BringUp *BringUp

	stdioOnce sync.Once
	stdio     *transport.StreamEndpoint
	// stdin and stdout replace the process streams in tests.
	stdin  io.Reader
	stdout io.Writer
}

// OpenHost opens the host-facing serial port, or standard input and output
// when the port is transport.StdioPort.
func (o *Opener) OpenHost(ctx context.Context) (transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Host.Port == transport.StdioPort {
		// The process streams outlive any one session.
		o.stdioOnce.Do(func() {
			if o.stdin == nil || o.stdout == nil {
				o.stdio = transport.OpenStdio(o.Host.ReadTimeout)
			} else {
				o.stdio = transport.NewStreamEndpoint("stdio", o.stdin, o.stdout, o.Host.ReadTimeout)
			}
			slog.Info("[HOST] using standard input and output")
		})
		return transport.Lease(o.stdio), nil
	}

	ep, err := transport.OpenSerial(o.Host)
	if err != nil {
		return nil, err
	}
	slog.Info("[HOST] serial port opened", "port", o.Host.Port)
	return ep, nil
}

// OpenController brings an hci_user controller up if needed and opens the
// controller transport.
func (o *Opener) OpenController(ctx context.Context) (transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := o.Controller
	switch opts.Transport {
	case TransportUART:
		ep, err := transport.OpenSerial(transport.SerialConfig{
			Port:        opts.Port,
			Baud:        opts.Baud,
			ReadTimeout: opts.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("controller: %w", err)
		}
		slog.Info("[CTRL] uart controller opened", "port", opts.Port, "baud", opts.Baud)
		return ep, nil
	case TransportHCIUser, "":
		if o.BringUp != nil {
			if err := o.BringUp.Do(); err != nil {
				return nil, err
			}
		}
		ep, err := transport.OpenHCIUser(opts.Device, opts.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("controller: %w", err)
		}
		slog.Info("[CTRL] hci user channel opened", "device", fmt.Sprintf("hci%d", opts.Device))
		return ep, nil
	default:
		return nil, fmt.Errorf("controller: unknown transport %q", opts.Transport)
	}
}
