// Package bridge relays HCI traffic between a host endpoint and a
// controller endpoint. It frames the host stream, answers local commands,
// copies controller output verbatim, and supervises bridge sessions.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chaz8081/hci-bridge/internal/activity"
	"github.com/chaz8081/hci-bridge/internal/hci"
	"github.com/chaz8081/hci-bridge/internal/local"
	"github.com/chaz8081/hci-bridge/internal/transport"
)

// DefaultChunkSize is the controller-to-host copy buffer size.
const DefaultChunkSize = 256

// RelayOptions configures a Relay.
type RelayOptions struct {
	ChunkSize   int                // controller-to-host read size (default 256)
	Activity    activity.Func      // optional transfer indicator
	Interceptor *local.Interceptor // answers local commands; nil answers none
	Counters    *Counters          // optional traffic counters
}

// Relay moves packets in both directions between one host endpoint and one
// controller endpoint. Each direction is driven by exactly one goroutine.
type Relay struct {
	host   transport.Endpoint
	ctrl   transport.Endpoint
	frames *hci.Reader
	local  *local.Interceptor
	notify activity.Func
	chunk  []byte
	stats  *Counters
}

// NewRelay creates a Relay between host and ctrl.
func NewRelay(host, ctrl transport.Endpoint, opts RelayOptions) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Interceptor == nil {
		opts.Interceptor = local.NewInterceptor()
	}
	if opts.Counters == nil {
		opts.Counters = &Counters{}
	}
	return &Relay{
		host:   host,
		ctrl:   ctrl,
		frames: hci.NewReader(host),
		local:  opts.Interceptor,
		notify: opts.Activity,
		chunk:  make([]byte, opts.ChunkSize),
		stats:  opts.Counters,
	}
}

// HostToController frames host packets and forwards them until the host
// stream ends, an error occurs, or ctx is done.
func (r *Relay) HostToController(ctx context.Context) error {
	for {
		pkt, kind, err := r.frames.ReadPacket(ctx)
		if err != nil {
			return hostReadError(err)
		}
		if err := r.dispatch(pkt, kind); err != nil {
			return err
		}
	}
}

// ControllerToHost copies controller output to the host in chunks until the
// controller stream ends, an error occurs, or ctx is done.
func (r *Relay) ControllerToHost(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.pumpController(); err != nil {
			return err
		}
	}
}

// Step performs one cooperative iteration of both directions: at most one
// host packet and one controller chunk. It reports whether any data moved.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	pkt, kind, ok, err := r.frames.TryReadPacket(ctx)
	if err != nil {
		return false, hostReadError(err)
	}
	if ok {
		if err := r.dispatch(pkt, kind); err != nil {
			return true, err
		}
	}

	moved, err := r.pumpController()
	return ok || moved, err
}

// dispatch routes one host packet: local commands are answered to the host,
// everything else goes to the controller unchanged.
func (r *Relay) dispatch(pkt hci.Packet, kind hci.Kind) error {
	activity.Notify(r.notify, true)
	defer activity.Notify(r.notify, false)

	switch kind {
	case hci.KindLocalCommand:
		rsp, err := r.local.Handle(pkt)
		if err != nil {
			slog.Debug("[BRIDGE] local command", "opcode", fmt.Sprintf("0x%04x", pkt.Opcode()), "error", err)
		}
		r.stats.countPacket(kind)
		if err := transport.WriteFlush(r.host, rsp); err != nil {
			return fmt.Errorf("bridge: host write: %w", err)
		}
	case hci.KindCommand, hci.KindACLData, hci.KindSyncData:
		if err := transport.WriteFlush(r.ctrl, pkt); err != nil {
			return fmt.Errorf("bridge: controller write: %w", err)
		}
		r.stats.countPacket(kind)
	default:
		return fmt.Errorf("bridge: unhandled packet kind %v", kind)
	}
	return nil
}

// pumpController performs one controller read and forwards what arrived.
func (r *Relay) pumpController() (bool, error) {
	n, err := r.ctrl.Read(r.chunk)
	if n > 0 {
		if werr := transport.WriteFlush(r.host, r.chunk[:n]); werr != nil {
			return true, fmt.Errorf("bridge: host write: %w", werr)
		}
		r.stats.ControllerBytes.Add(uint64(n))
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n > 0, io.EOF
		}
		return n > 0, fmt.Errorf("bridge: controller read: %w", err)
	}
	return n > 0, nil
}

// hostReadError wraps transport failures while keeping end-of-stream,
// protocol and cancellation errors recognizable.
func hostReadError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, hci.ErrProtocol),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("bridge: host read: %w", err)
	}
}
