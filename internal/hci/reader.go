package hci

import (
	"context"
	"errors"
	"io"
)

// Reader extracts whole packets from a host byte stream.
//
// The underlying reader may return (0, nil) to signal a read timeout; the
// Reader retries and checks its context between attempts, so a cancelled
// context unblocks it within one timeout period. io.EOF is reported only at
// a packet boundary; a stream that ends inside a packet yields
// io.ErrUnexpectedEOF.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader framing packets from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadPacket blocks until one complete packet has been read.
func (r *Reader) ReadPacket(ctx context.Context) (Packet, Kind, error) {
	var t [1]byte
	if err := r.readFull(ctx, t[:]); err != nil {
		return nil, 0, err
	}
	return r.finish(ctx, t[0])
}

// TryReadPacket makes a single read attempt for the packet indicator. If it
// times out with no data, ok is false and err is nil. Once the indicator has
// arrived the rest of the packet is read as in ReadPacket.
func (r *Reader) TryReadPacket(ctx context.Context) (pkt Packet, kind Kind, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	var t [1]byte
	n, err := r.r.Read(t[:])
	if n == 0 {
		return nil, 0, false, err
	}
	pkt, kind, err = r.finish(ctx, t[0])
	if err != nil {
		return nil, 0, false, err
	}
	return pkt, kind, true, nil
}

// finish reads the header and payload of a packet whose indicator is t.
func (r *Reader) finish(ctx context.Context, t byte) (Packet, Kind, error) {
	kind, hlen, err := classify(t)
	if err != nil {
		return nil, 0, err
	}

	var hdr [ACLHeaderLen]byte
	if err := r.readFull(ctx, hdr[:hlen]); err != nil {
		return nil, 0, midPacket(err)
	}

	n := payloadLen(kind, hdr[:hlen])
	buf := make([]byte, 1+hlen+n)
	buf[0] = t
	copy(buf[1:], hdr[:hlen])
	if err := r.readFull(ctx, buf[1+hlen:]); err != nil {
		return nil, 0, midPacket(err)
	}
	return Packet(buf), kind, nil
}

// readFull fills p, retrying on timeouts until ctx is done.
func (r *Reader) readFull(ctx context.Context, p []byte) error {
	off := 0
	for off < len(p) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.r.Read(p[off:])
		off += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				if off == len(p) {
					return nil
				}
				if off > 0 {
					return io.ErrUnexpectedEOF
				}
			}
			return err
		}
	}
	return nil
}

// midPacket converts a clean EOF into io.ErrUnexpectedEOF once a packet
// indicator has been consumed.
func midPacket(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
