package hci

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"
)

// stallingReader returns (0, nil) before every real read, the way a serial
// port with a read timeout does when no data is pending.
type stallingReader struct {
	r     io.Reader
	stall bool
	reads int
}

func (s *stallingReader) Read(p []byte) (int, error) {
	s.reads++
	s.stall = !s.stall
	if s.stall {
		return 0, nil
	}
	return s.r.Read(p)
}

// idleReader always times out.
type idleReader struct{}

func (idleReader) Read([]byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func TestReadPacketScenarios(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		kind Kind
	}{
		{"reset command", []byte{0x01, 0x03, 0x0C, 0x00}, KindCommand},
		{"acl with payload", []byte{0x02, 0x40, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC}, KindACLData},
		{"local command", []byte{0x20, 0x00, 0x00, 0x00}, KindLocalCommand},
		{"sync data", []byte{0x03, 0x01, 0x00, 0x02, 0x11, 0x22}, KindSyncData},
		{"command with params", []byte{0x01, 0x01, 0x20, 0x02, 0x01, 0x02}, KindCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.in))
			pkt, kind, err := r.ReadPacket(context.Background())
			if err != nil {
				t.Fatalf("ReadPacket() error = %v", err)
			}
			if kind != tt.kind {
				t.Errorf("kind = %v, want %v", kind, tt.kind)
			}
			if !bytes.Equal(pkt, tt.in) {
				t.Errorf("packet = % X, want % X", []byte(pkt), tt.in)
			}
		})
	}
}

func TestReadPacketUnknownType(t *testing.T) {
	for _, b := range []byte{0xFF, 0x04, 0x00, 0x11} {
		r := NewReader(bytes.NewReader([]byte{b, 0x00, 0x00, 0x00}))
		_, _, err := r.ReadPacket(context.Background())
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("type 0x%02x: error = %v, want ErrProtocol", b, err)
		}
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Type != b {
			t.Errorf("type 0x%02x: ProtocolError.Type = %v, want 0x%02x", b, perr, b)
		}
	}
}

func TestReadPacketCommandLengths(t *testing.T) {
	for _, n := range []int{0, 1, 17, 128, 255} {
		in := make([]byte, 4+n)
		in[0], in[1], in[2], in[3] = 0x01, 0x05, 0x10, byte(n)
		for i := range n {
			in[4+i] = byte(i)
		}
		pkt, _, err := NewReader(bytes.NewReader(in)).ReadPacket(context.Background())
		if err != nil {
			t.Fatalf("len %d: ReadPacket() error = %v", n, err)
		}
		if len(pkt) != 4+n {
			t.Errorf("len %d: packet length = %d, want %d", n, len(pkt), 4+n)
		}
		if len(pkt) > MaxCommandPacketLen {
			t.Errorf("len %d: packet length %d exceeds %d", n, len(pkt), MaxCommandPacketLen)
		}
	}
}

func TestReadPacketACLLengths(t *testing.T) {
	for _, n := range []int{0, 1, 255, 256, 1021, 65535} {
		in := make([]byte, 5+n)
		in[0], in[1], in[2] = 0x02, 0x01, 0x20
		in[3], in[4] = byte(n), byte(n>>8)
		if n > 0 {
			in[len(in)-1] = 0x5A
		}
		pkt, kind, err := NewReader(bytes.NewReader(in)).ReadPacket(context.Background())
		if err != nil {
			t.Fatalf("len %d: ReadPacket() error = %v", n, err)
		}
		if kind != KindACLData {
			t.Errorf("len %d: kind = %v, want acl", n, kind)
		}
		if len(pkt) != 5+n {
			t.Errorf("len %d: packet length = %d, want %d", n, len(pkt), 5+n)
		}
		if len(pkt.Payload()) != n {
			t.Errorf("len %d: payload length = %d", n, len(pkt.Payload()))
		}
	}
}

func TestReadPacketIndependentOfChunking(t *testing.T) {
	stream := []byte{
		0x01, 0x03, 0x0C, 0x00,
		0x02, 0x40, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC,
	}
	readers := map[string]io.Reader{
		"whole":    bytes.NewReader(stream),
		"one byte": iotest.OneByteReader(bytes.NewReader(stream)),
		"half":     iotest.HalfReader(bytes.NewReader(stream)),
		"stalling": &stallingReader{r: iotest.OneByteReader(bytes.NewReader(stream))},
	}

	for name, src := range readers {
		t.Run(name, func(t *testing.T) {
			r := NewReader(src)
			first, _, err := r.ReadPacket(context.Background())
			if err != nil {
				t.Fatalf("first ReadPacket() error = %v", err)
			}
			second, _, err := r.ReadPacket(context.Background())
			if err != nil {
				t.Fatalf("second ReadPacket() error = %v", err)
			}
			got := append(append([]byte{}, first...), second...)
			if !bytes.Equal(got, stream) {
				t.Errorf("reassembled = % X, want % X", got, stream)
			}
			if _, _, err := r.ReadPacket(context.Background()); err != io.EOF {
				t.Errorf("third ReadPacket() error = %v, want io.EOF", err)
			}
		})
	}
}

func TestReadPacketTruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x02, 0x40, 0x00, 0x03, 0x00, 0xAA}))
	_, _, err := r.ReadPacket(context.Background())
	if err != io.ErrUnexpectedEOF {
		t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
	}

	r = NewReader(bytes.NewReader([]byte{0x01, 0x03}))
	_, _, err = r.ReadPacket(context.Background())
	if err != io.ErrUnexpectedEOF {
		t.Errorf("header error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadPacketCancelledWhileIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := NewReader(idleReader{}).ReadPacket(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTryReadPacket(t *testing.T) {
	src := &stallingReader{r: bytes.NewReader([]byte{0x01, 0x03, 0x0C, 0x00})}
	r := NewReader(src)

	_, _, ok, err := r.TryReadPacket(context.Background())
	if err != nil || ok {
		t.Fatalf("first TryReadPacket() = ok %v, err %v; want timeout", ok, err)
	}

	pkt, kind, ok, err := r.TryReadPacket(context.Background())
	if err != nil || !ok {
		t.Fatalf("second TryReadPacket() = ok %v, err %v", ok, err)
	}
	if kind != KindCommand || len(pkt) != 4 {
		t.Errorf("got %v packet % X", kind, []byte(pkt))
	}

	// The next attempt stalls once, then reports the end of the stream.
	if _, _, ok, err := r.TryReadPacket(context.Background()); ok || err != nil {
		t.Errorf("third TryReadPacket() = ok %v, err %v; want timeout", ok, err)
	}
	if _, _, _, err := r.TryReadPacket(context.Background()); err != io.EOF {
		t.Errorf("fourth TryReadPacket() err = %v, want io.EOF", err)
	}
}
