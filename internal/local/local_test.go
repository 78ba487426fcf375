package local

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chaz8081/hci-bridge/internal/hci"
)

func TestHandleUnknownOpcode(t *testing.T) {
	i := NewInterceptor()

	rsp, err := i.Handle(hci.Packet{0x20, 0x00, 0x00, 0x00})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("error = %v, want ErrUnsupportedCommand", err)
	}
	want := []byte{0x11, 0x00, 0x00, 0x01, StatusUnknownCommand}
	if !bytes.Equal(rsp, want) {
		t.Errorf("response = % X, want % X", []byte(rsp), want)
	}
}

func TestHandleRegistered(t *testing.T) {
	i := NewInterceptor()
	var got []byte
	i.Register(0xFD10, func(params []byte) ([]byte, error) {
		got = append([]byte{}, params...)
		return []byte{0xCA, 0xFE}, nil
	})

	rsp, err := i.Handle(hci.Packet{0x20, 0x10, 0xFD, 0x02, 0x01, 0x02})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("handler params = % X, want 01 02", got)
	}
	want := []byte{0x11, 0x10, 0xFD, 0x03, StatusSuccess, 0xCA, 0xFE}
	if !bytes.Equal(rsp, want) {
		t.Errorf("response = % X, want % X", []byte(rsp), want)
	}
}

func TestHandleHandlerError(t *testing.T) {
	i := NewInterceptor()
	i.Register(0xFD11, func([]byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	rsp, err := i.Handle(hci.Packet{0x20, 0x11, 0xFD, 0x00})
	if err == nil {
		t.Fatal("Handle() should report the handler error")
	}
	if rsp.Type() != hci.TypeLocalResponse || rsp.Payload()[0] != StatusUnspecifiedError {
		t.Errorf("response = % X, want unspecified error status", []byte(rsp))
	}
}

func TestHandleOversizedResponse(t *testing.T) {
	i := NewInterceptor()
	i.Register(0xFD12, func([]byte) ([]byte, error) {
		return make([]byte, 300), nil
	})

	rsp, err := i.Handle(hci.Packet{0x20, 0x12, 0xFD, 0x00})
	if err == nil {
		t.Error("Handle() should reject a response longer than 254 parameter bytes")
	}
	if len(rsp) != 5 || rsp.Payload()[0] != StatusUnspecifiedError {
		t.Errorf("response = % X", []byte(rsp))
	}
}

func TestReadDeviceInfo(t *testing.T) {
	i := NewInterceptor()
	RegisterDeviceInfo(i, func() DeviceInfo {
		return DeviceInfo{Major: 1, Minor: 2, Patch: 3, Session: 0x0102, Transport: TransportUART}
	})

	rsp, err := i.Handle(hci.Packet{0x20, 0x62, 0xFD, 0x00})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	want := []byte{0x11, 0x62, 0xFD, 0x07, StatusSuccess, 1, 2, 3, 0x02, 0x01, TransportUART}
	if !bytes.Equal(rsp, want) {
		t.Errorf("response = % X, want % X", []byte(rsp), want)
	}
}

func TestReadStatistics(t *testing.T) {
	i := NewInterceptor()
	RegisterStatistics(i, func() Statistics {
		return Statistics{HostPackets: 5, LocalCommands: 1, ControllerBytes: 0x0100}
	})

	rsp, err := i.Handle(hci.Packet{0x20, 0x01, 0xFD, 0x00})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	payload := rsp.Payload()
	if len(payload) != 13 {
		t.Fatalf("payload length = %d, want 13", len(payload))
	}
	if payload[0] != StatusSuccess || payload[1] != 5 || payload[5] != 1 || payload[10] != 0x01 {
		t.Errorf("payload = % X", payload)
	}
}
