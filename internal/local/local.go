// Package local answers bridge-local HCI commands (packet type 0x20). These
// commands never reach the controller; every one of them gets exactly one
// response framed like a command: 0x11, opcode, length, status, parameters.
package local

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/hci-bridge/internal/hci"
)

// ErrUnsupportedCommand is reported for opcodes without a registered handler.
var ErrUnsupportedCommand = errors.New("local: unsupported command")

// Status codes placed in the first response parameter.
const (
	StatusSuccess          byte = 0x00
	StatusUnknownCommand   byte = 0x01
	StatusUnspecifiedError byte = 0x1F
)

// maxResponseParams leaves room for the status byte in a 255-byte payload.
const maxResponseParams = 0xFF - 1

// HandlerFunc answers a local command. It receives the command parameters
// and returns the response parameters that follow the status byte.
type HandlerFunc func(params []byte) ([]byte, error)

// Interceptor dispatches local commands to registered handlers.
// Safe for concurrent use.
type Interceptor struct {
	mu       sync.RWMutex
	handlers map[uint16]HandlerFunc
}

// NewInterceptor creates an Interceptor with no handlers.
func NewInterceptor() *Interceptor {
	return &Interceptor{handlers: make(map[uint16]HandlerFunc)}
}

// Register installs h for opcode, replacing any previous handler.
func (i *Interceptor) Register(opcode uint16, h HandlerFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[opcode] = h
}

// Handle answers pkt. The returned packet is always well formed; a non-nil
// error describes why the response carries a failure status and is never
// fatal to the session.
func (i *Interceptor) Handle(pkt hci.Packet) (hci.Packet, error) {
	opcode := pkt.Opcode()

	i.mu.RLock()
	h, ok := i.handlers[opcode]
	i.mu.RUnlock()

	if !ok {
		return Response(opcode, StatusUnknownCommand, nil),
			fmt.Errorf("%w: opcode 0x%04x", ErrUnsupportedCommand, opcode)
	}

	params, err := h(pkt.Payload())
	if err != nil {
		return Response(opcode, StatusUnspecifiedError, nil),
			fmt.Errorf("local: opcode 0x%04x: %w", opcode, err)
	}
	if len(params) > maxResponseParams {
		return Response(opcode, StatusUnspecifiedError, nil),
			fmt.Errorf("local: opcode 0x%04x: response too long (%d bytes)", opcode, len(params))
	}
	return Response(opcode, StatusSuccess, params), nil
}

// Response frames a local command response.
func Response(opcode uint16, status byte, params []byte) hci.Packet {
	if len(params) > maxResponseParams {
		params = params[:maxResponseParams]
	}
	payload := make([]byte, 0, 1+len(params))
	payload = append(payload, status)
	payload = append(payload, params...)
	// Cannot fail: payload is at most 255 bytes.
	pkt, _ := hci.NewCommandPacket(hci.TypeLocalResponse, opcode, payload)
	return pkt
}
