// Package hci implements HCI UART (H4) packet framing for the transparent
// bridge: packet type indicators, header layouts and the frame reader.
package hci

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType is the H4 packet indicator octet that precedes every packet.
type PacketType uint8

const (
	TypeCommand  PacketType = 0x01
	TypeACLData  PacketType = 0x02
	TypeSyncData PacketType = 0x03
	TypeEvent    PacketType = 0x04

	// TypeLocalResponse frames responses to bridge-local commands.
	TypeLocalResponse PacketType = 0x11
	// TypeLocalCommand marks commands answered by the bridge itself.
	TypeLocalCommand PacketType = 0x20
)

// Header sizes, excluding the packet indicator.
const (
	CommandHeaderLen = 3 // opcode (2) + parameter length (1)
	SyncHeaderLen    = 3 // handle (2) + data length (1)
	ACLHeaderLen     = 4 // handle (2) + data length (2)
)

// Maximum packet sizes including the indicator octet.
const (
	MaxCommandPacketLen = 1 + CommandHeaderLen + 0xFF
	MaxACLPacketLen     = 1 + ACLHeaderLen + 0xFFFF
)

// Kind is the class a framed packet was parsed as.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindACLData
	KindSyncData
	KindLocalCommand
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindACLData:
		return "acl"
	case KindSyncData:
		return "sync"
	case KindLocalCommand:
		return "local"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrProtocol matches every *ProtocolError via errors.Is.
var ErrProtocol = errors.New("hci: protocol error")

// ProtocolError reports a packet indicator the host side may not send.
type ProtocolError struct {
	Type byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hci: unknown packet type 0x%02x", e.Type)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// classify maps a packet indicator to its kind and header length.
func classify(t byte) (Kind, int, error) {
	switch PacketType(t) {
	case TypeCommand:
		return KindCommand, CommandHeaderLen, nil
	case TypeLocalCommand:
		return KindLocalCommand, CommandHeaderLen, nil
	case TypeSyncData:
		return KindSyncData, SyncHeaderLen, nil
	case TypeACLData:
		return KindACLData, ACLHeaderLen, nil
	default:
		return 0, 0, &ProtocolError{Type: t}
	}
}

// payloadLen decodes the payload length from a header of the given kind.
func payloadLen(k Kind, hdr []byte) int {
	if k == KindACLData {
		return int(binary.LittleEndian.Uint16(hdr[2:4]))
	}
	return int(hdr[2])
}

// headerLen returns the header length for a packet indicator, or -1.
func headerLen(t PacketType) int {
	switch t {
	case TypeCommand, TypeLocalCommand, TypeLocalResponse, TypeSyncData:
		return CommandHeaderLen
	case TypeACLData:
		return ACLHeaderLen
	default:
		return -1
	}
}

// Packet is one complete H4 packet: indicator, header and payload.
// Packets returned by the Reader are never modified afterwards.
type Packet []byte

// Type returns the packet indicator.
func (p Packet) Type() PacketType {
	if len(p) == 0 {
		return 0
	}
	return PacketType(p[0])
}

// Header returns the type-dependent header, without the indicator.
func (p Packet) Header() []byte {
	n := headerLen(p.Type())
	if n < 0 || len(p) < 1+n {
		return nil
	}
	return p[1 : 1+n]
}

// Payload returns the bytes following the header.
func (p Packet) Payload() []byte {
	n := headerLen(p.Type())
	if n < 0 || len(p) < 1+n {
		return nil
	}
	return p[1+n:]
}

// Opcode returns the little-endian opcode of a command-shaped packet.
func (p Packet) Opcode() uint16 {
	if len(p) < 3 {
		return 0
	}
	return binary.LittleEndian.Uint16(p[1:3])
}

// Bytes returns the packet as a byte slice.
func (p Packet) Bytes() []byte { return p }

// NewCommandPacket builds a command-shaped packet (indicator, opcode,
// length, parameters). Parameters longer than 255 bytes are rejected.
func NewCommandPacket(t PacketType, opcode uint16, params []byte) (Packet, error) {
	if len(params) > 0xFF {
		return nil, fmt.Errorf("hci: parameters too long (%d > 255 bytes)", len(params))
	}
	buf := make([]byte, 1+CommandHeaderLen+len(params))
	buf[0] = byte(t)
	binary.LittleEndian.PutUint16(buf[1:3], opcode)
	buf[3] = byte(len(params))
	copy(buf[4:], params)
	return Packet(buf), nil
}

// Opcode packs an OGF/OCF pair into a command opcode.
func Opcode(ogf uint8, ocf uint16) uint16 {
	return uint16(ogf)<<10 | ocf&0x03FF
}

// OGF returns the opcode group field.
func OGF(opcode uint16) uint8 { return uint8(opcode >> 10) }

// OCF returns the opcode command field.
func OCF(opcode uint16) uint16 { return opcode & 0x03FF }
