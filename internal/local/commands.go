package local

import "encoding/binary"

// Built-in local command opcodes (vendor-specific group 0x3F).
const (
	OpReadStatistics uint16 = 0xFD01
	OpReadDeviceInfo uint16 = 0xFD62
)

// Controller transport identifiers reported by OpReadDeviceInfo.
const (
	TransportHCIUser byte = 0x01
	TransportUART    byte = 0x02
)

// DeviceInfo is returned by OpReadDeviceInfo.
type DeviceInfo struct {
	Major, Minor, Patch uint8
	Session             uint16
	Transport           byte
}

// Statistics is returned by OpReadStatistics for the current session.
type Statistics struct {
	HostPackets     uint32
	LocalCommands   uint32
	ControllerBytes uint32
}

// RegisterDeviceInfo installs OpReadDeviceInfo backed by info.
func RegisterDeviceInfo(i *Interceptor, info func() DeviceInfo) {
	i.Register(OpReadDeviceInfo, func([]byte) ([]byte, error) {
		d := info()
		buf := []byte{d.Major, d.Minor, d.Patch, 0, 0, d.Transport}
		binary.LittleEndian.PutUint16(buf[3:5], d.Session)
		return buf, nil
	})
}

// RegisterStatistics installs OpReadStatistics backed by stats.
func RegisterStatistics(i *Interceptor, stats func() Statistics) {
	i.Register(OpReadStatistics, func([]byte) ([]byte, error) {
		s := stats()
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint32(buf[0:4], s.HostPackets)
		binary.LittleEndian.PutUint32(buf[4:8], s.LocalCommands)
		binary.LittleEndian.PutUint32(buf[8:12], s.ControllerBytes)
		return buf, nil
	})
}
