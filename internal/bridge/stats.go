package bridge

import (
	"sync/atomic"

	"github.com/chaz8081/hci-bridge/internal/hci"
)

// Counters tracks traffic for one session. Safe for concurrent use.
type Counters struct {
	Commands        atomic.Uint64
	ACLData         atomic.Uint64
	SyncData        atomic.Uint64
	LocalCommands   atomic.Uint64
	ControllerBytes atomic.Uint64
}

// countPacket records one forwarded host packet of kind k.
func (c *Counters) countPacket(k hci.Kind) {
	switch k {
	case hci.KindCommand:
		c.Commands.Add(1)
	case hci.KindACLData:
		c.ACLData.Add(1)
	case hci.KindSyncData:
		c.SyncData.Add(1)
	case hci.KindLocalCommand:
		c.LocalCommands.Add(1)
	}
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Commands:        c.Commands.Load(),
		ACLData:         c.ACLData.Load(),
		SyncData:        c.SyncData.Load(),
		LocalCommands:   c.LocalCommands.Load(),
		ControllerBytes: c.ControllerBytes.Load(),
	}
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Commands        uint64 `json:"commands"`
	ACLData         uint64 `json:"acl_data"`
	SyncData        uint64 `json:"sync_data"`
	LocalCommands   uint64 `json:"local_commands"`
	ControllerBytes uint64 `json:"controller_bytes"`
}

// HostPackets returns the number of host packets forwarded to the controller.
func (s CounterSnapshot) HostPackets() uint64 {
	return s.Commands + s.ACLData + s.SyncData
}

// Add returns the element-wise sum of s and o.
func (s CounterSnapshot) Add(o CounterSnapshot) CounterSnapshot {
	return CounterSnapshot{
		Commands:        s.Commands + o.Commands,
		ACLData:         s.ACLData + o.ACLData,
		SyncData:        s.SyncData + o.SyncData,
		LocalCommands:   s.LocalCommands + o.LocalCommands,
		ControllerBytes: s.ControllerBytes + o.ControllerBytes,
	}
}
