package netcode

import "net/netip"

// ConnectionState is the per-slot handshake state (spec §4.2).
type ConnectionState int

const (
	StatePendingResponse ConnectionState = iota
	StateIdle
	StateTimedOut
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StatePendingResponse:
		return "PendingResponse"
	case StateIdle:
		return "Idle"
	case StateTimedOut:
		return "TimedOut"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Connection is a slot entry (spec §3 "Connection").
type Connection struct {
	ClientID uint64
	State    ConnectionState
	Channel  *Channel
}

// slotTable maintains the {slot_index <-> client_id <-> peer address}
// mapping, fixed-size and allocated first-fit (spec §4.1). Lookups are
// O(N) linear scans — capacity is small and fixed, so this is intentionally
// simple rather than indexed by a map, matching the reference
// implementation's Vec<Option<Connection>> scan.
type slotTable struct {
	slots []*Connection
}

func newSlotTable(capacity int) *slotTable {
	return &slotTable{slots: make([]*Connection, capacity)}
}

func (t *slotTable) capacity() int { return len(t.slots) }

func (t *slotTable) findByID(clientID uint64) int {
	for i, c := range t.slots {
		if c != nil && c.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (t *slotTable) findByAddr(addr netip.AddrPort) int {
	for i, c := range t.slots {
		if c != nil && c.Channel.Addr() == addr {
			return i
		}
	}
	return -1
}

// allocate returns the first empty slot index in order, or -1 if full.
func (t *slotTable) allocate() int {
	for i, c := range t.slots {
		if c == nil {
			return i
		}
	}
	return -1
}

func (t *slotTable) get(i int) *Connection {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return t.slots[i]
}

func (t *slotTable) set(i int, c *Connection) {
	t.slots[i] = c
}

func (t *slotTable) release(i int) {
	if i >= 0 && i < len(t.slots) {
		t.slots[i] = nil
	}
}
