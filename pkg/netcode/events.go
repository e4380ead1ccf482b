package netcode

import (
	"fmt"
	"net/netip"
)

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	EventClientConnect EventKind = iota
	EventClientDisconnect
	EventClientSlotFull
	EventPacket
	EventKeepAlive
	EventRejectedClient
	EventReplayRejected
)

func (k EventKind) String() string {
	switch k {
	case EventClientConnect:
		return "ClientConnect"
	case EventClientDisconnect:
		return "ClientDisconnect"
	case EventClientSlotFull:
		return "ClientSlotFull"
	case EventPacket:
		return "Packet"
	case EventKeepAlive:
		return "KeepAlive"
	case EventRejectedClient:
		return "RejectedClient"
	case EventReplayRejected:
		return "ReplayRejected"
	default:
		return "Unknown"
	}
}

// Event is the unit of information NextEvent returns to the embedder. Only
// the fields relevant to Kind are populated; ClientID is 0 for
// ClientSlotFull and RejectedClient (neither has an admitted client yet).
// Addr is the peer address when known; it exists so an embedder can persist
// an audit trail without the core server depending on a storage layer.
type Event struct {
	Kind     EventKind
	ClientID uint64
	Addr     netip.AddrPort
	Len      int // for EventPacket: number of bytes written to the caller's out buffer
}

func (e Event) String() string {
	switch e.Kind {
	case EventPacket:
		return fmt.Sprintf("%s(%d, %d)", e.Kind, e.ClientID, e.Len)
	case EventClientSlotFull, EventRejectedClient:
		return e.Kind.String()
	default:
		return fmt.Sprintf("%s(%d)", e.Kind, e.ClientID)
	}
}
