package netcode

import "time"

// Wire-visible sizes. These must match across every implementation of this
// protocol family; they are not configurable.
const (
	VersionStringLen  = 13
	KeyBytes          = 32
	UserDataBytes     = 256
	MaxPayloadBytes   = 1200
	MaxPacketBytes    = 1300
	ConnectTokenBytes = 1024 // size of the private-data blob inside a connect token
	ChallengeBytes    = 300  // size of a sealed challenge token

	replayWindowSize = 256
)

// VersionString identifies this protocol revision. Exactly VersionStringLen
// bytes, zero-padded.
var VersionString = [VersionStringLen]byte{'N', 'E', 'T', 'C', 'O', 'D', 'E', ' ', '1', '.', '0', '2', 0}

// Design-value timing constants (spec §4.3).
const (
	RecvTimeout          = 5 * time.Second
	SendKeepAliveInterval = 100 * time.Millisecond
)

// initialSequence is the first send sequence issued by a freshly created
// channel. Sequence 0 is reserved for the one-shot ConnectionDenied packet.
const initialSequence uint64 = 1
