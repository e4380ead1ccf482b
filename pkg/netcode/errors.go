package netcode

import "errors"

// CreateError values are returned from NewServer.
var (
	ErrAddrInUse        = errors.New("netcode: address already in use")
	ErrAddrNotAvailable = errors.New("netcode: address not available")
)

// SendError values are returned from Server.Send.
var (
	ErrPacketSize     = errors.New("netcode: packet size out of range")
	ErrInvalidClientID = errors.New("netcode: unknown client id")
	ErrEncode         = errors.New("netcode: failed to encode packet")
	ErrNotIdle        = errors.New("netcode: client has not completed the handshake")
)

// RecvError values, mostly surfaced only internally: a duplicate sequence
// becomes a ReplayRejected event, and a channel packet that fails to decode
// disconnects the slot. A Response whose challenge token fails to
// authenticate is the exception: NextEvent returns an error wrapping
// errDecode and the slot is left as it was.
var (
	errDuplicateSequence = errors.New("netcode: duplicate sequence number")
	errDecode            = errors.New("netcode: failed to decode packet")
)

// UpdateError values are returned from Server.NextEvent.
var (
	ErrPacketBufferTooSmall = errors.New("netcode: output buffer smaller than MaxPayloadBytes")
)
