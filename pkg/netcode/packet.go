package netcode

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the low nibble of a packet's one-byte wire prefix (spec §6).
type PacketType byte

const (
	PacketConnectionRequest PacketType = iota
	PacketConnectionDenied
	PacketChallenge
	PacketResponse
	PacketKeepAlive
	PacketPayload
	PacketDisconnect
)

func (t PacketType) String() string {
	switch t {
	case PacketConnectionRequest:
		return "ConnectionRequest"
	case PacketConnectionDenied:
		return "ConnectionDenied"
	case PacketChallenge:
		return "Challenge"
	case PacketResponse:
		return "Response"
	case PacketKeepAlive:
		return "KeepAlive"
	case PacketPayload:
		return "Payload"
	case PacketDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// packet is the decoded form of any wire packet. Only the fields relevant to
// Type are populated; Go has no tagged-union type, so (unlike the Rust
// reference's enum) this is a plain struct discriminated by Type, the same
// shape used for e.g. nspkt's MonitorPacket.
type packet struct {
	Type PacketType

	// ConnectionRequest
	Version     [VersionStringLen]byte
	ProtocolID  uint64
	TokenExpire int64
	Sequence    uint64
	PrivateData [ConnectTokenBytes]byte

	// Challenge. ChallengeSequence is the nonce the challenge token itself
	// was sealed under (spec §3) — unrelated to this packet's own outer
	// framing sequence, and carried as an explicit plaintext field because
	// a receiver has no other way to recover the nonce needed to open
	// ChallengeData.
	ChallengeSequence uint64
	ChallengeData     [ChallengeBytes]byte

	// Response (same shape as Challenge: echoes the sequence and sealed
	// token the client received, verbatim)
	ResponseSequence uint64
	ResponseData     [ChallengeBytes]byte

	// KeepAlive
	SlotIndex int32
	Capacity  int32

	// Payload
	Payload []byte
}

func seqByteLen(seq uint64) int {
	n := 1
	for v := seq >> 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

func putSeqBytes(dst []byte, seq uint64, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(seq >> (8 * i))
	}
}

func getSeqBytes(src []byte) uint64 {
	var seq uint64
	for i, b := range src {
		seq |= uint64(b) << (8 * i)
	}
	return seq
}

func packetAAD(protocolID uint64, ptype PacketType) []byte {
	aad := make([]byte, 0, 8+VersionStringLen+1)
	aad = binary.LittleEndian.AppendUint64(aad, protocolID)
	aad = append(aad, VersionString[:]...)
	aad = append(aad, byte(ptype))
	return aad
}

// encodeConnectionRequest writes the non-AEAD-wrapped ConnectionRequest
// layout. Real clients build this packet themselves (internal/nctest has its
// own independent copy, the same way pkg/a2s reimplements its wire format
// rather than importing it); this copy exists to build well-formed seeds for
// decode's fuzz tests.
func encodeConnectionRequest(protocolID uint64, tokenExpire int64, sequence uint64, privateData *[ConnectTokenBytes]byte) []byte {
	buf := make([]byte, 0, 1+VersionStringLen+8+8+8+ConnectTokenBytes)
	buf = append(buf, byte(PacketConnectionRequest))
	buf = append(buf, VersionString[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, protocolID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tokenExpire))
	buf = binary.LittleEndian.AppendUint64(buf, sequence)
	buf = append(buf, privateData[:]...)
	return buf
}

// encodeSealed writes the common framing for every packet type except
// ConnectionRequest: prefix byte, minimal sequence bytes, AEAD ciphertext.
func encodeSealed(protocolID uint64, ptype PacketType, seq uint64, key *[KeyBytes]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	n := seqByteLen(seq)
	buf := make([]byte, 1+n, 1+n+len(plaintext)+16)
	buf[0] = byte(ptype) | byte(n<<4)
	putSeqBytes(buf[1:1+n], seq, n)

	sealed := sealWithSequence(aead, seq, packetAAD(protocolID, ptype), append([]byte(nil), plaintext...))
	buf = append(buf, sealed...)
	return buf, nil
}

// decode parses a wire packet. For non-ConnectionRequest types, key must be
// the appropriate directional AEAD key for the sender; decode returns
// errDuplicateSequence's sibling errDecode on any authentication failure.
func decode(data []byte, protocolID uint64, key *[KeyBytes]byte) (*packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty packet", errDecode)
	}
	prefix := data[0]
	ptype := PacketType(prefix & 0x0F)

	if ptype == PacketConnectionRequest {
		const hdr = 1 + VersionStringLen + 8 + 8 + 8
		if len(data) != hdr+ConnectTokenBytes {
			return nil, fmt.Errorf("%w: bad connection request size", errDecode)
		}
		p := &packet{Type: PacketConnectionRequest}
		off := 1
		copy(p.Version[:], data[off:off+VersionStringLen])
		off += VersionStringLen
		p.ProtocolID = binary.LittleEndian.Uint64(data[off:])
		off += 8
		p.TokenExpire = int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		p.Sequence = binary.LittleEndian.Uint64(data[off:])
		off += 8
		copy(p.PrivateData[:], data[off:off+ConnectTokenBytes])
		return p, nil
	}

	n := int(prefix >> 4)
	if n < 1 || n > 8 || len(data) < 1+n {
		return nil, fmt.Errorf("%w: bad sequence byte count", errDecode)
	}
	seq := getSeqBytes(data[1 : 1+n])

	if key == nil {
		return nil, fmt.Errorf("%w: no key for sealed packet", errDecode)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	ciphertext := append([]byte(nil), data[1+n:]...)
	plain, err := openWithSequence(aead, seq, packetAAD(protocolID, ptype), ciphertext)
	if err != nil {
		return nil, err
	}

	p := &packet{Type: ptype}
	switch ptype {
	case PacketConnectionDenied:
		// no payload
	case PacketChallenge:
		if len(plain) != 8+ChallengeBytes {
			return nil, fmt.Errorf("%w: bad challenge size", errDecode)
		}
		p.ChallengeSequence = binary.LittleEndian.Uint64(plain[:8])
		copy(p.ChallengeData[:], plain[8:])
	case PacketResponse:
		if len(plain) != 8+ChallengeBytes {
			return nil, fmt.Errorf("%w: bad response size", errDecode)
		}
		p.ResponseSequence = binary.LittleEndian.Uint64(plain[:8])
		copy(p.ResponseData[:], plain[8:])
	case PacketKeepAlive:
		if len(plain) != 8 {
			return nil, fmt.Errorf("%w: bad keep-alive size", errDecode)
		}
		p.SlotIndex = int32(binary.LittleEndian.Uint32(plain[0:4]))
		p.Capacity = int32(binary.LittleEndian.Uint32(plain[4:8]))
	case PacketPayload:
		if len(plain) == 0 || len(plain) > MaxPayloadBytes {
			return nil, fmt.Errorf("%w: bad payload size", errDecode)
		}
		p.Payload = plain
	case PacketDisconnect:
		// no payload
	default:
		return nil, fmt.Errorf("%w: unknown packet type %d", errDecode, ptype)
	}
	return p, nil
}

func encodeKeepAlivePlaintext(slotIndex, capacity int32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(slotIndex))
	binary.LittleEndian.PutUint32(b[4:8], uint32(capacity))
	return b
}

// encodeChallengePlaintext prepends the challenge token's sealing sequence
// to its sealed bytes, for use as a Challenge or Response packet's outer
// plaintext (see packet.ChallengeSequence).
func encodeChallengePlaintext(tokenSeq uint64, sealed [ChallengeBytes]byte) []byte {
	b := make([]byte, 0, 8+ChallengeBytes)
	b = binary.LittleEndian.AppendUint64(b, tokenSeq)
	b = append(b, sealed[:]...)
	return b
}
