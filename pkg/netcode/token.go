package netcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// MaxTokenHosts bounds the host list encoded into a connect token's private
// data. The wire format is variable-length within the fixed 1024-byte
// private-data blob (spec §6), so this is an implementation limit, not a
// protocol one.
const MaxTokenHosts = 32

// ConnectTokenPrivate is the decoded private portion of a connect token (spec
// §3). It is held only for the lifetime of the connection it establishes —
// callers should let it go out of scope as soon as a Connection is created
// from it.
type ConnectTokenPrivate struct {
	ClientID          uint64
	ServerToClientKey [KeyBytes]byte
	ClientToServerKey [KeyBytes]byte
	UserData          [UserDataBytes]byte
	Hosts             []netip.AddrPort
}

// ConnectToken is the full token a client presents in a ConnectionRequest
// packet: the public header fields the server inspects before attempting to
// decode PrivateData (spec §6's "ConnectionRequest" framing).
type ConnectToken struct {
	Version     [VersionStringLen]byte
	ProtocolID  uint64
	CreateTime  int64
	ExpireTime  int64
	Sequence    uint64
	PrivateData [ConnectTokenBytes]byte
}

var errBadTokenHosts = errors.New("netcode: connect token has no hosts or host list malformed")

// sealConnectTokenPrivate encodes and seals t under key. The plaintext is
// zero-padded to ConnectTokenBytes-16 bytes, so the returned blob is exactly
// ConnectTokenBytes: that ciphertext followed by the 16-byte AEAD tag.
func sealConnectTokenPrivate(t *ConnectTokenPrivate, protocolID uint64, expireTime int64, sequence uint64, key *[KeyBytes]byte) ([ConnectTokenBytes]byte, error) {
	var out [ConnectTokenBytes]byte

	plain := make([]byte, 0, ConnectTokenBytes-16)
	plain = binary.LittleEndian.AppendUint64(plain, t.ClientID)
	plain = append(plain, t.UserData[:]...)
	plain = append(plain, t.ClientToServerKey[:]...)
	plain = append(plain, t.ServerToClientKey[:]...)

	if len(t.Hosts) == 0 || len(t.Hosts) > MaxTokenHosts {
		return out, errBadTokenHosts
	}
	plain = append(plain, byte(len(t.Hosts)))
	for _, h := range t.Hosts {
		b, err := encodeHost(h)
		if err != nil {
			return out, err
		}
		plain = append(plain, b...)
	}

	if len(plain) > ConnectTokenBytes-16 {
		return out, fmt.Errorf("netcode: connect token private data too large (%d bytes)", len(plain))
	}
	plain = append(plain, make([]byte, ConnectTokenBytes-16-len(plain))...)

	aead, err := newAEAD(key)
	if err != nil {
		return out, err
	}
	aad := tokenAAD(protocolID, expireTime)
	sealed := sealWithSequence(aead, sequence, aad, plain)
	copy(out[:], sealed)
	return out, nil
}

// decodeConnectTokenPrivate authenticates and decodes an encoded private-data
// blob (spec §4.2 step 3). The associated data binds protocolID and
// expireTime, and sequence is the nonce, matching the reference validator's
// (protocol_id, token_expire, sequence, private_key) input.
func decodeConnectTokenPrivate(blob *[ConnectTokenBytes]byte, protocolID uint64, expireTime int64, sequence uint64, key *[KeyBytes]byte) (*ConnectTokenPrivate, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	aad := tokenAAD(protocolID, expireTime)
	plain, err := openWithSequence(aead, sequence, aad, append([]byte(nil), blob[:]...))
	if err != nil {
		return nil, err
	}
	if len(plain) < 8+UserDataBytes+2*KeyBytes+1 {
		return nil, fmt.Errorf("%w: private data too short", errDecode)
	}

	var t ConnectTokenPrivate
	r := plain
	t.ClientID = binary.LittleEndian.Uint64(r[:8])
	r = r[8:]
	copy(t.UserData[:], r[:UserDataBytes])
	r = r[UserDataBytes:]
	copy(t.ClientToServerKey[:], r[:KeyBytes])
	r = r[KeyBytes:]
	copy(t.ServerToClientKey[:], r[:KeyBytes])
	r = r[KeyBytes:]

	n := int(r[0])
	r = r[1:]
	if n == 0 || n > MaxTokenHosts {
		return nil, errBadTokenHosts
	}
	for i := 0; i < n; i++ {
		h, rest, err := decodeHost(r)
		if err != nil {
			return nil, err
		}
		t.Hosts = append(t.Hosts, h)
		r = rest
	}

	return &t, nil
}

func tokenAAD(protocolID uint64, expireTime int64) []byte {
	aad := make([]byte, 0, 16)
	aad = binary.LittleEndian.AppendUint64(aad, protocolID)
	aad = binary.LittleEndian.AppendUint64(aad, uint64(expireTime))
	return aad
}

// encodeHost encodes a host address as {type byte, ip bytes, port uint16}.
func encodeHost(h netip.AddrPort) ([]byte, error) {
	a := h.Addr()
	if a.Is4() {
		b := make([]byte, 0, 1+4+2)
		b = append(b, 4)
		ip4 := a.As4()
		b = append(b, ip4[:]...)
		b = binary.LittleEndian.AppendUint16(b, h.Port())
		return b, nil
	}
	if a.Is6() {
		b := make([]byte, 0, 1+16+2)
		b = append(b, 6)
		ip6 := a.As16()
		b = append(b, ip6[:]...)
		b = binary.LittleEndian.AppendUint16(b, h.Port())
		return b, nil
	}
	return nil, fmt.Errorf("netcode: unsupported host address %v", h)
}

func decodeHost(b []byte) (netip.AddrPort, []byte, error) {
	if len(b) < 1 {
		return netip.AddrPort{}, nil, errBadTokenHosts
	}
	switch b[0] {
	case 4:
		if len(b) < 1+4+2 {
			return netip.AddrPort{}, nil, errBadTokenHosts
		}
		var ip4 [4]byte
		copy(ip4[:], b[1:5])
		ip := netip.AddrFrom4(ip4)
		port := binary.LittleEndian.Uint16(b[5:7])
		return netip.AddrPortFrom(ip, port), b[7:], nil
	case 6:
		if len(b) < 1+16+2 {
			return netip.AddrPort{}, nil, errBadTokenHosts
		}
		var ip16 [16]byte
		copy(ip16[:], b[1:17])
		ip := netip.AddrFrom16(ip16)
		port := binary.LittleEndian.Uint16(b[17:19])
		return netip.AddrPortFrom(ip, port), b[19:], nil
	default:
		return netip.AddrPort{}, nil, errBadTokenHosts
	}
}

// hostMatches implements the exact-or-wildcard-port host binding rule (spec
// §4.2 step 4, Testable Properties "Token-host binding").
func hostMatches(hosts []netip.AddrPort, bound netip.AddrPort) bool {
	for _, h := range hosts {
		if h == bound {
			return true
		}
		if bound.Port() == 0 && h.Addr() == bound.Addr() {
			return true
		}
	}
	return false
}
