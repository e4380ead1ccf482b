// Package nctest implements a minimal client for the connectionless secure
// UDP transport in pkg/netcode, for use as a test harness. It deliberately
// does not import pkg/netcode's unexported codec internals: a real client
// only ever sees the wire format, so this package re-implements the
// client-side half of it directly, the same way pkg/a2s re-implements its
// own probe packet encoding rather than sharing code with a server.
package nctest

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/r2northstar/netcode/pkg/netcode"
)

var ErrTimeout = errors.New("nctest: timed out waiting for server")

// Token is the information a client needs to present in a ConnectionRequest:
// the public header plus the already-sealed private data blob a token
// minting service would have handed the client out of band.
type Token struct {
	ClientID    uint64
	ProtocolID  uint64
	TokenExpire int64
	Sequence    uint64
	PrivateData [netcode.ConnectTokenBytes]byte

	ServerToClientKey [netcode.KeyBytes]byte
	ClientToServerKey [netcode.KeyBytes]byte
}

// SealPrivateData builds and seals the private portion of a connect token
// under serverKey, for use by tests that mint their own tokens rather than
// standing up a separate minting service.
func SealPrivateData(clientID uint64, userData [netcode.UserDataBytes]byte, clientToServerKey, serverToClientKey [netcode.KeyBytes]byte, hosts []netip.AddrPort, protocolID uint64, tokenExpire int64, sequence uint64, serverKey [netcode.KeyBytes]byte) ([netcode.ConnectTokenBytes]byte, error) {
	var out [netcode.ConnectTokenBytes]byte

	plain := make([]byte, 0, netcode.ConnectTokenBytes-16)
	plain = binary.LittleEndian.AppendUint64(plain, clientID)
	plain = append(plain, userData[:]...)
	plain = append(plain, clientToServerKey[:]...)
	plain = append(plain, serverToClientKey[:]...)

	if len(hosts) == 0 || len(hosts) > 32 {
		return out, fmt.Errorf("nctest: bad host list length %d", len(hosts))
	}
	plain = append(plain, byte(len(hosts)))
	for _, h := range hosts {
		a := h.Addr()
		if a.Is4() {
			plain = append(plain, 4)
			ip4 := a.As4()
			plain = append(plain, ip4[:]...)
			plain = binary.LittleEndian.AppendUint16(plain, h.Port())
		} else {
			plain = append(plain, 6)
			ip6 := a.As16()
			plain = append(plain, ip6[:]...)
			plain = binary.LittleEndian.AppendUint16(plain, h.Port())
		}
	}

	if len(plain) > netcode.ConnectTokenBytes-16 {
		return out, fmt.Errorf("nctest: private data too large (%d bytes)", len(plain))
	}
	plain = append(plain, make([]byte, netcode.ConnectTokenBytes-16-len(plain))...)

	aead, err := newAEAD(serverKey)
	if err != nil {
		return out, err
	}
	aad := make([]byte, 0, 16)
	aad = binary.LittleEndian.AppendUint64(aad, protocolID)
	aad = binary.LittleEndian.AppendUint64(aad, uint64(tokenExpire))
	sealed := seal(aead, sequence, aad, plain)
	copy(out[:], sealed)
	return out, nil
}

// Client drives the handshake and subsequent payload exchange from the
// client side of the wire, over a real UDP socket.
type Client struct {
	conn       *net.UDPConn
	clientID   uint64
	protocolID uint64

	sendToKey   [netcode.KeyBytes]byte
	recvFromKey [netcode.KeyBytes]byte
	sendSeq     uint64
}

// Connect performs the full four-step handshake (ConnectionRequest,
// Challenge, Response, first KeepAlive) against addr and returns a Client
// ready to exchange payloads, or an error if the server rejected the token
// or the handshake timed out.
func Connect(addr netip.AddrPort, tok Token, timeout time.Duration) (*Client, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("nctest: dial: %w", err)
	}

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	req := encodeConnectionRequest(tok.ProtocolID, tok.TokenExpire, tok.Sequence, &tok.PrivateData)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, wrapTimeout(err, "send connection request")
	}

	buf := make([]byte, netcode.MaxPacketBytes)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, wrapTimeout(err, "receive challenge")
	}

	ptype, seq, challenge, err := decodeSealed(buf[:n])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nctest: decode challenge framing: %w", err)
	}
	if ptype == byte(netcode.PacketConnectionDenied) {
		conn.Close()
		return nil, fmt.Errorf("nctest: server denied connection")
	}
	if ptype != byte(netcode.PacketChallenge) {
		conn.Close()
		return nil, fmt.Errorf("nctest: expected challenge, got packet type %d", ptype)
	}

	aead, err := newAEAD(tok.ServerToClientKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// challengeData is still sealed under the server's private challenge
	// key once this outer envelope is opened: a client never has that key,
	// so it treats the blob as opaque and simply echoes it back in Response.
	challengeData, err := open(aead, seq, packetAAD(tok.ProtocolID, byte(netcode.PacketChallenge)), challenge)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nctest: authenticate challenge: %w", err)
	}

	c := &Client{
		conn:        conn,
		clientID:    tok.ClientID,
		protocolID:  tok.ProtocolID,
		sendToKey:   tok.ClientToServerKey,
		recvFromKey: tok.ServerToClientKey,
		sendSeq:     1,
	}

	resp, err := c.sealAndFrame(byte(netcode.PacketResponse), challengeData)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(resp); err != nil {
		conn.Close()
		return nil, wrapTimeout(err, "send response")
	}

	// The server replies with an immediate KeepAlive once it accepts the
	// Response; consume it so the channel's first real payload isn't
	// mistaken for it.
	if ptype, _, err := c.Recv(timeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nctest: receive initial keep-alive: %w", err)
	} else if ptype != byte(netcode.PacketKeepAlive) {
		conn.Close()
		return nil, fmt.Errorf("nctest: expected initial keep-alive, got packet type %d", ptype)
	}

	return c, nil
}

// ClientID returns the client id this Client presented in its token.
func (c *Client) ClientID() uint64 { return c.clientID }

// Close releases the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

// SendPayload seals and writes a Payload packet to the server.
func (c *Client) SendPayload(data []byte) error {
	buf, err := c.sealAndFrame(byte(netcode.PacketPayload), data)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// SendKeepAlive seals and writes a KeepAlive packet with arbitrary
// (unauthenticated on the client side) slot info — the server ignores the
// payload of client-sent keep-alives beyond the fact that they arrived.
func (c *Client) SendKeepAlive() error {
	buf, err := c.sealAndFrame(byte(netcode.PacketKeepAlive), make([]byte, 8))
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// SendDisconnect seals and writes a Disconnect packet to the server.
func (c *Client) SendDisconnect() error {
	buf, err := c.sealAndFrame(byte(netcode.PacketDisconnect), nil)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// Recv reads and opens the next datagram from the server, returning its
// packet type and plaintext.
func (c *Client) Recv(timeout time.Duration) (byte, []byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, netcode.MaxPacketBytes)
	n, err := c.conn.Read(buf)
	if err != nil {
		return 0, nil, wrapTimeout(err, "receive")
	}
	ptype, seq, ciphertext, err := decodeSealed(buf[:n])
	if err != nil {
		return 0, nil, err
	}
	aead, err := newAEAD(c.recvFromKey)
	if err != nil {
		return 0, nil, err
	}
	plain, err := open(aead, seq, packetAAD(c.protocolID, ptype), ciphertext)
	if err != nil {
		return 0, nil, err
	}
	return ptype, plain, nil
}

func (c *Client) sealAndFrame(ptype byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(c.sendToKey)
	if err != nil {
		return nil, err
	}
	seq := c.sendSeq
	c.sendSeq++

	n := seqByteLen(seq)
	buf := make([]byte, 1+n, 1+n+len(plaintext)+16)
	buf[0] = ptype | byte(n<<4)
	putSeqBytes(buf[1:1+n], seq, n)

	sealed := seal(aead, seq, packetAAD(c.protocolID, ptype), append([]byte(nil), plaintext...))
	return append(buf, sealed...), nil
}

// packetAAD mirrors pkg/netcode's own packet framing associated data: the
// wire format binds protocol id, version, and packet type into every
// sealed packet except ConnectionRequest.
func packetAAD(protocolID uint64, ptype byte) []byte {
	aad := make([]byte, 0, 8+netcode.VersionStringLen+1)
	aad = binary.LittleEndian.AppendUint64(aad, protocolID)
	aad = append(aad, netcode.VersionString[:]...)
	aad = append(aad, ptype)
	return aad
}

func encodeConnectionRequest(protocolID uint64, tokenExpire int64, sequence uint64, privateData *[netcode.ConnectTokenBytes]byte) []byte {
	buf := make([]byte, 0, 1+netcode.VersionStringLen+8+8+8+netcode.ConnectTokenBytes)
	buf = append(buf, byte(netcode.PacketConnectionRequest))
	buf = append(buf, netcode.VersionString[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, protocolID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tokenExpire))
	buf = binary.LittleEndian.AppendUint64(buf, sequence)
	buf = append(buf, privateData[:]...)
	return buf
}

// decodeSealed splits the common {prefix byte, sequence bytes, ciphertext}
// framing used by every packet type except ConnectionRequest.
func decodeSealed(data []byte) (ptype byte, seq uint64, ciphertext []byte, err error) {
	if len(data) < 1 {
		return 0, 0, nil, fmt.Errorf("nctest: empty packet")
	}
	prefix := data[0]
	ptype = prefix & 0x0F
	n := int(prefix >> 4)
	if n < 1 || n > 8 || len(data) < 1+n {
		return 0, 0, nil, fmt.Errorf("nctest: bad sequence byte count")
	}
	seq = getSeqBytes(data[1 : 1+n])
	return ptype, seq, data[1+n:], nil
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

func newAEAD(key [netcode.KeyBytes]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(aead cipher.AEAD, seq uint64, aad, plaintext []byte) []byte {
	nonce := make([]byte, aead.NonceSize())
	binary.LittleEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return aead.Seal(plaintext[:0], nonce, plaintext, aad)
}

func open(aead cipher.AEAD, seq uint64, aad, ciphertext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	binary.LittleEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return aead.Open(ciphertext[:0], nonce, ciphertext, aad)
}

func wrapTimeout(err error, action string) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, action, err)
	}
	return fmt.Errorf("nctest: %s: %w", action, err)
}
