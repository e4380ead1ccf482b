package netcode

import (
	"fmt"
	"net"
	"net/netip"
)

// TickResult is the outcome of a liveness tick (spec §4.3 "Liveness tick").
type TickResult int

const (
	TickNoop TickResult = iota
	TickExpired
	TickSentKeepAlive
)

// Channel is the per-connection secure duplex codec: send sequence, replay
// window, both directional keys, peer address, and last-activity
// timestamps (spec §4.3, §GLOSSARY "Channel").
type Channel struct {
	addr       netip.AddrPort
	sendToKey  [KeyBytes]byte // server_to_client_key: used to seal outbound packets
	recvFromKey [KeyBytes]byte // client_to_server_key: used to open inbound packets

	protocolID uint64
	slotIndex  int
	capacity   int

	sendSeq  uint64
	replay   *replayWindow
	highest  uint64

	lastSendTime float64
	lastRecvTime float64
}

// newChannel constructs a Channel for a freshly admitted slot.
func newChannel(serverToClientKey, clientToServerKey [KeyBytes]byte, addr netip.AddrPort, protocolID uint64, slotIndex, capacity int, now float64) *Channel {
	return &Channel{
		addr:        addr,
		sendToKey:   serverToClientKey,
		recvFromKey: clientToServerKey,
		protocolID:  protocolID,
		slotIndex:   slotIndex,
		capacity:    capacity,
		sendSeq:     initialSequence,
		replay:      newReplayWindow(),
		lastSendTime: now,
		lastRecvTime: now,
	}
}

// Addr returns the peer address this channel is bound to.
func (c *Channel) Addr() netip.AddrPort { return c.addr }

// sendRaw seals plaintext as ptype under the channel's send sequence and
// writes it to conn. The sequence is incremented on every call, including
// failed writes — matching the reference, which never retries a send
// sequence (spec "Monotone send sequence").
func (c *Channel) sendRaw(conn *net.UDPConn, now float64, ptype PacketType, plaintext []byte) (int, error) {
	buf, err := encodeSealed(c.protocolID, ptype, c.sendSeq, &c.sendToKey, plaintext)
	c.sendSeq++
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	n, err := conn.WriteToUDPAddrPort(buf, c.addr)
	if err != nil {
		return 0, err
	}
	c.lastSendTime = now
	return n, nil
}

func (c *Channel) sendKeepAlive(conn *net.UDPConn, now float64) error {
	_, err := c.sendRaw(conn, now, PacketKeepAlive, encodeKeepAlivePlaintext(int32(c.slotIndex), int32(c.capacity)))
	return err
}

func (c *Channel) sendPayload(conn *net.UDPConn, now float64, data []byte) (int, error) {
	return c.sendRaw(conn, now, PacketPayload, data)
}

func (c *Channel) sendDisconnect(conn *net.UDPConn, now float64) error {
	_, err := c.sendRaw(conn, now, PacketDisconnect, nil)
	return err
}

// recv opens an inbound datagram already known to belong to this channel's
// peer address. It implements the ordered acceptance rules of spec §4.3:
// sequence extraction, replay-window check, authenticated decrypt, then
// (only on success) window/liveness bookkeeping.
func (c *Channel) recv(now float64, data []byte) (*packet, error) {
	ptype, seq, err := peekSequence(data)
	if err != nil {
		return nil, err
	}

	// ConnectionRequest has no sequence-framed wrapper and isn't handled here.
	if ptype == PacketConnectionRequest {
		return nil, fmt.Errorf("%w: unexpected connection request on established channel", errDecode)
	}

	accept, ok := c.replay.check(seq)
	if !ok {
		return nil, errDuplicateSequence
	}

	p, err := decode(data, c.protocolID, &c.recvFromKey)
	if err != nil {
		return nil, err
	}

	accept()
	if seq > c.highest {
		c.highest = seq
	}
	c.lastRecvTime = now

	return p, nil
}

// tick implements the per-slot liveness check (spec §4.3 "Liveness tick").
// idle must be true only when the connection has completed the handshake;
// while PendingResponse, keep-alives are never sent, only timeout applies.
func (c *Channel) tick(conn *net.UDPConn, now float64, idle bool) (TickResult, error) {
	if now-c.lastRecvTime > RecvTimeout.Seconds() {
		return TickExpired, nil
	}
	if idle && now-c.lastSendTime > SendKeepAliveInterval.Seconds() {
		if err := c.sendKeepAlive(conn, now); err != nil {
			return TickNoop, err
		}
		return TickSentKeepAlive, nil
	}
	return TickNoop, nil
}

// peekSequence extracts the packet type and sequence number without
// attempting to authenticate the packet, so the replay window can be
// consulted before paying for a decrypt.
func peekSequence(data []byte) (PacketType, uint64, error) {
	if len(data) < 1 {
		return 0, 0, fmt.Errorf("%w: empty packet", errDecode)
	}
	prefix := data[0]
	ptype := PacketType(prefix & 0x0F)
	if ptype == PacketConnectionRequest {
		return ptype, 0, nil
	}
	n := int(prefix >> 4)
	if n < 1 || n > 8 || len(data) < 1+n {
		return 0, 0, fmt.Errorf("%w: bad sequence byte count", errDecode)
	}
	return ptype, getSeqBytes(data[1 : 1+n]), nil
}
