package netcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Server is a single-threaded, tick-driven connectionless UDP transport
// endpoint: one fixed-capacity slot table behind one listen socket. All
// exported methods are expected to be called from a single goroutine — there
// is no internal locking, matching the reference implementation's model of
// a server owned and driven by one thread.
type Server struct {
	conn       *net.UDPConn
	listenAddr netip.AddrPort
	protocolID uint64
	privateKey [KeyBytes]byte

	slots *slotTable

	challengeSeq uint64
	challengeKey [KeyBytes]byte

	now        float64
	tickCursor int
	ioScratch  [MaxPacketBytes]byte

	log zerolog.Logger
	m   *serverMetrics
}

// NewServer binds the listen socket and constructs a Server ready to Update
// (spec §6 "Construction").
func NewServer(cfg Config) (*Server, error) {
	if cfg.MaxClients <= 0 {
		return nil, fmt.Errorf("netcode: MaxClients must be positive")
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, ErrAddrInUse
		}
		if errors.Is(err, syscall.EADDRNOTAVAIL) {
			return nil, ErrAddrNotAvailable
		}
		return nil, err
	}

	var challengeKey [KeyBytes]byte
	if _, err := rand.Read(challengeKey[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netcode: failed to generate challenge key: %w", err)
	}

	s := &Server{
		conn:         conn,
		listenAddr:   conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		protocolID:   cfg.ProtocolID,
		privateKey:   cfg.PrivateKey,
		slots:        newSlotTable(cfg.MaxClients),
		challengeSeq: 0,
		challengeKey: challengeKey,
		log:          cfg.Logger,
		m:            newServerMetrics(cfg.Metrics),
	}
	return s, nil
}

// LocalAddr returns the bound listen address.
func (s *Server) LocalAddr() netip.AddrPort { return s.listenAddr }

// Metrics exposes the server's counter set for scraping.
func (s *Server) Metrics() *serverMetrics { return s.m }

// Close releases the listen socket and zeroes key material.
func (s *Server) Close() error {
	err := s.conn.Close()
	for i := range s.privateKey {
		s.privateKey[i] = 0
	}
	for i := range s.challengeKey {
		s.challengeKey[i] = 0
	}
	return err
}

// Update advances the server's virtual clock by dt seconds and rearms the
// per-slot liveness scan for the next run of NextEvent calls (spec §4.4
// "Tick loop"). It performs no I/O itself.
func (s *Server) Update(dt float64) {
	s.now += dt
	s.tickCursor = 0
}

// NextEvent drains one event from the server, or returns (nil, nil) once
// both the I/O phase (every pending datagram) and the tick phase (every
// slot's liveness check, resumed across calls since the last Update) are
// exhausted. out must be at least MaxPayloadBytes long; NextEvent never
// reads from the socket if it is not (spec §4.4, §7 UpdateError).
func (s *Server) NextEvent(out []byte) (*Event, error) {
	if len(out) < MaxPayloadBytes {
		return nil, ErrPacketBufferTooSmall
	}

	for {
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			return nil, err
		}
		n, addr, err := s.conn.ReadFromUDPAddrPort(s.ioScratch[:])
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return nil, err
		}
		ev, err := s.handleDatagram(netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), s.ioScratch[:n], out)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}

	for s.tickCursor < s.slots.capacity() {
		i := s.tickCursor
		s.tickCursor++
		ev, err := s.tickClient(i)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}

	return nil, nil
}

// handleDatagram demultiplexes by source address: a known peer is handed to
// its slot's per-state packet handler, otherwise the only packet type that
// means anything is a fresh ConnectionRequest attempting admission (spec
// §4.2).
func (s *Server) handleDatagram(addr netip.AddrPort, data []byte, out []byte) (*Event, error) {
	if idx := s.slots.findByAddr(addr); idx != -1 {
		return s.handleSlotPacket(idx, data, out)
	}

	p, err := decode(data, s.protocolID, nil)
	if err != nil || p.Type != PacketConnectionRequest {
		s.log.Trace().Str("addr", addr.String()).Msg("netcode: discarding datagram from unknown address")
		return nil, nil
	}
	return s.admitConnectionRequest(addr, p)
}

// admitConnectionRequest runs the admission checks of spec §4.2 steps 1-8.
// It is reached from two call sites: a brand-new peer address (via
// handleDatagram) and a repeated ConnectionRequest from a slot still in
// PendingResponse (via handleSlotPacket) — the latter is deliberately routed
// through the same code, so re-sent connection requests are idempotent
// rather than special-cased.
func (s *Server) admitConnectionRequest(addr netip.AddrPort, p *packet) (*Event, error) {
	reject := func(reason string) (*Event, error) {
		s.m.connects_total.rejected.Inc()
		s.log.Info().Str("addr", addr.String()).Str("reason", reason).Msg("netcode: rejected connection request")
		return &Event{Kind: EventRejectedClient, Addr: addr}, nil
	}

	if p.Version != VersionString {
		return reject("version mismatch")
	}
	if p.ProtocolID != s.protocolID {
		return reject("protocol id mismatch")
	}
	if time.Now().Unix() > p.TokenExpire {
		return reject("token expired")
	}

	priv, err := decodeConnectTokenPrivate(&p.PrivateData, s.protocolID, p.TokenExpire, p.Sequence, &s.privateKey)
	if err != nil {
		return reject("invalid token")
	}
	if !hostMatches(priv.Hosts, s.listenAddr) {
		return reject("host not bound to token")
	}

	idx := s.slots.findByID(priv.ClientID)
	if idx == -1 {
		idx = s.slots.allocate()
		if idx == -1 {
			s.m.connects_total.slot_full.Inc()
			s.sendDenied(addr, &priv.ServerToClientKey)
			return &Event{Kind: EventClientSlotFull, Addr: addr}, nil
		}
		ch := newChannel(priv.ServerToClientKey, priv.ClientToServerKey, addr, s.protocolID, idx, s.slots.capacity(), s.now)
		s.slots.set(idx, &Connection{ClientID: priv.ClientID, State: StatePendingResponse, Channel: ch})
		s.refreshSlotsUsed()
	}

	// A client_id that already holds a slot always gets a fresh challenge
	// over that slot's existing channel, regardless of its current state
	// (spec §4.2, matching handle_client_connect in the reference
	// implementation, which never special-cases this on connection state —
	// only allocation is skipped, never the challenge).
	conn := s.slots.get(idx)

	s.challengeSeq++
	sealed, err := sealChallengeToken(&challengeToken{ClientID: priv.ClientID, UserData: priv.UserData}, s.challengeSeq, &s.challengeKey)
	if err != nil {
		return nil, err
	}
	// The channel's own send sequence (used as the outer packet's AEAD
	// nonce) is independent of s.challengeSeq (the inner token's AEAD
	// nonce), so the token's sequence must ride along as plaintext for the
	// Response to be openable later (see packet.ChallengeSequence).
	if _, err := conn.Channel.sendRaw(s.conn, s.now, PacketChallenge, encodeChallengePlaintext(s.challengeSeq, sealed)); err != nil {
		return nil, err
	}
	s.m.packets_total.sent.Inc()
	return nil, nil
}

// handleSlotPacket processes a datagram already known to belong to slot idx.
func (s *Server) handleSlotPacket(idx int, data []byte, out []byte) (*Event, error) {
	conn := s.slots.get(idx)
	if conn == nil {
		return nil, nil
	}

	// A resent ConnectionRequest bypasses the channel's AEAD/replay path
	// entirely — it was never sealed under the channel's session keys — and
	// is only meaningful while the slot is still mid-handshake.
	if ptype, _, err := peekSequence(data); err == nil && ptype == PacketConnectionRequest {
		if conn.State != StatePendingResponse {
			return nil, nil
		}
		req, derr := decode(data, s.protocolID, nil)
		if derr != nil {
			return nil, nil
		}
		return s.admitConnectionRequest(conn.Channel.Addr(), req)
	}

	p, err := conn.Channel.recv(s.now, data)
	if err != nil {
		if errors.Is(err, errDuplicateSequence) {
			s.m.replays_rejected_total.Inc()
			return &Event{Kind: EventReplayRejected, ClientID: conn.ClientID, Addr: conn.Channel.Addr()}, nil
		}
		clientID, clientAddr := conn.ClientID, conn.Channel.Addr()
		s.slots.release(idx)
		s.refreshSlotsUsed()
		s.m.disconnects_total.Inc()
		s.log.Warn().Uint64("client_id", clientID).Err(err).Msg("netcode: dropping connection after malformed packet")
		return &Event{Kind: EventClientDisconnect, ClientID: clientID, Addr: clientAddr}, nil
	}

	switch conn.State {
	case StatePendingResponse:
		return s.handleResponse(idx, conn, p, out)
	case StateIdle:
		return s.handleIdlePacket(idx, conn, p, out)
	default:
		return nil, nil
	}
}

func (s *Server) handleResponse(idx int, conn *Connection, p *packet, out []byte) (*Event, error) {
	if p.Type != PacketResponse {
		return nil, nil
	}
	tok, err := decodeChallengeToken(&p.ResponseData, p.ResponseSequence, &s.challengeKey)
	if err != nil {
		return nil, fmt.Errorf("netcode: challenge response failed to authenticate: %w", err)
	}
	conn.State = StateIdle
	if err := conn.Channel.sendKeepAlive(s.conn, s.now); err != nil {
		return nil, err
	}
	s.m.packets_total.sent.Inc()
	s.m.connects_total.success.Inc()

	n := copy(out, tok.UserData[:])
	return &Event{Kind: EventClientConnect, ClientID: conn.ClientID, Addr: conn.Channel.Addr(), Len: n}, nil
}

func (s *Server) handleIdlePacket(idx int, conn *Connection, p *packet, out []byte) (*Event, error) {
	switch p.Type {
	case PacketPayload:
		n := copy(out, p.Payload)
		s.m.packets_total.recv.Inc()
		return &Event{Kind: EventPacket, ClientID: conn.ClientID, Addr: conn.Channel.Addr(), Len: n}, nil
	case PacketKeepAlive:
		s.m.keepalives_total.Inc()
		return &Event{Kind: EventKeepAlive, ClientID: conn.ClientID, Addr: conn.Channel.Addr()}, nil
	case PacketDisconnect:
		clientID, clientAddr := conn.ClientID, conn.Channel.Addr()
		s.slots.release(idx)
		s.refreshSlotsUsed()
		s.m.disconnects_total.Inc()
		return &Event{Kind: EventClientDisconnect, ClientID: clientID, Addr: clientAddr}, nil
	default:
		return nil, nil
	}
}

// tickClient runs the liveness check for slot i (spec §4.3 "Liveness tick").
func (s *Server) tickClient(i int) (*Event, error) {
	conn := s.slots.get(i)
	if conn == nil {
		return nil, nil
	}

	result, err := conn.Channel.tick(s.conn, s.now, conn.State == StateIdle)
	if err != nil {
		return nil, err
	}
	switch result {
	case TickExpired:
		clientID, clientAddr := conn.ClientID, conn.Channel.Addr()
		s.slots.release(i)
		s.refreshSlotsUsed()
		s.m.disconnects_total.Inc()
		s.log.Info().Uint64("client_id", clientID).Msg("netcode: client timed out")
		return &Event{Kind: EventClientDisconnect, ClientID: clientID, Addr: clientAddr}, nil
	case TickSentKeepAlive:
		s.m.packets_total.sent.Inc()
		return nil, nil
	default:
		return nil, nil
	}
}

func (s *Server) sendDenied(addr netip.AddrPort, key *[KeyBytes]byte) {
	buf, err := encodeSealed(s.protocolID, PacketConnectionDenied, 0, key, nil)
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDPAddrPort(buf, addr); err != nil {
		s.log.Warn().Err(err).Msg("netcode: failed to send connection denied packet")
		return
	}
	s.m.packets_total.sent.Inc()
}

func (s *Server) refreshSlotsUsed() {
	n := 0
	for i := 0; i < s.slots.capacity(); i++ {
		if s.slots.get(i) != nil {
			n++
		}
	}
	s.m.slots_used.Set(float64(n))
}

// sendOptions configures Send (spec §4.4's open question on whether sending
// to a not-yet-Idle client is an error: by default it is not, since the
// reference allows the embedder to race a payload against the handshake's
// last leg; RequireIdle opts into strict gating for callers that want it).
type sendOptions struct {
	requireIdle bool
}

// SendOption configures a single call to Server.Send.
type SendOption func(*sendOptions)

// RequireIdle makes Send fail with ErrNotIdle for a client that has not yet
// completed the handshake. Without it, Send seals and writes the payload to
// such a client immediately, like to any other.
func RequireIdle() SendOption {
	return func(o *sendOptions) { o.requireIdle = true }
}

// Send encrypts and writes payload to clientID's channel (spec §4.4 "Send").
func (s *Server) Send(clientID uint64, payload []byte, opts ...SendOption) (int, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadBytes {
		return 0, ErrPacketSize
	}
	idx := s.slots.findByID(clientID)
	if idx == -1 {
		return 0, ErrInvalidClientID
	}
	conn := s.slots.get(idx)

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.requireIdle && conn.State != StateIdle {
		return 0, ErrNotIdle
	}

	n, err := conn.Channel.sendPayload(s.conn, s.now, payload)
	if err != nil {
		return 0, err
	}
	s.m.packets_total.sent.Inc()
	return n, nil
}
