package rdp

import (
	"log/slog"
	"time"
)

// State is one of the six states of a connection record (§4.6).
// Grounded on tcp.State (tcp/control.go's ControlBlock._state) generalized
// from TCP's eleven states to RDP's six — no FIN-wait/closing/last-ack/
// time-wait split since RDP's teardown is a single RST plus a TIMEWAIT
// linger, not TCP's four-way handshake.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateOpen
	StateCloseWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateOpen:
		return "OPEN"
	case StateCloseWait:
		return "CLOSE_WAIT"
	default:
		return "UNKNOWN"
	}
}

// Conn represents one reliable channel to one remote endpoint (§3
// "Connection record"); StateListen is only the transient state of an
// accept candidate between the inbound SYN and the accept callback's
// verdict. Grounded on tcp.ControlBlock's state+sequence-space
// composition generalized to RDP's SYN/SYN-ACK/ACK/NUL vocabulary, plus
// tcp/listener.go's Listener for the connection-admission half.
type Conn struct {
	handle  *Handle
	id      uint32
	traceID string

	localPort   uint16
	foreignPort uint16
	remote      Addr

	passive bool
	state   State

	snd sendSide
	rcv recvSide
	rtt rttEstimator

	// window is the peer's currently advertised receive capacity in
	// segments (§3 "Remote window echo").
	window      uint16
	remoteMskSz int

	// lifecycle serves as the connect-retry timer in SYN_SENT/SYN_RCVD and
	// is repurposed as the TIMEWAIT timer once in CLOSE_WAIT (§3 "Timers").
	lifecycle  timer
	keepalive  timer
	delayedAck timer
	persist    timer

	ackPending       int
	lastSeen         time.Time
	keepaliveRetries int
	persistRetries   int
	connectRetries   int
	persistDelta     time.Duration

	// synPayload holds this side's handshake payload for SYN retransmit
	// (§3 "Handshake payload holder"); peerSynData is the payload the
	// remote's handshake carried, surfaced by the connect callback.
	synPayload  []byte
	peerSynData []byte

	userCtx any

	next, prev *Conn

	logger
}

// ID returns the connection's randomly generated 32-bit identifier.
func (c *Conn) ID() uint32 { return c.id }

// State returns the connection's current FSM state.
func (c *Conn) State() State { return c.state }

// Passive reports whether this connection was accepted (true) or
// actively opened (false).
func (c *Conn) Passive() bool { return c.passive }

// LocalPort and ForeignPort return the connection's 16-bit port pair.
func (c *Conn) LocalPort() uint16   { return c.localPort }
func (c *Conn) ForeignPort() uint16 { return c.foreignPort }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() Addr { return c.remote }

// Window returns the peer's last-advertised receive window in segments.
func (c *Conn) Window() uint16 { return c.window }

// UserContext returns the opaque per-connection context pointer the
// application attached.
func (c *Conn) UserContext() any { return c.userCtx }

// SetUserContext attaches an opaque per-connection context pointer.
func (c *Conn) SetUserContext(v any) { c.userCtx = v }

// TraceID returns the process-visible correlation id minted for this
// connection's lifetime (distinct from the wire-level 32-bit ID).
func (c *Conn) TraceID() string { return c.traceID }

// SetHandshakePayload sets the opaque application payload this side's
// handshake segment carries. Intended to be called from the Accept
// callback so the SYN|ACK reply carries the application's reply data
// (§6 "accept": the handshake reply carries the SYN_RCVD side's payload).
func (c *Conn) SetHandshakePayload(b []byte) error {
	if len(b) > c.handle.cfg.MaxSynDataLen {
		return ErrInvalidData
	}
	c.synPayload = append([]byte(nil), b...)
	return nil
}

// fixedHeader builds the fixed header every outgoing segment carries,
// piggybacking the current ACK fields per §4.6 "Piggyback".
func (c *Conn) fixedHeader(flags Flags, seq, som Value, fcnt, dlen uint16, ttl time.Duration) FixedHeader {
	if c.handle.cfg.SendDisconnectReason && c.state == StateCloseWait {
		flags |= flagDisconnectReason
	}
	return FixedHeader{
		Flags:  flags,
		Src:    c.localPort,
		Dst:    c.foreignPort,
		Dlen:   dlen,
		Seq:    seq,
		Ack:    c.rcv.CUR,
		TTL:    uint32(ttl / time.Millisecond),
		LCS:    c.rcv.LCS,
		AckNxt: c.snd.UNA,
		SOM:    som,
		FCnt:   fcnt,
	}
}

// sendRaw encodes and transmits one segment, optionally appending an
// EACK mask — used for control segments (ACK/NUL) that have no
// retransmit slot of their own. A would-block result marks the handle
// write-blocked; any other send error disconnects with socket-error.
func (c *Conn) sendRaw(h *FixedHeader, payload []byte, mask *EackMask) {
	hlen := fixedHeaderSize
	if mask != nil {
		h.Flags |= FlagEACK
		hlen += mask.Size() * 4
	}
	h.HLen = uint8(hlen / 2)
	buf := c.handle.scratch(hlen + len(payload))
	EncodeFixed(buf, h)
	off := fixedHeaderSize
	if mask != nil {
		copy(buf[off:], mask.Bytes())
		off += mask.Size() * 4
	}
	copy(buf[off:], payload)
	wire := buf[:off+len(payload)]
	if c.handle.hooks.OnSegmentOut != nil {
		c.handle.hooks.OnSegmentOut(c.handle, c, *h)
	}
	_, err := c.handle.socket.SendTo(wire, c.remote)
	if err == ErrWouldBlock {
		c.handle.writeBlocked = true
	} else if err != nil {
		c.fail(DisconnectSocketError, time.Now())
	}
}

// sendBareAck sends an immediate bare ACK carrying CUR/LCS and, if any
// out-of-order segments are held, the EACK mask (§4.6 "Acknowledgment
// strategy").
func (c *Conn) sendBareAck(now time.Time) {
	var mask *EackMask
	if c.hasOutOfOrder() {
		mask = &c.rcv.eack
	}
	h := c.fixedHeader(FlagACK, c.snd.NXT, 0, 0, 0, 0)
	c.sendRaw(&h, nil, mask)
	c.cancelDelayedAck()
}

func (c *Conn) hasOutOfOrder() bool {
	for i := 0; i < c.rcv.eack.Size()*32; i++ {
		if c.rcv.eack.Test(i) {
			return true
		}
	}
	return false
}

// sendNUL sends a zero-payload NUL segment, used for keepalive probes
// and persist probing (§4.6 "Keepalive and persist").
func (c *Conn) sendNUL(now time.Time) {
	h := c.fixedHeader(FlagNUL|FlagACK, c.snd.NXT, 0, 0, 0, 0)
	c.sendRaw(&h, nil, nil)
}

// sendRST sends a reset segment with the given sequence, ack fields.
func (c *Conn) sendRST(seq, ack Value, withAck bool) {
	flags := FlagRST
	if withAck {
		flags |= FlagACK
	}
	if c.handle.cfg.SendDisconnectReason && c.state == StateCloseWait {
		flags |= flagDisconnectReason
	}
	h := FixedHeader{Flags: flags, Src: c.localPort, Dst: c.foreignPort, Seq: seq, Ack: ack, HLen: fixedHeaderSize / 2}
	buf := c.handle.scratch(fixedHeaderSize)
	EncodeFixed(buf, &h)
	c.handle.socket.SendTo(buf, c.remote)
}

func (c *Conn) cancelDelayedAck() { c.delayedAck.cancel(); c.ackPending = 0 }
func (c *Conn) cancelPersist()    { c.persist.cancel() }

// admit is the single entry point the dispatch loop calls for every
// inbound segment routed to this connection, implementing the per-state
// processing of §4.6.
func (c *Conn) admit(h *FixedHeader, payload []byte, mask *EackMask, syn *SynHeader, now time.Time) {
	if c.handle.hooks.OnSegmentIn != nil {
		c.handle.hooks.OnSegmentIn(c.handle, c, *h)
	}
	if c.logenabled(levelTrace) {
		c.trace("rdp:rcv",
			slog.String("state", c.state.String()),
			slog.String("flags", h.Flags.String()),
			slog.Uint64("seq", uint64(h.Seq)),
			slog.Uint64("ack", uint64(h.Ack)),
			slog.Int("dlen", int(h.Dlen)))
	}
	c.lastSeen = now
	c.keepaliveRetries = c.handle.cfg.KeepaliveRetries

	switch c.state {
	case StateClosed:
		c.admitClosed(h, now)
	case StateListen:
		// A candidate mid-accept; nothing is admitted until it reaches
		// SYN_RCVD.
	case StateSynSent:
		c.admitSynSent(h, payload, syn, now)
	case StateSynRcvd:
		c.admitSynRcvd(h, payload, mask, now)
	case StateOpen:
		c.admitOpen(h, payload, mask, now)
	case StateCloseWait:
		// Ignore all segments except the TIMEWAIT timer (§4.6).
	}
}

func (c *Conn) admitClosed(h *FixedHeader, now time.Time) {
	if h.Flags.HasAny(FlagRST) {
		return
	}
	if h.Flags.HasAny(FlagACK) || h.Flags.HasAny(FlagNUL) {
		c.sendRST(h.Ack.Add(1), 0, false)
		return
	}
	c.sendRST(0, h.Seq, true)
}

func (c *Conn) admitSynSent(h *FixedHeader, payload []byte, syn *SynHeader, now time.Time) {
	if h.Flags.HasAny(FlagRST) {
		c.connectFail(ErrRemoteReset, now)
		return
	}
	if !h.Flags.HasAny(FlagSYN) || syn == nil {
		return
	}
	if h.Flags.HasAny(FlagACK) {
		if h.Ack != c.snd.ISS {
			c.sendRST(h.Ack.Add(1), 0, false)
			return
		}
		c.lifecycle.cancel()
		// The initial SYN went out with destination port zero; the peer's
		// connection port is learned here from its SYN|ACK.
		c.foreignPort = h.Src
		c.rcv.resetRecv(h.Seq, c.handle.cfg.SegMax, c.handle.cfg.SegBMax)
		c.snd.resetSend(c.snd.ISS, syn.SegMax, syn.SegBMax, time.Duration(syn.DACKT)*time.Millisecond, c.handle.cfg.MaxMessageSize)
		c.snd.UNA = h.Ack.Add(1)
		c.snd.NXT = c.snd.UNA
		c.state = StateOpen
		c.window = syn.SegMax
		c.remoteMskSz = (int(c.handle.cfg.SegMax) + 31) / 32
		c.startOpenTimers(now)
		c.sendBareAck(now)
		if c.handle.cb.Connect != nil {
			c.handle.cb.Connect(c.handle, c, false, payload, nil)
		}
		return
	}
	// Simultaneous open: peer's bare SYN, no ACK. Adopt its capacities
	// and answer with our own SYN|ACK; the connect callback fires once
	// the peer acks it in SYN_RCVD.
	c.lifecycle.cancel()
	c.foreignPort = h.Src
	c.rcv.resetRecv(h.Seq, c.handle.cfg.SegMax, c.handle.cfg.SegBMax)
	c.snd.resetSend(c.snd.ISS, syn.SegMax, syn.SegBMax, time.Duration(syn.DACKT)*time.Millisecond, c.handle.cfg.MaxMessageSize)
	c.window = syn.SegMax
	c.remoteMskSz = (int(c.handle.cfg.SegMax) + 31) / 32
	c.peerSynData = append([]byte(nil), payload...)
	c.state = StateSynRcvd
	if c.handle.cb.Accept != nil {
		c.handle.cb.Accept(c.handle, c.remote, c, payload, nil)
	}
	c.sendSyn(now)
	c.lifecycle.arm(now, c.handle.cfg.ConnectTimeout, unboundedRetries)
}

func (c *Conn) admitSynRcvd(h *FixedHeader, payload []byte, mask *EackMask, now time.Time) {
	if h.Flags.HasAny(FlagRST) {
		c.disconnect(DisconnectRemoteReset, now)
		return
	}
	if h.Flags.HasAll(FlagSYN | FlagACK) {
		c.disconnect(DisconnectInvalidResponse, now)
		return
	}
	if h.Flags.HasAny(FlagSYN) {
		// Duplicate of the SYN that created us: the peer did not see our
		// SYN|ACK yet. Resend it rather than tearing down ("rely on retry").
		c.sendSyn(now)
		return
	}
	if h.Flags.HasAny(FlagEACK) {
		c.disconnect(DisconnectInvalidResponse, now)
		return
	}
	if !h.Seq.GreaterThan(c.rcv.CUR) || h.Seq.GreaterThan(c.rcv.CUR.Add(Size(len(c.rcv.slots)))) {
		c.sendBareAck(now)
		return
	}
	if h.Ack != c.snd.ISS {
		c.disconnect(DisconnectInvalidResponse, now)
		return
	}
	c.lifecycle.cancel()
	c.state = StateOpen
	c.snd.UNA = h.Ack.Add(1)
	c.snd.NXT = c.snd.UNA
	c.window = c.snd.SegMax
	c.startOpenTimers(now)
	if c.handle.cb.Connect != nil {
		c.handle.cb.Connect(c.handle, c, true, c.peerSynData, nil)
	}
	if h.Dlen > 0 && c.state == StateOpen {
		// The peer piggybacked its first data on the handshake-completing
		// ACK; run it through the OPEN path now that init is done.
		c.admitOpen(h, payload, mask, now)
	}
}

// validateSegment performs the §4.1 "Decoder obligations" structural
// rejects that require connection state (the stateless checks live in
// DecodeFixed/DecodeSyn). A non-nil return means: respond RST and drop
// without further processing.
func (c *Conn) validateSegment(h *FixedHeader, payload []byte) error {
	if int(h.Dlen) != len(payload) {
		return newDecodeError("dlen mismatch")
	}
	if h.Ack.GreaterThan(c.snd.NXT) {
		return newDecodeError("ack > snd.nxt")
	}
	if h.Ack.LessThan(c.snd.LCS) {
		return newDecodeError("ack < snd.lcs")
	}
	if h.Dlen > 0 && h.FCnt == 0 {
		return newDecodeError("fcnt == 0 with dlen > 0")
	}
	if int(h.FCnt) > len(c.rcv.slots) {
		return newDecodeError("fcnt > segmax")
	}
	if h.Dlen > 0 && !(h.Seq.Sub(h.SOM) < int32(h.FCnt)) {
		return newDecodeError("seq-som >= fcnt")
	}
	if h.Seq.LessThan(h.AckNxt) {
		return newDecodeError("seq < acknxt")
	}
	if int(h.Seq.Sub(h.AckNxt)) > len(c.rcv.slots) {
		return newDecodeError("seq-acknxt > rcv.segmax")
	}
	return nil
}

func (c *Conn) admitOpen(h *FixedHeader, payload []byte, mask *EackMask, now time.Time) {
	if h.Flags.HasAny(FlagRST) {
		c.disconnect(DisconnectRemoteReset, now)
		return
	}
	if h.Flags.HasAny(FlagSYN) {
		// A retransmission of the peer's half of a simultaneous open is
		// answered with a bare ACK; any other SYN here is fatal. SYN
		// headers carry none of the fields validateSegment inspects.
		if h.Ack == c.snd.ISS {
			c.sendBareAck(now)
			return
		}
		c.disconnect(DisconnectInvalidResponse, now)
		return
	}
	if err := c.validateSegment(h, payload); err != nil {
		c.sendRST(h.Ack.Add(1), 0, false)
		return
	}
	payloadBearing := h.Dlen > 0
	inWindow := !payloadBearing || c.rcv.accepts(h.Seq)
	dup := payloadBearing && !inWindow && c.rcv.isDuplicate(h.Seq)
	if payloadBearing && !inWindow && !dup {
		c.disconnect(DisconnectInvalidResponse, now)
		return
	}

	if c.rcv.CUR.Add(1).LessThan(h.AckNxt) {
		c.flushExpiredRcv(h.AckNxt, now)
	}

	if h.Flags.HasAny(FlagACK) {
		c.onAck(h.Ack, h.LCS, now)
		if h.Flags.HasAny(FlagEACK) && mask != nil {
			c.onEack(h.Ack, mask, now)
		}
		c.onWindowChange(h, now)
		// An ack may have cancelled the last pending retransmit without
		// moving the window; re-evaluate the persist condition either way.
		c.armPersistIfNeeded(now)
	}

	switch {
	case h.Flags.HasAny(FlagNUL):
		c.sendBareAck(now)
	case payloadBearing && !dup:
		c.storeRecv(h, payload, now)
		c.ackPending++
	case payloadBearing && dup:
		c.sendBareAck(now)
	}

	if !c.delayedAck.active() && c.ackPending > 0 {
		c.delayedAck.arm(now, c.handle.cfg.DelayedAckTimeout, 1)
	}
	if c.ackPending >= int(c.handle.cfg.SegMax)/4 && c.handle.cfg.SegMax >= 4 {
		c.sendBareAck(now)
	}
}

// onWindowChange implements the window-change half of §4.6 OPEN
// processing. The wire format carries no explicit window field; the
// peer's currently usable capacity is derived from its advertised LCS
// (already folded into c.snd.LCS by onAck) against SegMax and NXT, the
// same derivation the ARDP original uses instead of a redundant wire
// field.
func (c *Conn) onWindowChange(h *FixedHeader, now time.Time) {
	occupied := int(Sizeof(c.snd.LCS, c.snd.NXT)) - 1
	if occupied < 0 {
		occupied = 0
	}
	newWindow := int(c.snd.SegMax) - occupied
	if newWindow < 0 {
		newWindow = 0
	}
	if newWindow > int(c.snd.SegMax) {
		newWindow = int(c.snd.SegMax)
	}
	if uint16(newWindow) == c.window {
		return
	}
	c.window = uint16(newWindow)
	c.armPersistIfNeeded(now)
	if c.handle.cb.SendWindowChanged != nil {
		c.handle.cb.SendWindowChanged(c.handle, c, c.window, nil)
	}
}

// startOpenTimers arms the keepalive probe and delayed-ack bookkeeping
// on entry to OPEN (§4.6 OPEN, §4.6 "Keepalive and persist").
func (c *Conn) startOpenTimers(now time.Time) {
	if c.logenabled(slog.LevelDebug) {
		c.debug("rdp:open", slog.Bool("passive", c.passive), slog.String("trace", c.traceID))
	}
	c.keepaliveRetries = c.handle.cfg.KeepaliveRetries
	c.lastSeen = now
	interval := c.handle.cfg.LinkTimeout / time.Duration(maxInt(c.handle.cfg.KeepaliveRetries, 1))
	c.keepalive.arm(now, interval, unboundedRetries)
}

// fireKeepalive is invoked by the dispatch loop when the keepalive probe
// timer fires (§4.6 "Keepalive and persist").
func (c *Conn) fireKeepalive(now time.Time) {
	interval := c.handle.cfg.LinkTimeout / time.Duration(maxInt(c.handle.cfg.KeepaliveRetries, 1))
	if now.Sub(c.lastSeen) < interval {
		c.rearmKeepalive(now)
		return
	}
	if c.keepaliveRetries <= 0 {
		c.disconnect(DisconnectProbeTimeout, now)
		return
	}
	c.keepaliveRetries--
	c.sendNUL(now)
	c.rearmKeepalive(now)
}

func (c *Conn) rearmKeepalive(now time.Time) {
	interval := c.handle.cfg.LinkTimeout / time.Duration(maxInt(c.handle.cfg.KeepaliveRetries, 1))
	c.keepalive.arm(now, interval, unboundedRetries)
}

// firePersist is invoked when the persist (zero-window) timer fires
// (§4.6 "Keepalive and persist").
func (c *Conn) firePersist(now time.Time) {
	c.persistRetries++
	delta := c.persistDelta * 2
	if delta == 0 {
		delta = c.handle.cfg.PersistInterval
	}
	if delta > c.handle.cfg.TotalAppTimeout {
		c.disconnect(DisconnectPersistTimeout, now)
		return
	}
	c.persistDelta = delta
	c.sendNUL(now)
	c.persist.arm(now, delta, unboundedRetries)
}

// armPersistIfNeeded arms the persist timer when the peer's window is
// below minSendWindow and no retransmit is currently scheduled (§3
// invariant 6, §4.6).
func (c *Conn) armPersistIfNeeded(now time.Time) {
	if int(c.window) >= c.snd.minSendWindow {
		c.persist.cancel()
		c.persistDelta = 0
		c.persistRetries = 0
		return
	}
	if c.anyRetransmitPending() {
		return
	}
	if !c.persist.active() {
		c.persistDelta = c.handle.cfg.PersistInterval
		c.persist.arm(now, c.persistDelta, unboundedRetries)
	}
}

func (c *Conn) anyRetransmitPending() bool {
	for i := range c.snd.slots {
		if c.snd.slots[i].inUse && c.snd.slots[i].rtx.active() {
			return true
		}
	}
	return false
}

// fireDelayedAck is invoked when the delayed-ack timer fires (§4.6
// "Acknowledgment strategy: Delayed").
func (c *Conn) fireDelayedAck(now time.Time) {
	c.delayedAck.cancel()
	c.sendBareAck(now)
}

// Send submits an application message for reliable delivery (§4.3). ttl
// of zero means "never expires".
func (c *Conn) Send(payload []byte, ttl time.Duration) error {
	if c.state != StateOpen {
		return ErrInvalidState
	}
	return c.send(payload, ttl, time.Now())
}

// RecvReady releases a delivered message identified by its first
// fragment's sequence number (§4.4 "Release").
func (c *Conn) RecvReady(seq Value) error {
	return c.recvReady(seq, time.Now())
}

// Disconnect initiates a local teardown of the connection (§5
// "Cancellation").
func (c *Conn) Disconnect() error {
	if c.state == StateClosed || c.state == StateCloseWait {
		return ErrInvalidState
	}
	c.disconnect(DisconnectLocal, time.Now())
	return nil
}

// disconnect flushes unsent slots with a disconnecting status, sends
// RST, transitions to CLOSE_WAIT and schedules TIMEWAIT (§5
// "Cancellation", §4.6 "Failure model").
func (c *Conn) disconnect(reason DisconnectStatus, now time.Time) {
	if c.state == StateCloseWait || c.state == StateClosed {
		return
	}
	c.flushPendingSends(SendDisconnecting)
	wasOpenOrHandshaking := c.state != StateListen
	c.state = StateCloseWait
	c.keepalive.cancel()
	c.persist.cancel()
	c.delayedAck.cancel()
	for i := range c.snd.slots {
		c.snd.slots[i].rtx.cancel()
	}
	if wasOpenOrHandshaking {
		c.sendRST(c.snd.NXT, c.rcv.CUR, true)
	}
	c.lifecycle.arm(now, c.handle.cfg.TimeWait, unboundedRetries)
	if c.logenabled(slog.LevelInfo) {
		c.info("rdp:disconnect", slog.String("reason", reason.String()), slog.String("trace", c.traceID))
	}
	if c.handle.cb.Disconnect != nil {
		c.handle.cb.Disconnect(c.handle, c, reason)
	}
}

// fail is the socket-error path: same as disconnect but named for the
// §4.6 "Failure model" socket-error case.
func (c *Conn) fail(reason DisconnectStatus, now time.Time) { c.disconnect(reason, now) }

// connectFail aborts a connection attempt still in SYN_SENT/SYN_RCVD
// before any application callback has promoted it, firing Connect with
// a non-nil status instead of Disconnect.
func (c *Conn) connectFail(status error, now time.Time) {
	c.lifecycle.cancel()
	c.state = StateClosed
	if c.handle.cb.Connect != nil {
		c.handle.cb.Connect(c.handle, c, c.passive, nil, status)
	}
	c.handle.removeConn(c)
}

// fireConnectTimer handles a connect-retry expiry in SYN_SENT (§4.6
// SYN_SENT "Timeout").
func (c *Conn) fireConnectTimer(now time.Time) {
	if c.state == StateCloseWait {
		c.fireTimewait(now)
		return
	}
	if c.state != StateSynSent && c.state != StateSynRcvd {
		c.lifecycle.cancel()
		return
	}
	c.connectRetries++
	if c.connectRetries > c.handle.cfg.ConnectRetries {
		c.sendRST(c.snd.ISS, 0, false)
		c.connectFail(ErrTimeout, now)
		return
	}
	c.sendSyn(now)
	c.lifecycle.arm(now, c.handle.cfg.ConnectTimeout, unboundedRetries)
}

// fireTimewait handles the TIMEWAIT timer expiry in CLOSE_WAIT (§4.6
// CLOSE_WAIT).
func (c *Conn) fireTimewait(now time.Time) {
	if c.hasUndeliveredReceiveBuffers() {
		c.lifecycle.arm(now, c.handle.cfg.TimeWait, unboundedRetries)
		return
	}
	c.handle.removeConn(c)
}

func (c *Conn) hasUndeliveredReceiveBuffers() bool {
	for i := range c.rcv.slots {
		if c.rcv.slots[i].inUse && c.rcv.slots[i].delivered {
			return true
		}
	}
	return false
}

// flushPendingSends cancels every in-flight send slot's retransmit timer
// and fires send-complete for the first fragment of each message with
// the given status (§4.6 "Failure model", §5 "Cancellation").
func (c *Conn) flushPendingSends(status SendStatus) {
	seen := make(map[Value]bool)
	for i := range c.snd.slots {
		sl := &c.snd.slots[i]
		if !sl.inUse {
			continue
		}
		sl.rtx.cancel()
		if sl.origBuf != nil && !sl.ttlExpired && !seen[sl.som] {
			seen[sl.som] = true
			if c.handle.cb.SendComplete != nil {
				c.handle.cb.SendComplete(c.handle, c, sl.origBuf, len(sl.origBuf), status)
			}
		}
		sl.inUse = false
	}
	c.snd.pending = 0
}

// sendSyn (re)transmits the SYN or SYN|ACK handshake segment, per the
// active/passive handshake of §4.6/§6. In SYN_SENT the destination port
// is still zero — the peer's connection port is only learned from its
// SYN|ACK.
func (c *Conn) sendSyn(now time.Time) {
	// Once in SYN_RCVD (passive accept or the receiving half of a
	// simultaneous open) the handshake segment is a SYN|ACK acking the
	// peer's initial sequence.
	withAck := c.state == StateSynRcvd
	flags := FlagSYN
	if withAck {
		flags |= FlagACK
	}
	h := SynHeader{
		Flags:   flags,
		HLen:    synHeaderSize / 2,
		Src:     c.localPort,
		Dst:     c.foreignPort,
		Dlen:    uint16(len(c.synPayload)),
		Seq:     c.snd.ISS,
		SegMax:  c.handle.cfg.SegMax,
		SegBMax: c.handle.cfg.SegBMax,
		DACKT:   uint32(c.handle.cfg.DelayedAckTimeout / time.Millisecond),
	}
	if withAck {
		h.Ack = c.rcv.IRS
	}
	buf := c.handle.scratch(synHeaderSize + len(c.synPayload))
	EncodeSyn(buf, &h)
	copy(buf[synHeaderSize:], c.synPayload)
	c.handle.socket.SendTo(buf[:synHeaderSize+len(c.synPayload)], c.remote)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
