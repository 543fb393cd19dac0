package rdp

import "time"

// sendSlot is one entry in a connection's send ring, indexed by
// seq mod len(slots). Grounded on the teacher's ringidx
// (tcp/txqueue.go) generalized from a byte-stream offset pair to a
// discrete segment carrying its own payload, TTL and retransmit timer —
// RDP fragments messages into whole segments rather than an arbitrary
// byte stream, so each slot is self-contained instead of pointing into a
// shared ring buffer.
type sendSlot struct {
	inUse      bool
	ttlExpired bool

	seq  Value
	som  Value
	fcnt uint16

	// data is this fragment's view into the originating application
	// buffer. origBuf is only populated on the first fragment's
	// slot (som's slot) and are what the send-complete callback reports,
	// per the "Buffer lifetime" design note.
	data    []byte
	origBuf []byte

	ttl    time.Duration // remaining TTL, 0 meaning "never expires"
	tStart time.Time

	retransmits    int
	fastRetransmit int

	rtx timer
}

// sendSide is the send-half of a connection's sequence space (§3 "Send
// side").
type sendSide struct {
	ISS Value
	NXT Value
	UNA Value
	LCS Value

	SegMax  uint16
	SegBMax uint16
	DACKT   time.Duration

	slots []sendSlot
	// pending is the count of in-use slots.
	pending int

	maxDlen       int
	minSendWindow int
}

func (s *sendSide) index(seq Value) int {
	return int(uint32(seq) % uint32(len(s.slots)))
}

func (s *sendSide) slot(seq Value) *sendSlot {
	return &s.slots[s.index(seq)]
}

// resetSend initializes the send ring for a fresh connection (§3
// lifecycle), sizing the ring to peer.SegMax and deriving maxDlen and
// minSendWindow from the peer's advertised capacities.
func (s *sendSide) resetSend(iss Value, peerSegMax, peerSegBMax uint16, dackt time.Duration, maxMessageSize int) {
	s.ISS = iss
	s.NXT = iss
	s.UNA = iss
	s.LCS = iss - 1
	s.SegMax = peerSegMax
	s.SegBMax = peerSegBMax
	s.DACKT = dackt
	s.slots = make([]sendSlot, peerSegMax)
	s.pending = 0
	s.maxDlen = int(peerSegBMax) - fixedHeaderSize
	if s.maxDlen < 1 {
		s.maxDlen = 1
	}
	s.minSendWindow = ceilDiv(maxMessageSize, s.maxDlen)
	if s.minSendWindow < 1 {
		s.minSendWindow = 1
	}
}

// fragmentCount returns ceil(length/maxDlen), the number of segments a
// message of length bytes fragments into (§4.3 step 1).
func (s *sendSide) fragmentCount(length int) int {
	return ceilDiv(length, s.maxDlen)
}

// send begins transmission of payload with the given TTL on conn,
// implementing §4.3 steps 1-7. It returns ErrBackpressure, ErrTTLExpired
// or ErrInvalidData without mutating connection state, or nil once the
// message's slots have been filled and the first send attempted.
func (c *Conn) send(payload []byte, ttl time.Duration, now time.Time) error {
	if len(payload) == 0 {
		return ErrInvalidData
	}
	snd := &c.snd
	fcnt := snd.fragmentCount(len(payload))
	if fcnt > int(c.window) {
		return ErrBackpressure
	}
	if fcnt > len(snd.slots)-snd.pending {
		return ErrBackpressure
	}

	// Preflight TTL drop (§4.3 step 3).
	if c.rtt.init && ttl != 0 {
		units := ceilDiv(len(payload), udpMTU)
		a := c.rtt.meanPerUnit * time.Duration(units) / 2
		b := c.rtt.mean * time.Duration(fcnt) / 2
		threshold := a
		if b < threshold {
			threshold = b
		}
		if ttl+snd.DACKT <= threshold {
			return ErrTTLExpired
		}
		if ttl > threshold {
			// The peer sees a TTL net of the expected one-way delay.
			ttl -= threshold
		}
	}

	som := snd.NXT
	for i := 0; i < fcnt; i++ {
		seq := som.Add(Size(i))
		slot := snd.slot(seq)
		lo := i * snd.maxDlen
		hi := lo + snd.maxDlen
		if hi > len(payload) {
			hi = len(payload)
		}
		*slot = sendSlot{
			inUse:  true,
			seq:    seq,
			som:    som,
			fcnt:   uint16(fcnt),
			data:   payload[lo:hi],
			ttl:    ttl,
			tStart: now,
		}
		if i == 0 {
			slot.origBuf = payload
		}
		snd.pending++
		c.transmitSlot(slot, now)
	}
	snd.NXT = som.Add(Size(fcnt))
	return nil
}

// transmitSlot renders and sends one segment, arming its retransmit
// timer (§4.3 steps 5-6). On ErrWouldBlock the slot remains queued; the
// handle's write-blocked flag is set and the segment is retransmitted
// once the timer fires.
func (c *Conn) transmitSlot(slot *sendSlot, now time.Time) {
	buf := c.handle.scratch(int(c.snd.SegBMax))
	h := c.fixedHeader(FlagACK, slot.seq, slot.som, slot.fcnt, uint16(len(slot.data)), slot.ttl)
	h.HLen = fixedHeaderSize / 2
	EncodeFixed(buf, &h)
	n := copy(buf[fixedHeaderSize:], slot.data)
	wire := buf[:fixedHeaderSize+n]

	_, err := c.handle.socket.SendTo(wire, c.remote)
	if err != nil && err != ErrWouldBlock {
		c.fail(DisconnectSocketError, now)
		return
	}
	if err == ErrWouldBlock {
		c.handle.writeBlocked = true
	}
	c.cancelDelayedAck()

	var rto time.Duration
	if !c.rtt.init {
		rto = c.handle.cfg.InitialDataTimeout
	} else {
		rto = c.rtt.rto()
	}
	// The retransmit handler itself decides when to give up (elapsed vs.
	// dataRetryTimeout), so the timer's own retry budget is effectively
	// unbounded.
	slot.rtx.arm(now, rto, unboundedRetries)
	c.cancelPersist()
}

// retransmitSlot is invoked by the dispatch loop when a send slot's
// retransmit timer fires, implementing the §4.3 "Retransmit handler".
func (c *Conn) retransmitSlot(slot *sendSlot, now time.Time) {
	if !slot.inUse || slot.ttlExpired {
		slot.rtx.cancel()
		return
	}
	elapsed := now.Sub(slot.tStart)
	if slot.ttl != 0 {
		onWire := c.rtt.timeOnWire(len(slot.data))
		if elapsed+onWire >= slot.ttl {
			c.expireMessage(slot.som, slot.fcnt, now)
			return
		}
	}
	retryTimeout := c.rtt.dataRetryTimeout(c.handle.cfg.TotalDataRetryTimeout, c.snd.SegMax, c.snd.SegBMax)
	if slot.retransmits > c.handle.cfg.MinDataRetries && elapsed > retryTimeout {
		c.disconnect(DisconnectTimeout, now)
		return
	}

	remainingTTL := slot.ttl
	if remainingTTL != 0 {
		remainingTTL -= elapsed
		if remainingTTL < 0 {
			remainingTTL = 0
		}
	}
	slot.ttl = remainingTTL
	slot.retransmits++
	if slot.retransmits > c.rtt.backoff {
		c.rtt.backoff = slot.retransmits
	}
	c.transmitSlot(slot, now)
}

// expireMessage marks every slot of the message starting at som as
// TTL-expired, cancels their timers, advances UNA past the run if it
// reaches the head, and schedules an unsolicited ACK (§4.3 "Retransmit
// handler").
func (c *Conn) expireMessage(som Value, fcnt uint16, now time.Time) {
	snd := &c.snd
	var origBuf []byte
	for i := 0; i < int(fcnt); i++ {
		sl := snd.slot(som.Add(Size(i)))
		if sl.inUse && sl.som == som {
			if i == 0 {
				origBuf = sl.origBuf
			}
			sl.rtx.cancel()
			sl.ttlExpired = true
		}
	}
	if som == snd.UNA {
		c.advanceUNAPastExpired(now)
	}
	c.scheduleUnsolicitedAck(now)
	if origBuf != nil && c.handle.cb.SendComplete != nil {
		c.handle.cb.SendComplete(c.handle, c, origBuf, len(origBuf), SendTTLExpired)
	}
}

// advanceUNAPastExpired advances UNA through any run of TTL-expired
// slots at the head of the window, freeing them (§3 invariant 7).
func (c *Conn) advanceUNAPastExpired(now time.Time) {
	snd := &c.snd
	for {
		if snd.UNA == snd.NXT {
			break
		}
		sl := snd.slot(snd.UNA)
		if !sl.inUse || !sl.ttlExpired {
			break
		}
		sl.inUse = false
		snd.pending--
		snd.UNA = snd.UNA.Add(1)
	}
}

// onAck processes an incoming ACK's (ack, lcs) fields per §4.3 "Ack
// processing".
func (c *Conn) onAck(ack, peerLCS Value, now time.Time) {
	snd := &c.snd
	if ack.GreaterThan(snd.UNA-1) || peerLCS != snd.LCS {
		snd.UNA = ack.Add(1)
	}

	for seq := snd.LCS.Add(1); !seq.GreaterThan(ack) && snd.pending > 0; seq = seq.Add(1) {
		sl := snd.slot(seq)
		if !sl.inUse || sl.seq != seq {
			continue
		}
		if sl.retransmits == 0 && sl.rtx.active() {
			c.rtt.sample(now.Sub(sl.tStart), ceilDiv(len(sl.data), udpMTU))
			c.rtt.backoff = 0
		}
		sl.rtx.cancel()
		if seq.GreaterThan(peerLCS) {
			// Acknowledged but not yet consumed by the peer's application:
			// the slot stays occupied until LCS passes it (a slot is in-use
			// iff it carries a segment in (LCS, NXT)).
			continue
		}
		if sl.seq == sl.som.Add(Size(sl.fcnt-1)) {
			// Last fragment fully consumed: the whole message retires at
			// once so the first fragment's origBuf is still on hand for
			// the send-complete callback.
			c.completeMessage(sl.som, sl.fcnt)
		}
	}
	c.advanceUNAPastExpired(now)
	snd.LCS = peerLCS
}

// completeMessage frees every slot of a fully consumed message and fires
// send-complete with status OK, unless a TTL expiry already reported it.
func (c *Conn) completeMessage(som Value, fcnt uint16) {
	snd := &c.snd
	expired := false
	var origBuf []byte
	for i := 0; i < int(fcnt); i++ {
		sl := snd.slot(som.Add(Size(i)))
		if !sl.inUse || sl.som != som {
			continue
		}
		if i == 0 {
			origBuf = sl.origBuf
		}
		if sl.ttlExpired {
			expired = true
		}
		sl.rtx.cancel()
		sl.inUse = false
		snd.pending--
	}
	if !expired && origBuf != nil && c.handle.cb.SendComplete != nil {
		c.handle.cb.SendComplete(c.handle, c, origBuf, len(origBuf), SendOK)
	}
}

// onEack processes an EACK bitmask whose bit 0 corresponds to sequence
// ack+2 (§4.3 "EACK processing").
func (c *Conn) onEack(ack Value, mask *EackMask, now time.Time) {
	snd := &c.snd
	// The slot just past the cumulative ack is a hole the peer has seen
	// segments beyond: it is bumped on every EACK received.
	hole := ack.Add(1)
	if sl := snd.slot(hole); sl.inUse && sl.seq == hole {
		c.bumpFastRetransmit(sl, now)
	}
	// Unset bits drive fast retransmit only within the first 32 positions
	// and only below the highest set bit there; gaps further out are
	// caught as the EACK window moves.
	highest := -1
	for i := 0; i < 32 && i < mask.Size()*32; i++ {
		if mask.Test(i) {
			highest = i
		}
	}
	base := ack.Add(2)
	for i := 0; i < mask.Size()*32; i++ {
		seq := base.Add(Size(i))
		sl := snd.slot(seq)
		validSlot := sl.inUse && sl.seq == seq
		if mask.Test(i) {
			if validSlot {
				sl.rtx.cancel()
			}
			continue
		}
		if i < highest && validSlot {
			c.bumpFastRetransmit(sl, now)
		}
	}
}

func (c *Conn) bumpFastRetransmit(sl *sendSlot, now time.Time) {
	sl.fastRetransmit++
	if sl.fastRetransmit >= c.handle.cfg.FastRetransmitAckCounter && sl.retransmits == 0 && sl.rtx.active() {
		sl.rtx.fireNow(now)
	}
}

// scheduleUnsolicitedAck arms the delayed-ack timer immediately (deadline
// now) so the peer learns of a window change on the next dispatch tick,
// per the "Unsolicited" acknowledgment strategy (§4.6).
func (c *Conn) scheduleUnsolicitedAck(now time.Time) {
	if !c.delayedAck.active() {
		c.delayedAck.arm(now, 0, 1)
	} else {
		c.delayedAck.fireNow(now)
	}
}
