package rdp

import "time"

// recvSlot is one entry in a connection's receive ring, the mirror image
// of sendSlot. Grounded on the teacher's recvSpace (tcp/control.go) and
// ControlBlock.rcvEstablished's sequential-acceptance test
// (tcp/control_rcvhandlers.go), generalized to out-of-order admission:
// the teacher only ever accepts seg.SEQ == rcv.NXT, whereas RDP must
// admit and hold out-of-order segments up to SegMax ahead and track them
// in the EACK mask (§4.4).
type recvSlot struct {
	inUse      bool
	delivered  bool
	ttlExpired bool

	seq  Value
	som  Value
	fcnt uint16

	data  []byte
	ttl   time.Duration
	tRecv time.Time
}

// recvSide is the receive-half of a connection's sequence space (§3
// "Receive side").
type recvSide struct {
	CUR Value
	IRS Value
	LCS Value

	SegMax  uint16
	SegBMax uint16

	slots []recvSlot
	eack  EackMask
}

func (r *recvSide) index(seq Value) int {
	return int(uint32(seq) % uint32(len(r.slots)))
}

func (r *recvSide) slot(seq Value) *recvSlot {
	return &r.slots[r.index(seq)]
}

// resetRecv initializes the receive ring for a fresh connection.
func (r *recvSide) resetRecv(irs Value, localSegMax, localSegBMax uint16) {
	r.IRS = irs
	r.CUR = irs
	r.LCS = irs
	r.SegMax = localSegMax
	r.SegBMax = localSegBMax
	r.slots = make([]recvSlot, localSegMax)
	r.eack = NewEackMask(int(localSegMax))
}

// accepts reports whether seq falls within the acceptance window for a
// payload-bearing segment (§4.4 "Acceptance test").
func (r *recvSide) accepts(seq Value) bool {
	return seq.GreaterThan(r.LCS) && !seq.GreaterThan(r.LCS.Add(Size(len(r.slots))))
}

// isDuplicate reports whether seq is below the acceptance window but
// still within the last-SegMax window, i.e. a segment the peer already
// believes was consumed (§4.4).
func (r *recvSide) isDuplicate(seq Value) bool {
	return !seq.GreaterThan(r.LCS) && seq.GreaterThan(r.LCS.SubSize(Size(len(r.slots))))
}

// storeRecv records a newly-accepted payload-bearing segment into the
// receive ring and either advances the in-order queue or sets the
// corresponding EACK bit (§4.4 "Storing a segment").
func (c *Conn) storeRecv(h *FixedHeader, payload []byte, now time.Time) {
	rcv := &c.rcv
	slot := rcv.slot(h.Seq)
	buf := make([]byte, len(payload))
	copy(buf, payload)
	*slot = recvSlot{
		inUse: true,
		seq:   h.Seq,
		som:   h.SOM,
		fcnt:  h.FCnt,
		data:  buf,
		ttl:   time.Duration(h.TTL) * time.Millisecond,
		tRecv: now,
	}
	if h.Seq == rcv.CUR.Add(1) {
		c.advanceRcvQueue(now)
	} else {
		bit := int(h.Seq.Sub(rcv.CUR.Add(2)))
		rcv.eack.Set(bit)
	}
}

// advanceRcvQueue implements §4.4 "In-order advance": it shifts the EACK
// mask, walks forward over newly-in-order slots, releasing or
// delivering completed messages, and schedules a delayed ACK.
func (c *Conn) advanceRcvQueue(now time.Time) {
	rcv := &c.rcv
	for {
		next := rcv.CUR.Add(1)
		slot := rcv.slot(next)
		if !slot.inUse || slot.seq != next {
			break
		}
		if !slot.ttlExpired && slot.ttl != 0 && now.Sub(slot.tRecv) >= slot.ttl {
			c.markMessageTTLExpired(slot.som, slot.fcnt)
		}
		lastFragment := slot.seq == slot.som.Add(Size(slot.fcnt-1))
		if lastFragment {
			if c.messageAnyExpired(slot.som, slot.fcnt) {
				c.markMessageTTLExpired(slot.som, slot.fcnt)
				c.releaseMessageSlots(slot.som, slot.fcnt)
			} else {
				c.deliverMessage(slot.som, slot.fcnt, now)
			}
		}
		rcv.CUR = next
		// Re-base the mask onto the new CUR: old bit i+1 becomes bit i.
		rcv.eack.ShiftLeft(1)
	}
	c.advanceLCSExpired()
	if !c.delayedAck.active() {
		c.delayedAck.arm(now, c.handle.cfg.DelayedAckTimeout, 1)
	}
}

// markMessageTTLExpired flags every present fragment slot of a message as
// expired; a message expires as a whole, never fragment by fragment.
func (c *Conn) markMessageTTLExpired(som Value, fcnt uint16) {
	rcv := &c.rcv
	for i := 0; i < int(fcnt); i++ {
		sl := rcv.slot(som.Add(Size(i)))
		if sl.inUse && sl.som == som {
			sl.ttlExpired = true
		}
	}
}

// advanceLCSExpired pulls LCS forward through any run of fully released
// expired placeholders at the head of the window, so the window reopens
// even when nothing was ever delivered ahead of them.
func (c *Conn) advanceLCSExpired() {
	rcv := &c.rcv
	for !rcv.CUR.LessThan(rcv.LCS.Add(1)) {
		next := rcv.LCS.Add(1)
		sl := rcv.slot(next)
		if !sl.inUse || sl.seq != next || !sl.ttlExpired || sl.data != nil {
			break
		}
		*sl = recvSlot{}
		rcv.LCS = next
	}
}

func (c *Conn) messageAnyExpired(som Value, fcnt uint16) bool {
	rcv := &c.rcv
	for i := 0; i < int(fcnt); i++ {
		sl := rcv.slot(som.Add(Size(i)))
		if sl.inUse && sl.som == som && sl.ttlExpired {
			return true
		}
	}
	return false
}

// releaseMessageSlots frees the payload buffers of a TTL-expired message
// without delivering it. The slots stay occupied as expired placeholders
// (data nil) until LCS passes them, so window accounting holds.
func (c *Conn) releaseMessageSlots(som Value, fcnt uint16) {
	rcv := &c.rcv
	for i := 0; i < int(fcnt); i++ {
		sl := rcv.slot(som.Add(Size(i)))
		if sl.inUse && sl.som == som {
			sl.data = nil
			sl.delivered = false
			sl.ttlExpired = true
		}
	}
}

// Fragment describes one fragment of a delivered message, the descriptor
// handed to the recv callback (§6 "recv").
type Fragment struct {
	Data []byte
	Seq  Value
	Next *Fragment
}

// deliverMessage fires the recv callback with a linked run of fcnt
// fragment descriptors and marks every slot delivered (§4.4 step 2).
func (c *Conn) deliverMessage(som Value, fcnt uint16, now time.Time) {
	rcv := &c.rcv
	frags := make([]Fragment, fcnt)
	for i := 0; i < int(fcnt); i++ {
		sl := rcv.slot(som.Add(Size(i)))
		frags[i] = Fragment{Data: sl.data, Seq: sl.seq}
		sl.delivered = true
		if i > 0 {
			frags[i-1].Next = &frags[i]
		}
	}
	if c.handle.cb.Recv != nil {
		c.handle.cb.Recv(c.handle, c, &frags[0], SendOK)
	}
}

// flushExpiredRcv implements §4.4 "Peer-driven flush": on acknxt >
// rcv.CUR+1 it marks all undelivered slots below acknxt TTL-expired,
// rebases CUR to acknxt-1, and delivers any now-complete in-order
// messages.
func (c *Conn) flushExpiredRcv(acknxt Value, now time.Time) {
	rcv := &c.rcv
	if !rcv.CUR.Add(1).LessThan(acknxt) {
		return
	}
	for seq := rcv.CUR.Add(1); seq.LessThan(acknxt); seq = seq.Add(1) {
		sl := rcv.slot(seq)
		switch {
		case sl.inUse && sl.seq == seq && sl.delivered:
			// Already handed to the application; recvReady retires it.
		case sl.inUse && sl.seq == seq:
			sl.ttlExpired = true
			sl.data = nil
		default:
			// The peer flushed a sequence that never arrived; plant a
			// placeholder so LCS can advance across the gap.
			*sl = recvSlot{inUse: true, ttlExpired: true, seq: seq, som: seq, fcnt: 1}
		}
	}
	shift := int(acknxt.Sub(rcv.CUR.Add(1)))
	if shift > 0 {
		rcv.eack.ShiftLeft(shift)
	}
	rcv.CUR = acknxt.SubSize(1)
	c.advanceRcvQueue(now)
}

// recvReady releases a delivered message back to the core, implementing
// §4.4 "Release (RecvReady)". seq must equal rcv.LCS+1 (the start of the
// oldest delivered-but-unreleased message).
func (c *Conn) recvReady(seq Value, now time.Time) error {
	rcv := &c.rcv
	if seq != rcv.LCS.Add(1) {
		return ErrInvalidState
	}
	first := rcv.slot(seq)
	if !first.inUse || first.seq != seq || !first.delivered {
		return ErrInvalidState
	}
	fcnt := int(first.fcnt)
	for i := 0; i < fcnt; i++ {
		sl := rcv.slot(seq.Add(Size(i)))
		*sl = recvSlot{}
		rcv.LCS = rcv.LCS.Add(1)
	}
	for {
		next := rcv.LCS.Add(1)
		sl := rcv.slot(next)
		if !sl.inUse || sl.seq != next || !sl.ttlExpired || sl.data != nil {
			break
		}
		*sl = recvSlot{}
		rcv.LCS = next
	}
	if rcv.CUR.LessThan(rcv.LCS) {
		rcv.CUR = rcv.LCS
	}
	if !c.delayedAck.active() {
		c.delayedAck.arm(now, c.handle.cfg.DelayedAckTimeout, 1)
	}
	return nil
}
