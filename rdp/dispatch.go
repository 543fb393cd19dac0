package rdp

import (
	"time"
)

// noDeadline is the sentinel Run returns when no timer is currently
// scheduled anywhere in the handle.
const noDeadline = -1 * time.Second

// Run is the single entry point the host's I/O reactor calls whenever
// the socket is readable, writable, or a previously requested deadline
// has elapsed (§4.7). It returns the delay until the next timer fires
// (noDeadline if none is scheduled) and whether the socket is currently
// write-blocked.
func (h *Handle) Run(readReady, writeReady bool, now time.Time) (nextWake time.Duration, blocked bool, err error) {
	if writeReady {
		h.writeBlocked = false
	}
	if readReady {
		if err := h.drainSocket(now); err != nil {
			return 0, h.writeBlocked, err
		}
	}
	h.fireExpiredTimers(now)
	return h.nextDeadline(now), h.writeBlocked, nil
}

// drainSocket reads datagrams until the socket would block, demultiplexing
// each by (local, foreign) port pair (§4.7 step 2).
func (h *Handle) drainSocket(now time.Time) error {
	buf := make([]byte, 65535)
	for {
		n, from, err := h.socket.RecvFrom(buf)
		if err == ErrWouldBlock {
			return nil
		}
		if err != nil {
			return err
		}
		h.handleDatagram(buf[:n], from, now)
	}
}

func (h *Handle) handleDatagram(buf []byte, from Addr, now time.Time) {
	if len(buf) < 1 {
		return
	}
	flags := Flags(buf[0]) &^ versionMask
	if flags.HasAny(FlagSYN) {
		syn, err := DecodeSyn(buf)
		if err == ErrVersionNotSupported {
			// A handshake from a peer speaking a version we don't: report
			// it as a distinct establishment failure if it belongs to a
			// connection we are trying to open.
			if c := h.findConn(syn.Dst, syn.Src, from); c != nil && c.state == StateSynSent {
				c.connectFail(ErrVersionNotSupported, now)
			}
			return
		}
		if err != nil {
			return
		}
		payload := buf[synHeaderSize:]
		if syn.Dst != 0 {
			if c := h.findConn(syn.Dst, syn.Src, from); c != nil {
				fh := synToFixed(&syn)
				c.admit(&fh, payload, nil, &syn, now)
				return
			}
			// Handshake segment for a port nobody owns: refuse.
			var tmp Conn
			tmp.handle = h
			tmp.localPort, tmp.foreignPort, tmp.remote = syn.Dst, syn.Src, from
			tmp.sendRST(syn.Ack.Add(1), 0, false)
			return
		}
		// dst == 0: an initial SYN probing for the passive endpoint (§4.7
		// step 2). A crossing SYN from an address we are actively opening
		// to belongs to that connection (simultaneous open).
		if syn.Flags.HasAny(FlagACK) {
			return
		}
		if c := h.findSynSent(from); c != nil {
			fh := synToFixed(&syn)
			c.admit(&fh, payload, nil, &syn, now)
			return
		}
		if h.accepting {
			h.acceptSYN(&syn, payload, from, now)
			return
		}
		var tmp Conn
		tmp.handle = h
		tmp.foreignPort, tmp.remote = syn.Src, from
		tmp.sendRST(syn.Ack.Add(1), 0, false)
		return
	}

	fh, err := DecodeFixed(buf)
	if err != nil {
		return
	}
	off := fixedHeaderSize
	var mask *EackMask
	if fh.Flags.HasAny(FlagEACK) {
		msz := (int(fh.HLen)*2 - fixedHeaderSize) / 4
		m, err := DecodeEackMask(buf[off:], msz)
		if err != nil {
			return
		}
		mask = &m
		off += msz * 4
	}
	payload := buf[off:]

	c := h.findConn(fh.Dst, fh.Src, from)
	if c == nil {
		var tmp Conn
		tmp.handle = h
		tmp.localPort, tmp.foreignPort, tmp.remote = fh.Dst, fh.Src, from
		tmp.admitClosed(&fh, now)
		return
	}
	c.admit(&fh, payload, mask, nil, now)
}

// synToFixed adapts a decoded SynHeader to the FixedHeader field subset
// Conn.admit's generic dispatch reads (Flags, Src, Dst, Seq, Ack, Dlen).
func synToFixed(syn *SynHeader) FixedHeader {
	return FixedHeader{
		Flags: syn.Flags,
		Src:   syn.Src,
		Dst:   syn.Dst,
		Dlen:  syn.Dlen,
		Seq:   syn.Seq,
		Ack:   syn.Ack,
	}
}

// fireExpiredTimers walks every connection's timers and every in-flight
// send slot's retransmit timer once, firing whichever have expired
// (§4.2, §4.7 step 3). No separate timer heap is kept: each timer is
// only ever reachable through the connection or slot that owns it (the
// "no hidden state" rule).
func (h *Handle) fireExpiredTimers(now time.Time) {
	for c := h.head; c != nil; {
		next := c.next // c may be removed from the list by its own handler
		h.fireConnTimers(c, now)
		c = next
	}
}

func (h *Handle) fireConnTimers(c *Conn, now time.Time) {
	if c.lifecycle.expired(now) {
		h.fireNamed(c, "lifecycle", c.fireConnectTimer, now)
	}
	if c.state != StateOpen {
		return
	}
	if c.keepalive.expired(now) {
		h.fireNamed(c, "keepalive", c.fireKeepalive, now)
	}
	if c.delayedAck.expired(now) {
		h.fireNamed(c, "delayedAck", c.fireDelayedAck, now)
	}
	if c.persist.expired(now) {
		h.fireNamed(c, "persist", c.firePersist, now)
	}
	for i := range c.snd.slots {
		slot := &c.snd.slots[i]
		if slot.inUse && slot.rtx.expired(now) {
			if h.hooks.OnTimerFire != nil {
				h.hooks.OnTimerFire(h, c, "retransmit")
			}
			c.retransmitSlot(slot, now)
			if c.state != StateOpen {
				break
			}
		}
	}
}

func (h *Handle) fireNamed(c *Conn, name string, fn func(time.Time), now time.Time) {
	if h.hooks.OnTimerFire != nil {
		h.hooks.OnTimerFire(h, c, name)
	}
	fn(now)
}

// nextDeadline returns the minimum remaining delay across every active
// timer in the handle, or noDeadline if none is armed.
func (h *Handle) nextDeadline(now time.Time) time.Duration {
	min := time.Duration(-1)
	consider := func(t *timer) {
		if !t.active() {
			return
		}
		d := t.remaining(now)
		if min < 0 || d < min {
			min = d
		}
	}
	for c := h.head; c != nil; c = c.next {
		consider(&c.lifecycle)
		consider(&c.keepalive)
		consider(&c.delayedAck)
		consider(&c.persist)
		for i := range c.snd.slots {
			consider(&c.snd.slots[i].rtx)
		}
	}
	if min < 0 {
		return noDeadline
	}
	return min
}
