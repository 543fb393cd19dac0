package rdp

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// Handle is process-wide state owning every active connection, global
// configuration, and the callback table (§3 "Protocol handle").
// Grounded on tcp/listener.go's Listener (incoming/accepted bookkeeping,
// mutex-free single-threaded variant, connection-id counter) plus the
// teacher's Handler.OpenActive/OpenListen port bookkeeping for local/
// foreign port-pair uniqueness.
type Handle struct {
	cfg   Config
	cb    Callbacks
	hooks Hooks

	head  *Conn // doubly-linked list of every live connection
	count int

	// accepting is set by Listen: initial SYNs (destination connection
	// port zero) are admitted as new passive connections (§4.7 step 2).
	accepting bool

	socket       Socket
	writeBlocked bool
	baseline     time.Time

	scratchBuf []byte

	userCtx any

	logger
}

// NewHandle constructs a protocol handle bound to socket, ready to
// Listen and Connect. cfg is validated with CheckConfigValid against
// cfg.MaxMessageSize.
func NewHandle(cfg Config, cb Callbacks, socket Socket, log *slog.Logger) (*Handle, error) {
	if err := CheckConfigValid(cfg.SegMax, cfg.SegBMax, cfg.MaxMessageSize); err != nil {
		return nil, err
	}
	return &Handle{
		cfg:      cfg,
		cb:       cb,
		socket:   socket,
		baseline: time.Now(),
		logger:   logger{log: log},
	}, nil
}

// SetHooks attaches the test-interposition table (§9 "Dynamic dispatch").
func (h *Handle) SetHooks(hooks Hooks) { h.hooks = hooks }

// UserContext and SetUserContext manage the handle's opaque context
// pointer (§3 "Protocol handle").
func (h *Handle) UserContext() any     { return h.userCtx }
func (h *Handle) SetUserContext(v any) { h.userCtx = v }

// ConnCount returns the number of connection records currently tracked.
// Listen creates no record, and an accept candidate is only counted once
// the Accept callback has admitted it.
func (h *Handle) ConnCount() int { return h.count }

// scratch returns a reusable encode buffer of at least n bytes. Safe
// only because the core is single-threaded and cooperative (§5): no
// send call overlaps another.
func (h *Handle) scratch(n int) []byte {
	if cap(h.scratchBuf) < n {
		h.scratchBuf = make([]byte, n)
	}
	return h.scratchBuf[:n]
}

func (h *Handle) addConn(c *Conn) {
	c.handle = h
	c.next = h.head
	if h.head != nil {
		h.head.prev = c
	}
	h.head = c
	h.count++
}

// removeConn is the hard delete: splice c out of the connection list.
// Valid after a disconnect callback has fired or after Conn.Disconnect,
// per §5 "release-connection is a hard delete".
func (h *Handle) removeConn(c *Conn) {
	if c.prev != nil {
		c.prev.next = c.next
	} else if h.head == c {
		h.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.next, c.prev = nil, nil
	h.count--
}

// ReleaseConnection deletes a connection record, per §5 "release-
// connection". Valid after the disconnect callback has been received.
func (h *Handle) ReleaseConnection(c *Conn) error {
	if c.state != StateCloseWait && c.state != StateClosed {
		return ErrInvalidState
	}
	h.removeConn(c)
	return nil
}

// findConn locates the connection owning a (local, foreign) port pair.
// The dispatch path passes the datagram's source address so two peers
// that happened to pick the same source port never alias. A connection
// still in SYN_SENT has not learned its peer's port yet (foreign is
// zero until the SYN|ACK arrives), so it matches any foreign port from
// its remote address.
func (h *Handle) findConn(localPort, foreignPort uint16, from Addr) *Conn {
	for c := h.head; c != nil; c = c.next {
		if c.localPort != localPort {
			continue
		}
		if from != (Addr{}) && c.remote != (Addr{}) && c.remote != from {
			continue
		}
		if c.foreignPort == foreignPort {
			return c
		}
		if c.foreignPort == 0 && c.state == StateSynSent {
			return c
		}
	}
	return nil
}

// findSynSent returns the connection actively opening toward from, used
// to route a crossing zero-destination SYN (simultaneous open) to it.
func (h *Handle) findSynSent(from Addr) *Conn {
	for c := h.head; c != nil; c = c.next {
		if c.state == StateSynSent && c.remote == from {
			return c
		}
	}
	return nil
}

// newConnID returns a random 32-bit connection identifier, never
// 0xFFFFFFFF (§3 "Identity").
func (h *Handle) newConnID() uint32 {
	for {
		id := rand.Uint32()
		if id != 0xFFFFFFFF {
			return id
		}
	}
}

// allocLocalPort picks a local connection port no live connection uses,
// keeping every (local, foreign) pair unique within the handle (§3
// "Identity").
func (h *Handle) allocLocalPort() uint16 {
	for {
		p := uint16(rand.IntN(0xFFFF-1024) + 1024)
		taken := false
		for c := h.head; c != nil; c = c.next {
			if c.localPort == p {
				taken = true
				break
			}
		}
		if !taken {
			return p
		}
	}
}

// Listen puts the handle into passive mode (§6 "Passive endpoint
// transitions CLOSED → LISTEN on a listen call"): from here on, initial
// SYNs — which carry a zero destination connection port — spawn accepted
// connections (§4.7 step 2). There is no per-port listener; the
// accepting side allocates a fresh local connection port for every
// connection it admits, and the peer learns it from the SYN|ACK.
func (h *Handle) Listen() error {
	if h.accepting {
		return ErrInvalidState
	}
	h.accepting = true
	return nil
}

// Connect actively opens a connection to remote, sending the initial SYN
// — destination connection port zero, since the peer's port is not yet
// known — carrying synPayload as the handshake application payload (§6
// "3-way handshake"). The foreign connection port is learned from the
// peer's SYN|ACK. synPayload must not exceed cfg.MaxSynDataLen.
func (h *Handle) Connect(remote Addr, synPayload []byte) (*Conn, error) {
	if len(synPayload) > h.cfg.MaxSynDataLen {
		return nil, ErrInvalidData
	}
	now := time.Now()
	c := &Conn{
		id:         h.newConnID(),
		traceID:    newTraceID(),
		localPort:  h.allocLocalPort(),
		remote:     remote,
		passive:    false,
		state:      StateSynSent,
		synPayload: append([]byte(nil), synPayload...),
		logger:     h.logger,
	}
	c.snd.ISS = Value(rand.Uint32())
	c.snd.NXT = c.snd.ISS
	c.snd.UNA = c.snd.ISS
	h.addConn(c)
	c.sendSyn(now)
	c.lifecycle.arm(now, h.cfg.ConnectTimeout, unboundedRetries)
	return c, nil
}

// acceptSYN implements §4.6 "LISTEN": an initial SYN (destination port
// zero) arrived while the handle is accepting. It ignores a duplicate
// SYN from an already-in-progress (addr, foreign port) pair per the
// resolved open question ("rely on retry").
func (h *Handle) acceptSYN(syn *SynHeader, payload []byte, from Addr, now time.Time) {
	for c := h.head; c != nil; c = c.next {
		if c.foreignPort == syn.Src && c.remote == from && c.state != StateCloseWait {
			return // duplicate accept attempt for a live pair: ignored.
		}
	}

	cand := &Conn{
		handle:      h,
		id:          h.newConnID(),
		traceID:     newTraceID(),
		localPort:   h.allocLocalPort(),
		foreignPort: syn.Src,
		remote:      from,
		passive:     true,
		state:       StateListen,
		logger:      h.logger,
	}
	cand.snd.resetSend(Value(rand.Uint32()), syn.SegMax, syn.SegBMax, time.Duration(syn.DACKT)*time.Millisecond, h.cfg.MaxMessageSize)
	cand.rcv.resetRecv(syn.Seq, h.cfg.SegMax, h.cfg.SegBMax)
	cand.window = cand.snd.SegMax
	cand.remoteMskSz = (int(h.cfg.SegMax) + 31) / 32
	cand.peerSynData = append([]byte(nil), payload...)

	admit := true
	if h.cb.Accept != nil {
		admit = h.cb.Accept(h, from, cand, payload, nil)
	}
	if !admit {
		cand.sendRST(syn.Ack.Add(1), 0, false)
		return
	}
	h.addConn(cand)
	cand.state = StateSynRcvd
	cand.sendSyn(now)
	cand.lifecycle.arm(now, h.cfg.ConnectTimeout, unboundedRetries)
}
