package rdp

// Testing helpers shared by the *_test.go files in this package: an
// in-memory datagram socket pair and a two-handle harness that drives
// scripted exchanges deterministically with an explicit clock, the way
// the protocol is exercised without a real network.

import (
	"net/netip"
	"testing"
	"time"
)

type dgram struct {
	data []byte
	from Addr
}

// memSock is an in-memory Socket. Datagrams sent on one end appear on
// the peer's receive queue unless the drop hook claims them or the
// socket is simulating write backpressure.
type memSock struct {
	addr Addr
	peer *memSock
	in   []dgram

	blocked bool
	drop    func(b []byte) bool
}

func (s *memSock) SendTo(b []byte, addr Addr) (int, error) {
	if s.blocked {
		return 0, ErrWouldBlock
	}
	if s.drop != nil && s.drop(b) {
		return len(b), nil
	}
	cp := append([]byte(nil), b...)
	s.peer.in = append(s.peer.in, dgram{data: cp, from: s.addr})
	return len(b), nil
}

func (s *memSock) RecvFrom(b []byte) (int, Addr, error) {
	if len(s.in) == 0 {
		return 0, Addr{}, ErrWouldBlock
	}
	d := s.in[0]
	s.in = s.in[1:]
	n := copy(b, d.data)
	return n, d.from, nil
}

type connectEv struct {
	passive bool
	payload []byte
	status  error
}

type recvEv struct {
	som   Value
	data  []byte
	frags int
}

type sendDoneEv struct {
	buf    []byte
	status SendStatus
}

// recorder captures every callback a handle fires, and optionally
// releases received messages immediately (autoRelease).
type recorder struct {
	acceptPayloads [][]byte
	acceptReply    []byte
	acceptOK       bool
	autoRelease    bool

	connects    []connectEv
	recvs       []recvEv
	sendDone    []sendDoneEv
	disconnects []DisconnectStatus
	winChanges  []uint16

	conn *Conn
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Accept: func(h *Handle, remote Addr, conn *Conn, synPayload []byte, status error) bool {
			r.acceptPayloads = append(r.acceptPayloads, append([]byte(nil), synPayload...))
			if !r.acceptOK {
				return false
			}
			if r.acceptReply != nil {
				conn.SetHandshakePayload(r.acceptReply)
			}
			r.conn = conn
			return true
		},
		Connect: func(h *Handle, conn *Conn, passive bool, synPayload []byte, status error) {
			r.connects = append(r.connects, connectEv{passive, append([]byte(nil), synPayload...), status})
			if status == nil {
				r.conn = conn
			}
		},
		Recv: func(h *Handle, conn *Conn, first *Fragment, status SendStatus) {
			var data []byte
			frags := 0
			for f := first; f != nil; f = f.Next {
				data = append(data, f.Data...)
				frags++
			}
			r.recvs = append(r.recvs, recvEv{first.Seq, data, frags})
			if r.autoRelease {
				conn.RecvReady(first.Seq)
			}
		},
		SendComplete: func(h *Handle, conn *Conn, buf []byte, length int, status SendStatus) {
			r.sendDone = append(r.sendDone, sendDoneEv{buf, status})
		},
		Disconnect: func(h *Handle, conn *Conn, status DisconnectStatus) {
			r.disconnects = append(r.disconnects, status)
		},
		SendWindowChanged: func(h *Handle, conn *Conn, newWindow uint16, status error) {
			r.winChanges = append(r.winChanges, newWindow)
		},
	}
}

// pair wires two handles through a memSock pair with a shared scripted
// clock. a is the active opener, b the passive listener.
type pair struct {
	t      *testing.T
	now    time.Time
	ha, hb *Handle
	sa, sb *memSock
	ra, rb *recorder
}

// testConfig returns a config with short, test-friendly timing.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ConnectRetries = 4
	cfg.InitialDataTimeout = 300 * time.Millisecond
	cfg.DelayedAckTimeout = 100 * time.Millisecond
	cfg.PersistInterval = 200 * time.Millisecond
	cfg.TotalAppTimeout = 10 * time.Second
	cfg.LinkTimeout = 3 * time.Second
	cfg.KeepaliveRetries = 3
	cfg.TimeWait = 500 * time.Millisecond
	return cfg
}

func newPair(t *testing.T, cfgA, cfgB Config) *pair {
	t.Helper()
	sa := &memSock{addr: Addr{IP: netip.MustParseAddr("192.0.2.1"), Port: 9001}}
	sb := &memSock{addr: Addr{IP: netip.MustParseAddr("192.0.2.2"), Port: 9002}}
	sa.peer, sb.peer = sb, sa

	ra := &recorder{acceptOK: true, autoRelease: true}
	rb := &recorder{acceptOK: true, autoRelease: true}

	ha, err := NewHandle(cfgA, ra.callbacks(), sa, nil)
	if err != nil {
		t.Fatalf("NewHandle A: %v", err)
	}
	hb, err := NewHandle(cfgB, rb.callbacks(), sb, nil)
	if err != nil {
		t.Fatalf("NewHandle B: %v", err)
	}
	return &pair{t: t, now: time.Now(), ha: ha, hb: hb, sa: sa, sb: sb, ra: ra, rb: rb}
}

// pump drains both sockets until no datagrams remain in flight.
func (p *pair) pump() {
	p.t.Helper()
	for i := 0; i < 64 && (len(p.sa.in) > 0 || len(p.sb.in) > 0); i++ {
		p.ha.Run(true, false, p.now)
		p.hb.Run(true, false, p.now)
	}
	if len(p.sa.in) > 0 || len(p.sb.in) > 0 {
		p.t.Fatal("pump did not converge")
	}
}

// advance moves the scripted clock forward, fires whatever timers come
// due, and drains the resulting traffic.
func (p *pair) advance(d time.Duration) {
	p.t.Helper()
	p.now = p.now.Add(d)
	p.ha.Run(true, false, p.now)
	p.hb.Run(true, false, p.now)
	p.pump()
}

// handshake performs the 3-way open from a to b and returns both
// connection records.
func (p *pair) handshake(synA, replyB []byte) (ca, cb *Conn) {
	p.t.Helper()
	if err := p.hb.Listen(); err != nil {
		p.t.Fatalf("Listen: %v", err)
	}
	p.rb.acceptReply = replyB
	ca, err := p.ha.Connect(p.sb.addr, synA)
	if err != nil {
		p.t.Fatalf("Connect: %v", err)
	}
	p.pump()
	if ca.State() != StateOpen {
		p.t.Fatalf("active side state = %v after handshake", ca.State())
	}
	cb = p.rb.conn
	if cb == nil || cb.State() != StateOpen {
		p.t.Fatalf("passive side not open after handshake")
	}
	return ca, cb
}

// send submits a message on the scripted clock.
func (p *pair) send(c *Conn, payload []byte, ttl time.Duration) error {
	p.t.Helper()
	if c.state != StateOpen {
		return ErrInvalidState
	}
	return c.send(payload, ttl, p.now)
}

// inject places a raw datagram on a handle's receive queue as if it
// arrived from the peer's address.
func (p *pair) inject(s *memSock, from Addr, data []byte) {
	s.in = append(s.in, dgram{data: append([]byte(nil), data...), from: from})
}

func mkPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
