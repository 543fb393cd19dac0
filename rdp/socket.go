package rdp

import "net/netip"

// Addr identifies a remote UDP endpoint (§3 "remote IP address and UDP
// port"). It is comparison-friendly (usable as a map key) so the handle
// can reject duplicate passive-open attempts from the same pair (§9
// open question on duplicate SYNs).
type Addr struct {
	IP   netip.Addr
	Port uint16
}

// Socket is the non-blocking datagram transport the core consumes (§6
// "Host-provided operations"). RDP never dials or binds a socket itself;
// the host constructs one (see package rdpnet for a reference net.UDPConn
// adapter) and hands it to NewHandle.
//
// SendTo and RecvFrom must return ErrWouldBlock itself when the operation
// would block, never by blocking the calling goroutine — the dispatch
// loop is single-threaded and cooperative (§5). The core compares against
// ErrWouldBlock with ==, so a wrapped ErrWouldBlock is treated as a
// socket error.
type Socket interface {
	SendTo(b []byte, addr Addr) (int, error)
	RecvFrom(b []byte) (int, Addr, error)
}
