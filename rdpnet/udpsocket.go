//go:build unix

// Package rdpnet provides a reference rdp.Socket built on a real UDP
// socket, the kind of host collaborator the protocol consumes but
// deliberately keeps out of the core.
package rdpnet

import (
	"errors"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/YaoZengzeng/yardp/rdp"
)

// UDPSocket adapts a *net.UDPConn to rdp.Socket. I/O goes through the
// connection's raw descriptor with unix.Sendto/unix.Recvfrom — the
// descriptor is already non-blocking under the Go runtime, so EAGAIN
// surfaces as rdp.ErrWouldBlock instead of parking the goroutine in the
// runtime poller, which is what the single-threaded dispatch loop
// requires. Grounded on the teacher's internal.Tap platform-errno
// handling (internal/tap.go's build-tagged raw-fd syscalls), generalized
// from a tap device to a UDP socket.
type UDPSocket struct {
	conn *net.UDPConn
	raw  syscall.RawConn
}

// NewUDPSocket wraps conn, which must already be open, for use by a
// Handle's dispatch loop. The caller retains ownership of conn (Close it
// after the handle is done).
func NewUDPSocket(conn *net.UDPConn) (*UDPSocket, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &UDPSocket{conn: conn, raw: raw}, nil
}

// SendTo implements rdp.Socket.
func (s *UDPSocket) SendTo(b []byte, addr rdp.Addr) (int, error) {
	sa, err := toSockaddr(addr)
	if err != nil {
		return 0, err
	}
	var serr error
	cerr := s.raw.Write(func(fd uintptr) bool {
		serr = unix.Sendto(int(fd), b, 0, sa)
		// Always done: a would-block send is reported to the dispatch
		// loop, which retries off the retransmit timer once the reactor
		// signals writability, rather than waiting in the poller here.
		return true
	})
	if cerr != nil {
		return 0, cerr
	}
	if serr != nil {
		if isWouldBlock(serr) {
			return 0, rdp.ErrWouldBlock
		}
		return 0, serr
	}
	return len(b), nil
}

// RecvFrom implements rdp.Socket.
func (s *UDPSocket) RecvFrom(b []byte) (int, rdp.Addr, error) {
	var (
		n    int
		sa   unix.Sockaddr
		serr error
	)
	cerr := s.raw.Read(func(fd uintptr) bool {
		n, sa, serr = unix.Recvfrom(int(fd), b, 0)
		// Always done: an empty receive queue must return immediately so
		// the dispatch loop can fire timers and hand control back.
		return true
	})
	if cerr != nil {
		return 0, rdp.Addr{}, cerr
	}
	if serr != nil {
		if isWouldBlock(serr) {
			return 0, rdp.Addr{}, rdp.ErrWouldBlock
		}
		return 0, rdp.Addr{}, serr
	}
	return n, fromSockaddr(sa), nil
}

func toSockaddr(a rdp.Addr) (unix.Sockaddr, error) {
	switch {
	case a.IP.Is4() || a.IP.Is4In6():
		return &unix.SockaddrInet4{Port: int(a.Port), Addr: a.IP.Unmap().As4()}, nil
	case a.IP.Is6():
		return &unix.SockaddrInet6{Port: int(a.Port), Addr: a.IP.As16()}, nil
	}
	return nil, errors.New("rdpnet: invalid address")
}

func fromSockaddr(sa unix.Sockaddr) rdp.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return rdp.Addr{IP: netip.AddrFrom4(sa.Addr), Port: uint16(sa.Port)}
	case *unix.SockaddrInet6:
		return rdp.Addr{IP: netip.AddrFrom16(sa.Addr).Unmap(), Port: uint16(sa.Port)}
	}
	return rdp.Addr{}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
