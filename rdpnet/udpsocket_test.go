//go:build unix

package rdpnet

import (
	"net"
	"testing"
	"time"

	"github.com/YaoZengzeng/yardp/rdp"
)

func newLocalSocket(t *testing.T) (*UDPSocket, rdp.Addr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	s, err := NewUDPSocket(conn)
	if err != nil {
		t.Fatal(err)
	}
	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return s, rdp.Addr{IP: ap.Addr().Unmap(), Port: ap.Port()}
}

// An empty receive queue must return ErrWouldBlock immediately, never
// park the calling goroutine: the dispatch loop is single-threaded.
func TestRecvFromWouldBlock(t *testing.T) {
	s, _ := newLocalSocket(t)
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, _, err := s.RecvFrom(buf)
		done <- err
	}()
	select {
	case err := <-done:
		if err != rdp.ErrWouldBlock {
			t.Fatalf("RecvFrom on empty socket = %v, want ErrWouldBlock", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RecvFrom blocked instead of returning ErrWouldBlock")
	}
}

func TestSendToRecvFromRoundTrip(t *testing.T) {
	a, addrA := newLocalSocket(t)
	b, addrB := newLocalSocket(t)

	msg := []byte("ping")
	if n, err := a.SendTo(msg, addrB); err != nil || n != len(msg) {
		t.Fatalf("SendTo = %d, %v", n, err)
	}

	buf := make([]byte, 64)
	var (
		n    int
		from rdp.Addr
		err  error
	)
	for i := 0; i < 200; i++ {
		n, from, err = b.RecvFrom(buf)
		if err != rdp.ErrWouldBlock {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(msg) {
		t.Errorf("payload = %q, want %q", buf[:n], msg)
	}
	if from != addrA {
		t.Errorf("from = %v, want %v", from, addrA)
	}
}
