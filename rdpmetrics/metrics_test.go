package rdpmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/YaoZengzeng/yardp/rdp"
)

func TestInstrumentCountsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	var sawConnect bool
	cb := m.Instrument(rdp.Callbacks{
		Connect: func(h *rdp.Handle, conn *rdp.Conn, passive bool, synPayload []byte, status error) {
			sawConnect = true
		},
	})

	cb.Connect(nil, nil, false, nil, nil)
	if !sawConnect {
		t.Fatal("wrapped Connect not forwarded")
	}
	if got := testutil.ToFloat64(m.ActiveConns); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Connects.WithLabelValues("false")); got != 1 {
		t.Errorf("connects{passive=false} = %v, want 1", got)
	}

	cb.SendComplete(nil, nil, nil, 0, rdp.SendOK)
	if got := testutil.ToFloat64(m.SendsDone.WithLabelValues("ok")); got != 1 {
		t.Errorf("send completes{ok} = %v, want 1", got)
	}

	// Failed establishment does not touch the gauge.
	cb.Connect(nil, nil, false, nil, rdp.ErrTimeout)
	if got := testutil.ToFloat64(m.ActiveConns); got != 1 {
		t.Errorf("active connections after failed connect = %v, want 1", got)
	}
}

func TestHooksCountSegments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	hooks := m.Hooks()

	hooks.OnSegmentIn(nil, nil, rdp.FixedHeader{})
	hooks.OnSegmentOut(nil, nil, rdp.FixedHeader{})
	hooks.OnTimerFire(nil, nil, "retransmit")
	hooks.OnTimerFire(nil, nil, "keepalive")

	if got := testutil.ToFloat64(m.SegmentsIn); got != 1 {
		t.Errorf("segments in = %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsOut); got != 1 {
		t.Errorf("segments out = %v", got)
	}
	if got := testutil.ToFloat64(m.Retransmits); got != 1 {
		t.Errorf("retransmits = %v, want only the retransmit fire counted", got)
	}
}
