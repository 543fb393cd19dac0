// Package rdpmetrics exports a Handle's optional per-process counters as
// Prometheus series. It attaches from the outside through the hook table
// and by wrapping the callback table, so the protocol engine itself stays
// free of any metrics dependency and every update is a non-blocking O(1)
// gauge or counter operation safe to run on the dispatch stack.
package rdpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaoZengzeng/yardp/rdp"
)

// Metrics holds the collectors for one protocol handle.
type Metrics struct {
	ActiveConns prometheus.Gauge
	SegmentsIn  prometheus.Counter
	SegmentsOut prometheus.Counter
	Retransmits prometheus.Counter

	Connects    *prometheus.CounterVec // label: passive
	Disconnects *prometheus.CounterVec // label: reason
	SendsDone   *prometheus.CounterVec // label: status
	SendWindow  *prometheus.GaugeVec   // label: conn trace id
}

// New builds the collector set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdp_active_connections",
			Help: "Connections currently in OPEN.",
		}),
		SegmentsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdp_segments_in_total",
			Help: "Segments admitted into the state machine.",
		}),
		SegmentsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdp_segments_out_total",
			Help: "Bare ACK and NUL segments handed to the socket.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdp_retransmit_timer_fires_total",
			Help: "Per-slot retransmit timer expiries.",
		}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdp_connects_total",
			Help: "Connections that reached OPEN, by open direction.",
		}, []string{"passive"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdp_disconnects_total",
			Help: "Connections that entered CLOSE_WAIT, by reason.",
		}, []string{"reason"}),
		SendsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdp_send_completes_total",
			Help: "Send-complete callbacks, by terminal status.",
		}, []string{"status"}),
		SendWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rdp_send_window_segments",
			Help: "Peer-advertised send window, per connection.",
		}, []string{"conn"}),
	}
	reg.MustRegister(m.ActiveConns, m.SegmentsIn, m.SegmentsOut, m.Retransmits,
		m.Connects, m.Disconnects, m.SendsDone, m.SendWindow)
	return m
}

// Hooks returns a hook table that counts segment and timer traffic.
// Install with Handle.SetHooks.
func (m *Metrics) Hooks() rdp.Hooks {
	return rdp.Hooks{
		OnSegmentIn: func(h *rdp.Handle, conn *rdp.Conn, header rdp.FixedHeader) {
			m.SegmentsIn.Inc()
		},
		OnSegmentOut: func(h *rdp.Handle, conn *rdp.Conn, header rdp.FixedHeader) {
			m.SegmentsOut.Inc()
		},
		OnTimerFire: func(h *rdp.Handle, conn *rdp.Conn, name string) {
			if name == "retransmit" {
				m.Retransmits.Inc()
			}
		},
	}
}

// Instrument wraps a callback table so connection lifecycle and send
// outcomes update the collectors before the application's own callbacks
// run.
func (m *Metrics) Instrument(cb rdp.Callbacks) rdp.Callbacks {
	inner := cb
	cb.Connect = func(h *rdp.Handle, conn *rdp.Conn, passive bool, synPayload []byte, status error) {
		if status == nil {
			m.ActiveConns.Inc()
			m.Connects.WithLabelValues(boolLabel(passive)).Inc()
		}
		if inner.Connect != nil {
			inner.Connect(h, conn, passive, synPayload, status)
		}
	}
	cb.Disconnect = func(h *rdp.Handle, conn *rdp.Conn, status rdp.DisconnectStatus) {
		m.ActiveConns.Dec()
		m.Disconnects.WithLabelValues(status.String()).Inc()
		m.SendWindow.DeleteLabelValues(conn.TraceID())
		if inner.Disconnect != nil {
			inner.Disconnect(h, conn, status)
		}
	}
	cb.SendComplete = func(h *rdp.Handle, conn *rdp.Conn, buf []byte, length int, status rdp.SendStatus) {
		m.SendsDone.WithLabelValues(status.String()).Inc()
		if inner.SendComplete != nil {
			inner.SendComplete(h, conn, buf, length, status)
		}
	}
	cb.SendWindowChanged = func(h *rdp.Handle, conn *rdp.Conn, newWindow uint16, status error) {
		m.SendWindow.WithLabelValues(conn.TraceID()).Set(float64(newWindow))
		if inner.SendWindowChanged != nil {
			inner.SendWindowChanged(h, conn, newWindow, status)
		}
	}
	return cb
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
