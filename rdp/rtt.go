package rdp

import "time"

const (
	minRTO = 100 * time.Millisecond
	maxRTO = 64000 * time.Millisecond

	// udpMTU bounds the per-unit-MTU smoothing in rttMeanUnit (§4.5).
	udpMTU = 1472
)

// rttEstimator tracks smoothed RTT, RTT variance and a per-MTU-unit
// smoothed RTT, and derives the retransmission timeout. Grounded on the
// teacher's rttMeasureSeqNum/rttMeasureTime sampling fields noted in
// tcp/control.go's sendSpace comment citing the RFC 6298 smoothing
// family; the exact constants here follow §4.5 rather than RFC 6298's
// own (they differ slightly in the variance gain).
type rttEstimator struct {
	init        bool
	mean        time.Duration
	meanVar     time.Duration
	meanPerUnit time.Duration
	backoff     int
}

// sample feeds one round-trip observation from a first-successful-
// transmission slot into the estimator. units is ceil(len/udpMTU) for
// the sampled segment.
func (r *rttEstimator) sample(rtt time.Duration, units int) {
	if units <= 0 {
		units = 1
	}
	if !r.init {
		r.mean = rtt
		r.meanVar = rtt / 2
		r.meanPerUnit = rtt / time.Duration(units)
		r.init = true
		r.backoff = 0
		return
	}
	err := rtt - r.mean
	if err < 0 {
		err = -err
	}
	r.mean = (7*r.mean + rtt) / 8
	if rtt+r.meanVar >= r.mean {
		r.meanVar = (3*r.meanVar + err) / 4
	} else {
		r.meanVar = (31*r.meanVar + err) / 32
	}
	r.meanPerUnit = (7*r.meanPerUnit + rtt/time.Duration(units)) / 8
	r.backoff = 0
}

// rto returns the current retransmission timeout, widened by the
// connection's backoff exponent (§4.5).
func (r *rttEstimator) rto() time.Duration {
	base := r.mean + 4*r.meanVar
	if base < minRTO {
		base = minRTO
	}
	rto := base << uint(r.backoff)
	if rto > maxRTO || rto < base /* overflow from the shift */ {
		rto = maxRTO
	}
	return rto
}

// dataRetryTimeout returns the dynamic total-data-retry deadline used to
// kill a connection that never progresses, per §4.5: the larger of the
// configured floor and a window-sized estimate once the estimator has a
// sample.
func (r *rttEstimator) dataRetryTimeout(configured time.Duration, segmax, segbmax uint16) time.Duration {
	if !r.init {
		return configured
	}
	windowed := time.Duration(int64(segmax)*int64(segbmax)) * (r.mean / 2) / udpMTU
	if windowed > configured {
		return windowed
	}
	return configured
}

// timeOnWire estimates one-way transit time for a segment of the given
// byte length, used both in preflight TTL math (§4.3 step 3) and in the
// retransmit handler's elapsed-time accounting (§4.3 "Retransmit
// handler").
func (r *rttEstimator) timeOnWire(length int) time.Duration {
	units := ceilDiv(length, udpMTU)
	if units <= 0 {
		units = 1
	}
	a := r.meanPerUnit * time.Duration(units) / 2
	b := r.mean / 2
	if a < b {
		return a
	}
	return b
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
