package transport

import "time"

// congestionController is the interface both bundled algorithms satisfy,
// letting lossRecovery stay agnostic of which one a Conn was built with.
type congestionController interface {
	onPacketSent(size uint64)
	onPacketAcked(size uint64, rtt time.Duration, now time.Time)
	onPacketsLost(size uint64, now time.Time)
	onPersistentCongestion()
	onEcnCE(now time.Time)
	available() uint64
	// pacingRate is the sender's current pacing rate in bytes per second,
	// or 0 if the controller doesn't pace and packets should be sent as
	// fast as the congestion window allows.
	pacingRate() uint64
}

func newCongestionController(algo CongestionControlAlgorithm) congestionController {
	switch algo {
	case CongestionControlBBR:
		return newBBR()
	default:
		return newCubic()
	}
}

// cubicCongestion implements the CUBIC congestion avoidance algorithm
// (RFC 9438), with the standard slow-start/recovery bolt-ons from
// RFC 9002 §7 that every QUIC loss-based controller needs.
type cubicCongestion struct {
	minWindow       uint64
	maxDatagramSize uint64

	cwnd          uint64
	ssthresh      uint64
	bytesInFlight uint64

	wMax          uint64
	k             float64
	originPoint   uint64
	epochStart    time.Time
	inRecovery    bool
	recoveryStart time.Time
}

const (
	cubicBeta = 0.7 // Multiplicative window reduction on loss.
	cubicC    = 0.4 // CUBIC scaling constant.
)

func newCubic() *cubicCongestion {
	c := &cubicCongestion{
		maxDatagramSize: MinInitialPacketSize,
	}
	c.minWindow = 2 * c.maxDatagramSize
	c.cwnd = 10 * c.maxDatagramSize // RFC 9002 §7.2 initial window.
	c.ssthresh = ^uint64(0)
	return c
}

func (c *cubicCongestion) available() uint64 {
	if c.bytesInFlight >= c.cwnd {
		return 0
	}
	return c.cwnd - c.bytesInFlight
}

func (c *cubicCongestion) pacingRate() uint64 {
	return 0 // CUBIC sends unpaced, bounded only by cwnd.
}

func (c *cubicCongestion) onPacketSent(size uint64) {
	c.bytesInFlight += size
}

func (c *cubicCongestion) onPacketAcked(size uint64, rtt time.Duration, now time.Time) {
	if size > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
	if c.cwnd < c.ssthresh {
		// Slow start: grow by the acknowledged size directly.
		c.cwnd += size
		return
	}
	// Congestion avoidance: advance along the CUBIC window curve.
	if c.epochStart.IsZero() {
		c.epochStart = now
		if c.wMax <= c.cwnd {
			c.k = 0
			c.originPoint = c.cwnd
		} else {
			c.k = cubeRoot(float64(c.wMax-c.cwnd) / cubicC)
			c.originPoint = c.wMax
		}
	}
	t := now.Sub(c.epochStart).Seconds()
	target := float64(c.originPoint) + cubicC*(t-c.k)*(t-c.k)*(t-c.k)
	if target < float64(c.cwnd) {
		target = float64(c.cwnd)
	}
	c.cwnd = uint64(target)
}

func (c *cubicCongestion) onPacketsLost(size uint64, now time.Time) {
	if size > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
	c.reduceWindow(now)
}

// onEcnCE reacts to a CE-marked ACK exactly like a loss event (RFC 9002
// §7.3.2 treats one congestion event per round regardless of signal),
// without touching bytesInFlight since no packet is actually lost.
func (c *cubicCongestion) onEcnCE(now time.Time) {
	c.reduceWindow(now)
}

func (c *cubicCongestion) reduceWindow(now time.Time) {
	if c.inRecovery && now.Before(c.recoveryStart.Add(time.Millisecond)) {
		return
	}
	c.inRecovery = true
	c.recoveryStart = now
	c.wMax = c.cwnd
	c.ssthresh = uint64(float64(c.cwnd) * cubicBeta)
	if c.ssthresh < c.minWindow {
		c.ssthresh = c.minWindow
	}
	c.cwnd = c.ssthresh
	c.epochStart = time.Time{}
}

// onPersistentCongestion resets the window to the minimum and re-enters
// slow start (RFC 9002 §7.6.1): a period this unresponsive means any
// bandwidth estimate CUBIC was tracking is stale.
func (c *cubicCongestion) onPersistentCongestion() {
	c.cwnd = c.minWindow
	c.ssthresh = ^uint64(0)
	c.wMax = 0
	c.inRecovery = false
	c.epochStart = time.Time{}
}

func cubeRoot(x float64) float64 {
	if x == 0 {
		return 0
	}
	neg := x < 0
	if neg {
		x = -x
	}
	// Newton's method; a handful of iterations is plenty for the
	// magnitudes CUBIC ever computes this over.
	guess := x
	for i := 0; i < 30; i++ {
		guess = guess - (guess*guess*guess-x)/(3*guess*guess)
	}
	if neg {
		return -guess
	}
	return guess
}

// bbrState is one of BBR's four operating modes (Cardwell et al.,
// "BBR Congestion Control", §4).
type bbrState int

const (
	bbrStartup bbrState = iota
	bbrDrain
	bbrProbeBW
	bbrProbeRTT
)

// bbrGainCycle is the ProbeBW pacing-gain cycle: one round spent probing
// for more bandwidth, one draining the queue that probe built, six
// cruising at the current estimate (RFC 9002/BBR draft §4.3.3).
var bbrGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const (
	bbrStartupGain  = 2.77 // 4*ln(2), the pacing/cwnd gain used during Startup.
	bbrRTpropExpire = 10 * time.Second
	bbrProbeRTTTime = 200 * time.Millisecond
	bbrBwWindow     = 10 // Rounds of windowed-max bandwidth filter.
)

// bbrCongestion implements the BBR state machine: Startup probes for the
// bottleneck bandwidth at a fixed high gain, Drain empties the queue that
// built, ProbeBW cycles pacing gain around the discovered bandwidth, and
// ProbeRTT periodically shrinks in-flight data to refresh the min-RTT
// estimate (RFC 9002 §4.9 names BBR as the other mandatory controller).
type bbrCongestion struct {
	maxDatagramSize uint64
	bytesInFlight   uint64

	state bbrState

	bwSamples [bbrBwWindow]uint64
	bwIdx     int
	btlBw     uint64 // Windowed-max delivery rate, bytes/sec.

	rtProp      time.Duration
	rtPropStamp time.Time
	hasRTProp   bool

	fullBwReached bool
	fullBw        uint64
	fullBwCount   int

	cycleIndex int
	cycleStamp time.Time

	probeRTTDoneStamp time.Time
	probeRTTRoundDone bool
	priorCwnd         uint64

	cwnd uint64
}

func newBBR() *bbrCongestion {
	b := &bbrCongestion{
		maxDatagramSize: MinInitialPacketSize,
		state:           bbrStartup,
	}
	b.cwnd = 10 * b.maxDatagramSize // RFC 9002 §7.2 initial window.
	return b
}

func (b *bbrCongestion) available() uint64 {
	target := b.targetCwnd()
	if b.bytesInFlight >= target {
		return 0
	}
	return target - b.bytesInFlight
}

// targetCwnd is BDP * cwndGain, floored at four datagrams so the
// connection can always keep something in flight (BBR draft §4.2.3).
func (b *bbrCongestion) targetCwnd() uint64 {
	gain := b.cwndGain()
	bdp := b.bdp()
	target := uint64(float64(bdp) * gain)
	min := 4 * b.maxDatagramSize
	if target < min {
		target = min
	}
	if b.state == bbrProbeRTT {
		target = min
	}
	return target
}

func (b *bbrCongestion) bdp() uint64 {
	if !b.hasRTProp || b.btlBw == 0 {
		return b.cwnd
	}
	return uint64(float64(b.btlBw) * b.rtProp.Seconds())
}

func (b *bbrCongestion) cwndGain() float64 {
	switch b.state {
	case bbrStartup:
		return bbrStartupGain
	case bbrDrain:
		return bbrStartupGain
	default:
		return 2
	}
}

func (b *bbrCongestion) pacingGain() float64 {
	switch b.state {
	case bbrStartup:
		return bbrStartupGain
	case bbrDrain:
		return 1 / bbrStartupGain
	case bbrProbeRTT:
		return 1
	default:
		return bbrGainCycle[b.cycleIndex%len(bbrGainCycle)]
	}
}

func (b *bbrCongestion) pacingRate() uint64 {
	if b.btlBw == 0 {
		return 0
	}
	return uint64(float64(b.btlBw) * b.pacingGain())
}

func (b *bbrCongestion) onPacketSent(size uint64) {
	b.bytesInFlight += size
}

func (b *bbrCongestion) onPacketAcked(size uint64, rtt time.Duration, now time.Time) {
	if size > b.bytesInFlight {
		b.bytesInFlight = 0
	} else {
		b.bytesInFlight -= size
	}
	b.updateMinRTT(rtt, now)
	b.updateBandwidth(size, rtt)
	b.updateState(now)
}

func (b *bbrCongestion) updateMinRTT(rtt time.Duration, now time.Time) {
	if rtt <= 0 {
		return
	}
	expired := b.hasRTProp && now.Sub(b.rtPropStamp) > bbrRTpropExpire
	if !b.hasRTProp || rtt < b.rtProp || expired {
		b.rtProp = rtt
		b.rtPropStamp = now
		b.hasRTProp = true
	}
}

func (b *bbrCongestion) updateBandwidth(size uint64, rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	sample := uint64(float64(size) / rtt.Seconds())
	b.bwIdx = (b.bwIdx + 1) % bbrBwWindow
	b.bwSamples[b.bwIdx] = sample
	var max uint64
	for _, s := range b.bwSamples {
		if s > max {
			max = s
		}
	}
	b.btlBw = max
}

func (b *bbrCongestion) updateState(now time.Time) {
	switch b.state {
	case bbrStartup:
		if b.btlBw > 0 {
			if b.btlBw > b.fullBw+b.fullBw/4 {
				b.fullBw = b.btlBw
				b.fullBwCount = 0
			} else {
				b.fullBwCount++
			}
		}
		if b.fullBwCount >= 3 {
			b.fullBwReached = true
			b.state = bbrDrain
		}
	case bbrDrain:
		if b.bytesInFlight <= b.bdp() {
			b.state = bbrProbeBW
			b.cycleIndex = 0
			b.cycleStamp = now
		}
	case bbrProbeBW:
		if b.hasRTProp && now.Sub(b.cycleStamp) >= b.rtProp {
			b.cycleIndex++
			b.cycleStamp = now
		}
		if b.hasRTProp && now.Sub(b.rtPropStamp) > bbrRTpropExpire {
			b.priorCwnd = b.cwnd
			b.state = bbrProbeRTT
			b.probeRTTDoneStamp = time.Time{}
		}
	case bbrProbeRTT:
		if b.probeRTTDoneStamp.IsZero() {
			if b.bytesInFlight <= 4*b.maxDatagramSize {
				b.probeRTTDoneStamp = now.Add(bbrProbeRTTTime)
			}
		} else if now.After(b.probeRTTDoneStamp) {
			b.rtPropStamp = now
			b.state = bbrProbeBW
			b.cycleIndex = 0
			b.cycleStamp = now
			if b.priorCwnd > b.cwnd {
				b.cwnd = b.priorCwnd
			}
		}
	}
	b.cwnd = b.targetCwnd()
}

func (b *bbrCongestion) onPacketsLost(size uint64, now time.Time) {
	if size > b.bytesInFlight {
		b.bytesInFlight = 0
	} else {
		b.bytesInFlight -= size
	}
}

// onEcnCE is a no-op for BBR: unlike loss-based controllers, BBR's model
// is driven by delivery rate and RTT samples, not ECN marks.
func (b *bbrCongestion) onEcnCE(now time.Time) {}

// onPersistentCongestion drops BBR back into Startup, discarding the
// bandwidth and min-RTT estimates it had built up (RFC 9002 §7.6.1).
func (b *bbrCongestion) onPersistentCongestion() {
	b.state = bbrStartup
	b.fullBwReached = false
	b.fullBw = 0
	b.fullBwCount = 0
	b.btlBw = 0
	b.bwSamples = [bbrBwWindow]uint64{}
	b.cwnd = 10 * b.maxDatagramSize
}
