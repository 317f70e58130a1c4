package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCubicSlowStartGrowsByAckedSize(t *testing.T) {
	c := newCubic()
	initial := c.cwnd
	c.onPacketSent(1000)
	c.onPacketAcked(1000, 10*time.Millisecond, time.Now())
	require.Equal(t, initial+1000, c.cwnd, "slow start should grow cwnd by exactly the acked size")
	require.Zero(t, c.bytesInFlight)
}

func TestCubicLossReducesWindowByBeta(t *testing.T) {
	c := newCubic()
	before := c.cwnd
	c.onPacketSent(before)
	now := time.Now()
	c.onPacketsLost(before, now)
	require.Less(t, c.cwnd, before, "cwnd should shrink after a loss")
	require.GreaterOrEqual(t, c.cwnd, c.minWindow, "cwnd should never drop below minWindow")
	require.Equal(t, before, c.wMax)
}

func TestCubicAvailableReflectsInFlight(t *testing.T) {
	c := newCubic()
	full := c.available()
	c.onPacketSent(500)
	require.Equal(t, full-500, c.available())
	c.onPacketAcked(500, 10*time.Millisecond, time.Now())
	require.Zero(t, c.bytesInFlight)
}

func TestCubeRoot(t *testing.T) {
	require.InDelta(t, 2.0, cubeRoot(8), 0.0001)
	require.InDelta(t, -3.0, cubeRoot(-27), 0.0001)
	require.Equal(t, 0.0, cubeRoot(0))
}

func TestBBRStartsInStartupWithInitialWindow(t *testing.T) {
	b := newBBR()
	require.Equal(t, bbrStartup, b.state)
	require.Equal(t, 10*b.maxDatagramSize, b.cwnd)
}

func TestBBRBandwidthSampleUpdatesBtlBw(t *testing.T) {
	b := newBBR()
	now := time.Now()
	b.onPacketSent(1000)
	b.onPacketAcked(1000, 10*time.Millisecond, now)
	require.NotZero(t, b.btlBw, "a valid rtt/size sample should update the bandwidth filter")
	require.True(t, b.hasRTProp)
	require.Equal(t, 10*time.Millisecond, b.rtProp)
}

func TestBBRLeavesStartupOnceBandwidthPlateaus(t *testing.T) {
	b := newBBR()
	now := time.Now()
	b.onPacketSent(8192)
	// Three rounds of a stable delivery rate are enough for BBR to decide
	// the bottleneck bandwidth has been found and leave Startup.
	for i := 0; i < 4; i++ {
		b.onPacketAcked(8192, 10*time.Millisecond, now)
	}
	require.Equal(t, bbrDrain, b.state)
	require.True(t, b.fullBwReached)
}

func TestBBRPersistentCongestionResetsToStartup(t *testing.T) {
	b := newBBR()
	now := time.Now()
	b.onPacketSent(8192)
	for i := 0; i < 4; i++ {
		b.onPacketAcked(8192, 10*time.Millisecond, now)
	}
	require.NotEqual(t, bbrStartup, b.state)
	b.onPersistentCongestion()
	require.Equal(t, bbrStartup, b.state)
	require.Zero(t, b.btlBw)
	require.Equal(t, 10*b.maxDatagramSize, b.cwnd)
}

func TestBBRPacketsLostReducesBytesInFlight(t *testing.T) {
	b := newBBR()
	now := time.Now()
	b.onPacketSent(1000)
	b.onPacketsLost(400, now)
	require.Equal(t, uint64(600), b.bytesInFlight)
}

func TestNewCongestionControllerSelectsAlgorithm(t *testing.T) {
	_, ok := newCongestionController(CongestionControlCubic).(*cubicCongestion)
	require.True(t, ok)
	_, ok = newCongestionController(CongestionControlBBR).(*bbrCongestion)
	require.True(t, ok)
}
