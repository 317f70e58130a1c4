package transport

import (
	"testing"
	"time"
)

func sentPacket(r *lossRecovery, space packetSpace, pn uint64, now time.Time) {
	op := newOutgoingPacket(pn, now)
	op.addFrame(&pingFrame{})
	op.size = 100
	r.onPacketSent(op, space)
}

func TestLossRecoveryAckClearsSentAndUpdatesRTT(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, CongestionControlCubic)
	sentPacket(&r, packetSpaceApplication, 0, now)
	if len(r.sent[packetSpaceApplication]) != 1 {
		t.Fatalf("expected 1 outstanding packet, got %d", len(r.sent[packetSpaceApplication]))
	}
	var acked rangeSet
	acked.push(0)
	ackTime := now.Add(20 * time.Millisecond)
	r.onAckReceived(acked, 0, packetSpaceApplication, ackTime)
	if len(r.sent[packetSpaceApplication]) != 0 {
		t.Fatalf("packet 0 should no longer be outstanding after ack")
	}
	if !r.rttInited {
		t.Fatal("rttInited should be true after the first ack")
	}
	if r.latestRTT != 20*time.Millisecond {
		t.Fatalf("latestRTT = %v, want 20ms", r.latestRTT)
	}
	drained := 0
	r.drainAcked(packetSpaceApplication, func(frame) { drained++ })
	if drained != 1 {
		t.Fatalf("expected 1 acked frame drained, got %d", drained)
	}
}

func TestLossRecoveryDetectLossByPacketThreshold(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, CongestionControlCubic)
	for pn := uint64(0); pn <= 4; pn++ {
		sentPacket(&r, packetSpaceApplication, pn, now)
	}
	var acked rangeSet
	acked.push(4)
	r.onAckReceived(acked, 0, packetSpaceApplication, now)
	var lost []uint64
	for _, op := range r.sent[packetSpaceApplication] {
		lost = append(lost, op.packetNumber)
	}
	// 0 and 1 trail the largest acked (4) by >= packetThreshold (3) and
	// should have been moved out of sent into lost; 2 and 3 remain.
	if len(r.lost[packetSpaceApplication]) != 2 {
		t.Fatalf("expected 2 lost frames, got %d", len(r.lost[packetSpaceApplication]))
	}
	if len(lost) != 2 || lost[0] != 2 || lost[1] != 3 {
		t.Fatalf("remaining outstanding packet numbers = %v, want [2 3]", lost)
	}
}

func TestProbeTimeoutDoublesWithPTOCount(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, CongestionControlCubic)
	first := r.probeTimeout()
	r.ptoCount = 1
	second := r.probeTimeout()
	if second != 2*first {
		t.Fatalf("probeTimeout after one PTO = %v, want %v (double the first)", second, 2*first)
	}
}

func TestOnLossDetectionTimeoutSchedulesProbes(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, CongestionControlCubic)
	sentPacket(&r, packetSpaceApplication, 0, now)
	r.setLossDetectionTimer(now)
	if r.lossDetectionTimer.IsZero() {
		t.Fatal("lossDetectionTimer should be armed while a packet is outstanding")
	}
	r.onLossDetectionTimeout(r.lossDetectionTimer)
	if r.ptoCount != 1 {
		t.Fatalf("ptoCount = %d, want 1", r.ptoCount)
	}
	if r.probes != 2 {
		t.Fatalf("probes = %d, want 2", r.probes)
	}
}

func TestDetectPersistentCongestionResetsWindow(t *testing.T) {
	var r lossRecovery
	t0 := time.Now()
	r.init(t0, CongestionControlCubic)
	sentPacket(&r, packetSpaceApplication, 0, t0)
	sentPacket(&r, packetSpaceApplication, 1, t0.Add(4*time.Second))
	sentPacket(&r, packetSpaceApplication, 5, t0.Add(4*time.Second+time.Millisecond))
	var acked rangeSet
	acked.push(5)
	r.onAckReceived(acked, 0, packetSpaceApplication, t0.Add(4*time.Second+2*time.Millisecond))
	if len(r.lost[packetSpaceApplication]) != 2 {
		t.Fatalf("expected packets 0 and 1 declared lost, got %d lost frames", len(r.lost[packetSpaceApplication]))
	}
	c, ok := r.cc.(*cubicCongestion)
	if !ok {
		t.Fatal("expected cubicCongestion")
	}
	if c.cwnd != c.minWindow {
		t.Fatalf("cwnd = %d, want minWindow %d after persistent congestion spanning 4s", c.cwnd, c.minWindow)
	}
}

func TestDropUnackedDataClearsSpace(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, CongestionControlCubic)
	sentPacket(&r, packetSpaceInitial, 0, now)
	r.dropUnackedData(packetSpaceInitial)
	if len(r.sent[packetSpaceInitial]) != 0 {
		t.Fatal("dropUnackedData should clear outstanding packets")
	}
	if !r.lossTime[packetSpaceInitial].IsZero() {
		t.Fatal("dropUnackedData should clear the loss timer for the space")
	}
}
