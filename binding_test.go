package quic

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/goburrow/quic/transport"
)

// buildInitial assembles a minimal, unencrypted-header long-header
// Initial packet: just enough for dispatch's PeekConnectionIDs/PeekInitial
// parsing to route it, padded with zeroes out to totalLen.
func buildInitial(version uint32, dcid, scid, token []byte, totalLen int) []byte {
	b := []byte{0x80 | 0x40}
	b = append(b, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = append(b, byte(len(token)))
	b = append(b, token...)
	for len(b) < totalLen {
		b = append(b, 0)
	}
	return b
}

func TestBindingAllowRateLimitsPerAddress(t *testing.T) {
	b := newBinding(newConfig())
	defer b.close()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
	allowed := 0
	for i := 0; i < 10; i++ {
		if b.allow(addr) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("allowed = %d, want 5 (the configured burst)", allowed)
	}
}

func TestBindingAllowTracksAddressesIndependently(t *testing.T) {
	b := newBinding(newConfig())
	defer b.close()
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	c := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}
	for i := 0; i < 5; i++ {
		if !b.allow(a) {
			t.Fatalf("address a should have burst capacity on attempt %d", i)
		}
	}
	if !b.allow(c) {
		t.Fatal("a different address should have its own independent bucket")
	}
}

func TestBindingAllowEvictsOldestWhenTableFull(t *testing.T) {
	b := newBinding(newConfig())
	defer b.close()
	for i := 0; i < maxRateTableSize; i++ {
		b.allow(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: i + 1})
	}
	if len(b.rateTable) != maxRateTableSize {
		t.Fatalf("rateTable size = %d, want %d", len(b.rateTable), maxRateTableSize)
	}
	first := (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}).String()
	if _, ok := b.rateTable[first]; !ok {
		t.Fatal("the oldest entry should still be present before the table overflows")
	}
	b.allow(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: maxRateTableSize + 2})
	if len(b.rateTable) != maxRateTableSize {
		t.Fatalf("rateTable size after overflow = %d, want capped at %d", len(b.rateTable), maxRateTableSize)
	}
	if _, ok := b.rateTable[first]; ok {
		t.Fatal("the oldest entry should have been evicted once the table overflowed")
	}
}

func TestBindingAddSourceCIDRetriesOnCollision(t *testing.T) {
	b := newBinding(newConfig())
	defer b.close()
	collidingSCID := bytes.Repeat([]byte{0x42}, 20)
	existing := newTestRemoteConn(string(collidingSCID))
	b.registry.add(existing)

	rc := newTestRemoteConn(string(collidingSCID))
	if err := b.addSourceCID(rc); err != nil {
		t.Fatalf("addSourceCID: %v", err)
	}
	if bytes.Equal(rc.scid, collidingSCID) {
		t.Fatal("addSourceCID should have assigned a fresh CID after the collision")
	}
	if got := b.registry.get(rc.scid); got != rc {
		t.Fatal("addSourceCID should register rc under its final CID")
	}
}

func TestDispatchSendsVersionNegotiationForUnsupportedVersion(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()
	if err := s.ListenAndServe("127.0.0.1:0"); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer client.Close()
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	pkt := buildInitial(0xdeadbeef, dcid, scid, nil, 40)
	if _, err := client.WriteTo(pkt, s.LocalAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	resp := buf[:n]
	if resp[0]&0x80 == 0 {
		t.Fatal("response should be a long header packet")
	}
	if resp[1] != 0 || resp[2] != 0 || resp[3] != 0 || resp[4] != 0 {
		t.Fatal("version negotiation response must carry an all-zero version")
	}
}

func TestDispatchSendsRetryWhenRequired(t *testing.T) {
	cfg := newConfig()
	cfg.RequireRetry = true
	s := NewServer(cfg)
	defer s.Close()
	if err := s.ListenAndServe("127.0.0.1:0"); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer client.Close()
	dcid := bytes.Repeat([]byte{0x11}, 8)
	scid := bytes.Repeat([]byte{0x22}, 8)
	pkt := buildInitial(transport.Version1, dcid, scid, nil, transport.MinInitialPacketSize)
	if _, err := client.WriteTo(pkt, s.LocalAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	resp := buf[:n]
	if resp[0]&0x80 == 0 {
		t.Fatal("response should be a long header packet")
	}
	if (resp[0]>>4)&0x03 != 0x03 {
		t.Fatal("response should be a Retry packet (long header type 0x03)")
	}
}

func TestSameIPIgnoresPort(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	b := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}
	if !sameIP(a, b) {
		t.Fatal("sameIP should ignore the port and compare only the IP")
	}
}

func TestSameIPDetectsDifferentIP(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	b := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 1}
	if sameIP(a, b) {
		t.Fatal("sameIP should report false for different IPs")
	}
}

func TestMaybeMigrateNoopsBeforeHandshakeEstablished(t *testing.T) {
	cfg := newConfig()
	tr, err := transport.Connect([]byte("clientscid"), cfg.transportConfig([]byte("clientscid"), nil))
	if err != nil {
		t.Fatalf("transport.Connect: %v", err)
	}
	original := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
	rc := newRemoteConn(original, []byte("clientscid"), tr, 1350)
	b := newBinding(cfg)
	defer b.close()
	newAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
	b.maybeMigrate(rc, newAddr)
	if rc.addr.String() != original.String() {
		t.Fatal("maybeMigrate should not swap the address before the handshake is established")
	}
}

func TestIssueExtraCIDsNoopsBeforeEstablished(t *testing.T) {
	cfg := newConfig()
	tr, err := transport.Connect([]byte("clientscid"), cfg.transportConfig([]byte("clientscid"), nil))
	if err != nil {
		t.Fatalf("transport.Connect: %v", err)
	}
	rc := newRemoteConn(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}, []byte("clientscid"), tr, 1350)
	b := newBinding(cfg)
	defer b.close()
	b.issueExtraCIDs(rc)
	if len(rc.extraSCIDs) != 0 {
		t.Fatal("issueExtraCIDs should not register any alias CIDs before the connection is established")
	}
}

func TestBindingAddSourceCIDNoCollision(t *testing.T) {
	b := newBinding(newConfig())
	defer b.close()
	rc := newTestRemoteConn("freshcid")
	if err := b.addSourceCID(rc); err != nil {
		t.Fatalf("addSourceCID: %v", err)
	}
	if got := b.registry.get([]byte("freshcid")); got != rc {
		t.Fatal("addSourceCID should register rc under its original CID when there's no collision")
	}
}
