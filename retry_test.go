package quic

import (
	"net"
	"testing"
	"time"
)

func TestRetryTokenStateRoundTrip(t *testing.T) {
	rs := newRetryTokenState()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	now := time.Now()
	token, err := rs.seal(now, odcid, addr)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, ok := rs.open(now.Add(time.Second), token, addr)
	if !ok {
		t.Fatal("open should accept a token it just sealed")
	}
	if string(got) != string(odcid) {
		t.Fatalf("recovered odcid = %x, want %x", got, odcid)
	}
}

func TestRetryTokenStateRejectsWrongAddress(t *testing.T) {
	rs := newRetryTokenState()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 4433}
	token, err := rs.seal(time.Now(), []byte{1, 2, 3}, addr)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, ok := rs.open(time.Now(), token, other); ok {
		t.Fatal("open should reject a token replayed from a different address")
	}
}

func TestRetryTokenStateRejectsExpiredToken(t *testing.T) {
	rs := newRetryTokenState()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	issued := time.Now()
	token, err := rs.seal(issued, []byte{1, 2, 3}, addr)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, ok := rs.open(issued.Add(retryTokenValidity+time.Second), token, addr); ok {
		t.Fatal("open should reject a token past retryTokenValidity")
	}
}

func TestRetryTokenStateRejectsGarbage(t *testing.T) {
	rs := newRetryTokenState()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	if _, ok := rs.open(time.Now(), []byte("short"), addr); ok {
		t.Fatal("open should reject a token too short to hold a nonce")
	}
}
