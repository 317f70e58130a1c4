package quic

import (
	"testing"
	"time"

	"github.com/goburrow/quic/transport"
)

func TestResumptionStateRoundTrip(t *testing.T) {
	state := &ResumptionState{
		Version:    1,
		ServerName: "example.com",
		Params: transport.Parameters{
			MaxIdleTimeout:    30 * time.Second,
			InitialMaxData:    1 << 20,
			ActiveConnIDLimit: 4,
		},
		Ticket: []byte("opaque-ticket-bytes"),
	}
	encoded := EncodeResumptionState(state)
	decoded, err := DecodeResumptionState(encoded)
	if err != nil {
		t.Fatalf("DecodeResumptionState: %v", err)
	}
	if decoded.Version != state.Version {
		t.Fatalf("Version = %d, want %d", decoded.Version, state.Version)
	}
	if decoded.ServerName != state.ServerName {
		t.Fatalf("ServerName = %q, want %q", decoded.ServerName, state.ServerName)
	}
	if string(decoded.Ticket) != string(state.Ticket) {
		t.Fatalf("Ticket = %q, want %q", decoded.Ticket, state.Ticket)
	}
	if decoded.Params.MaxIdleTimeout != state.Params.MaxIdleTimeout {
		t.Fatalf("MaxIdleTimeout = %v, want %v", decoded.Params.MaxIdleTimeout, state.Params.MaxIdleTimeout)
	}
	if decoded.Params.ActiveConnIDLimit != state.Params.ActiveConnIDLimit {
		t.Fatalf("ActiveConnIDLimit = %v, want %v", decoded.Params.ActiveConnIDLimit, state.Params.ActiveConnIDLimit)
	}
}

func TestDecodeResumptionStateRejectsTruncated(t *testing.T) {
	if _, err := DecodeResumptionState([]byte{0, 1, 2}); err == nil {
		t.Fatal("decoding a too-short record should fail")
	}
}
