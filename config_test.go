package quic

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	c := newConfig()
	if c.MaxConnections <= 0 {
		t.Fatal("newConfig should set a positive MaxConnections default")
	}
	if c.TLS == nil {
		t.Fatal("newConfig should set a default TLS config")
	}
	if c.Params.InitialMaxData == 0 {
		t.Fatal("newConfig should set a non-zero InitialMaxData")
	}
}

func TestTransportConfigAppliesResetToken(t *testing.T) {
	c := newConfig()
	token := []byte{1, 2, 3, 4}
	tc := c.transportConfig([]byte("scid"), token)
	if string(tc.Params.StatelessResetToken) != string(token) {
		t.Fatalf("StatelessResetToken = %x, want %x", tc.Params.StatelessResetToken, token)
	}
	// The receiver's own Params must not be mutated by transportConfig.
	if len(c.Params.StatelessResetToken) != 0 {
		t.Fatal("transportConfig should not mutate the Config's own Params")
	}
}

func TestTransportVersionDefaultsToOne(t *testing.T) {
	if v := transportVersion(0); v != 1 {
		t.Fatalf("transportVersion(0) = %d, want 1", v)
	}
	if v := transportVersion(7); v != 7 {
		t.Fatalf("transportVersion(7) = %d, want 7", v)
	}
}
