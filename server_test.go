package quic

import "testing"

func TestNewServerUsesDefaultConfigWhenNil(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()
	if s.binding.config == nil {
		t.Fatal("NewServer(nil) should fall back to default config")
	}
}

func TestServerListenAndServeBindsSocket(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()
	if err := s.ListenAndServe("127.0.0.1:0"); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	if s.LocalAddr() == nil {
		t.Fatal("LocalAddr should be non-nil once bound")
	}
}

func TestServerLocalAddrNilBeforeListen(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()
	if s.LocalAddr() != nil {
		t.Fatal("LocalAddr should be nil before ListenAndServe")
	}
}

func TestNewClientUsesDefaultConfigWhenNil(t *testing.T) {
	c := NewClient(nil)
	defer c.Close()
	if c.binding.config == nil {
		t.Fatal("NewClient(nil) should fall back to default config")
	}
}

func TestClientListenAndServeBindsSocket(t *testing.T) {
	c := NewClient(nil)
	defer c.Close()
	if err := c.ListenAndServe("127.0.0.1:0"); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	if c.LocalAddr() == nil {
		t.Fatal("LocalAddr should be non-nil once bound")
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	s := NewServer(nil)
	if err := s.ListenAndServe("127.0.0.1:0"); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
