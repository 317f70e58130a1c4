package quic

import (
	"net"
	"testing"

	"github.com/goburrow/quic/transport"
)

func newTestConn(t *testing.T) Conn {
	t.Helper()
	c := newConfig()
	tr, err := transport.Connect([]byte("clientscid"), c.transportConfig([]byte("clientscid"), nil))
	if err != nil {
		t.Fatalf("transport.Connect: %v", err)
	}
	rc := newRemoteConn(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}, []byte("clientscid"), tr, 1350)
	return Conn{remote: rc}
}

func TestConnStreamNilBeforePeerStreamLimit(t *testing.T) {
	c := newTestConn(t)
	// Stream 0 is a client-initiated bidirectional stream, but the peer's
	// bidirectional stream limit stays 0 until its transport parameters
	// arrive in the handshake, so opening it fails and Conn.Stream reports
	// that as nil.
	if got := c.Stream(0); got != nil {
		t.Fatal("Stream(0) should return nil before the peer has granted any bidirectional streams")
	}
}

func TestConnStreamNilOnInvalidDirection(t *testing.T) {
	c := newTestConn(t)
	// Stream 1 is server-initiated: a client asking for it locally
	// should fail, and Conn.Stream reports that as nil.
	if got := c.Stream(1); got != nil {
		t.Fatal("Stream(1) should return nil for a server-initiated stream requested by a client")
	}
}

func TestConnRemoteAddr(t *testing.T) {
	c := newTestConn(t)
	if c.RemoteAddr().String() != "127.0.0.1:4433" {
		t.Fatalf("RemoteAddr = %v, want 127.0.0.1:4433", c.RemoteAddr())
	}
}

func TestConnSendDatagramFailsBeforeNegotiation(t *testing.T) {
	c := newTestConn(t)
	// The handshake never ran in this test connection, so the peer's
	// max_datagram_frame_size transport parameter is still unknown (zero),
	// meaning the extension is treated as not negotiated.
	if err := c.SendDatagram([]byte("hello")); err == nil {
		t.Fatal("SendDatagram should fail before the peer has negotiated datagram support")
	}
}

func TestConnRecvDatagramEmpty(t *testing.T) {
	c := newTestConn(t)
	if got := c.RecvDatagram(); got != nil {
		t.Fatalf("RecvDatagram on a connection with nothing queued = %v, want nil", got)
	}
}
