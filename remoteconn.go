package quic

import (
	"net"

	"github.com/google/uuid"
	"github.com/goburrow/quic/transport"
)

// remoteConn binds a transport.Conn to the UDP peer it talks to and the
// local source CID the binding dispatches packets on.
type remoteConn struct {
	id   uuid.UUID // Local handle for log correlation, never sent on the wire.
	addr net.Addr
	scid []byte
	conn *transport.Conn

	established bool // Whether EventConnAccept has already been reported.

	// extraSCIDs holds every additional local connection ID issued via
	// NEW_CONNECTION_ID beyond the original scid, each registered in the
	// same cidRegistry pointing back at this remoteConn. All of them must
	// be removed from the registry when the connection closes.
	extraSCIDs [][]byte

	recvBuf []byte
	sendBuf []byte
}

func newRemoteConn(addr net.Addr, scid []byte, conn *transport.Conn, bufSize int) *remoteConn {
	return &remoteConn{
		id:      uuid.New(),
		addr:    addr,
		scid:    scid,
		conn:    conn,
		recvBuf: make([]byte, bufSize),
		sendBuf: make([]byte, bufSize),
	}
}

// Conn is the application-facing handle for one QUIC connection, handed
// to Handler.Serve alongside the events accumulated since the last call.
type Conn struct {
	remote *remoteConn
}

// RemoteAddr returns the address of the peer this connection talks to.
func (c Conn) RemoteAddr() net.Addr {
	return c.remote.addr
}

// Stream returns the stream with the given ID, or nil if it does not
// exist (either never opened or already closed).
func (c Conn) Stream(id uint64) *transport.Stream {
	st, err := c.remote.conn.Stream(id)
	if err != nil {
		return nil
	}
	return st
}

// Close closes the connection, sending a CONNECTION_CLOSE frame to the
// peer if the connection is still open.
func (c Conn) Close(errCode uint64, reason string) {
	c.remote.conn.Close(true, errCode, reason)
}

// SendDatagram queues an unreliable application datagram (RFC 9221). It
// returns an error if the peer hasn't negotiated datagram support or the
// send queue is full.
func (c Conn) SendDatagram(data []byte) error {
	return c.remote.conn.SendDatagram(data)
}

// RecvDatagram drains the oldest received application datagram, or
// returns nil if none is queued.
func (c Conn) RecvDatagram() []byte {
	return c.remote.conn.RecvDatagram()
}

// Handler processes the events accumulated on a connection since the
// last call. A connection's events are always delivered to the worker
// that owns the connection, so a single Handler instance never needs
// its own locking to stay consistent for a given connection.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}
