package transport

// cryptoStream is the reliable CRYPTO byte stream carried by one packet
// number space, shared between the connection's frame handling and the
// TLS handshake adapter (tlsHandshake pulls ordered bytes out with
// popRecv and pushes its own output in via send).
type cryptoStream struct {
	recv recvBuffer
	send sendBuffer
}

func (s *cryptoStream) init() {
	s.recv.init()
	s.send.init()
}

// pushRecv buffers newly-received CRYPTO bytes for reassembly.
func (s *cryptoStream) pushRecv(data []byte, offset uint64, fin bool) error {
	return s.recv.push(data, offset, fin)
}

// popRecv drains the next contiguous run of reassembled CRYPTO bytes,
// or nil if the next expected byte has not arrived.
func (s *cryptoStream) popRecv() []byte {
	return s.recv.popRecv()
}

// popSend returns up to left bytes of outgoing handshake data.
func (s *cryptoStream) popSend(left int) ([]byte, uint64, bool) {
	return s.send.popSend(left)
}
