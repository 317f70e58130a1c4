package transport

// flowControl tracks one direction's worth of flow-control bookkeeping
// (RFC 9000 §4) for either the connection as a whole or a single
// stream: how much this endpoint has told the peer it may receive, how
// much data has actually arrived, and the peer-advertised send limit.
type flowControl struct {
	maxRecvInit uint64 // Initial receive window offered to the peer.
	maxRecvNext uint64 // Receive window to advertise on the next MAX_DATA/MAX_STREAM_DATA.
	recvBytes   uint64 // Cumulative bytes received.

	maxSend  uint64 // Send limit advertised by the peer.
	sentBytes uint64 // Cumulative bytes sent.
}

func (s *flowControl) init(maxRecv, maxSend uint64) {
	s.maxRecvInit = maxRecv
	s.maxRecvNext = maxRecv
	s.recvBytes = 0
	s.maxSend = maxSend
	s.sentBytes = 0
}

// canRecv returns how many more bytes this endpoint currently permits
// the peer to send before a FlowControlError would be raised.
func (s *flowControl) canRecv() uint64 {
	if s.maxRecvNext < s.recvBytes {
		return 0
	}
	return s.maxRecvNext - s.recvBytes
}

func (s *flowControl) addRecv(n int) {
	s.recvBytes += uint64(n)
}

// shouldUpdateMaxRecv reports whether the received window has been
// consumed enough (more than half) to warrant advertising a new,
// larger one (RFC 9000 §4.1's auto-tuning guidance).
func (s *flowControl) shouldUpdateMaxRecv() bool {
	return s.recvBytes > s.maxRecvInit/2
}

// commitMaxRecv doubles the advertised receive window after it has
// been sent in a MAX_DATA/MAX_STREAM_DATA frame.
func (s *flowControl) commitMaxRecv() {
	s.maxRecvInit = s.maxRecvNext
	s.maxRecvNext = s.maxRecvInit * 2
	if s.maxRecvNext < s.maxRecvInit {
		s.maxRecvNext = s.maxRecvInit // Overflow guard.
	}
}

func (s *flowControl) setMaxSend(max uint64) {
	if max > s.maxSend {
		s.maxSend = max
	}
}

func (s *flowControl) canSend() uint64 {
	if s.maxSend < s.sentBytes {
		return 0
	}
	return s.maxSend - s.sentBytes
}

func (s *flowControl) addSend(n int) {
	s.sentBytes += uint64(n)
}
