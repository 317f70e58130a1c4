package transport

import "fmt"

// isStreamLocal reports whether a stream ID was initiated by this
// endpoint (RFC 9000 §2.1: bit 0 is 0 for client-initiated streams, 1
// for server-initiated).
func isStreamLocal(id uint64, isClient bool) bool {
	return (id&0x1 == 0) == isClient
}

// isStreamBidi reports whether a stream ID names a bidirectional
// stream (RFC 9000 §2.1: bit 1 is 0 for bidirectional).
func isStreamBidi(id uint64) bool {
	return id&0x2 == 0
}

// Stream is one QUIC stream's send and receive half state machines
// (RFC 9000 §3), plus its own flow-control window.
type Stream struct {
	id   uint64
	recv recvBuffer
	send sendBuffer

	flow          flowControl
	connFlow      *flowControl // Connection-level flow control, credited on every app read.
	updateMaxData bool
}

func newStream(id uint64) *Stream {
	st := &Stream{id: id}
	st.recv.init()
	st.send.init()
	return st
}

// pushRecv buffers incoming STREAM data, enforcing the per-stream flow
// control window before reassembly.
func (s *Stream) pushRecv(data []byte, offset uint64, fin bool) error {
	if offset+uint64(len(data)) > s.flow.maxRecvNext {
		return errFlowControl
	}
	if err := s.recv.push(data, offset, fin); err != nil {
		return err
	}
	if end := offset + uint64(len(data)); end > s.flow.recvBytes {
		s.flow.recvBytes = end // Highest stream offset received so far.
	}
	if s.flow.shouldUpdateMaxRecv() {
		s.updateMaxData = true
	}
	return nil
}

// Read drains reassembled bytes for the application. It does not credit
// the connection-level flow control window: recvFrameStream credits that
// window when the data arrives, so reading leaves it unchanged.
func (s *Stream) Read(b []byte) (int, error) {
	n, err := s.recv.read(b)
	if n > 0 && s.connFlow != nil {
		s.connFlow.addRecv(0) // Connection flow control is credited on arrival, not on read.
	}
	return n, err
}

// Write queues application data for sending on the stream.
func (s *Stream) Write(b []byte) (int, error) {
	s.send.write(b)
	return len(b), nil
}

// Close marks the stream's write side as finished (FIN).
func (s *Stream) Close() error {
	s.send.closeWrite()
	return nil
}

// popSend returns up to `left` bytes to place in a STREAM frame,
// capped by the stream's own flow control window in addition to the
// connection-level cap already applied by the caller.
func (s *Stream) popSend(left int) ([]byte, uint64, bool) {
	// Queued retransmissions lie below the limit already; new bytes may
	// not go past the peer's MAX_STREAM_DATA.
	if left > 0 && len(s.send.retransmit) == 0 && s.send.sendOffset+uint64(left) > s.flow.maxSend {
		if s.send.sendOffset < s.flow.maxSend {
			left = int(s.flow.maxSend - s.send.sendOffset)
		} else if s.send.sendOffset < s.send.offset+uint64(len(s.send.data)) {
			left = 0 // Only a pure FIN may go out at the limit.
		}
	}
	return s.send.popSend(left)
}

func (s *Stream) ackMaxData() {
	s.flow.commitMaxRecv()
	s.updateMaxData = false
}

func (s *Stream) String() string {
	return fmt.Sprintf("id=%d recv_offset=%d send_offset=%d", s.id, s.recv.readOffset, s.send.offset)
}

// streamMap owns every stream opened on a connection plus the stream
// count limits negotiated with the peer (RFC 9000 §4.6).
type streamMap struct {
	streams map[uint64]*Stream

	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64
	peerMaxStreamsBidi  uint64
	peerMaxStreamsUni   uint64

	// updateMaxStreamsBidi/Uni mark that localMaxStreamsBidi/Uni need to be
	// (re)advertised to the peer via MAX_STREAMS.
	updateMaxStreamsBidi bool
	updateMaxStreamsUni  bool

	openedBidi uint64
	openedUni  uint64
}

func (s *streamMap) init(maxStreamsBidi, maxStreamsUni uint64) {
	s.streams = make(map[uint64]*Stream)
	s.localMaxStreamsBidi = maxStreamsBidi
	s.localMaxStreamsUni = maxStreamsUni
}

func (s *streamMap) get(id uint64) *Stream {
	return s.streams[id]
}

// create opens a new stream, enforcing the appropriate stream-count
// limit depending on direction and initiator.
func (s *streamMap) create(id uint64, local, bidi bool) (*Stream, error) {
	// The stream's index within its type (id>>2) must be below the limit
	// for that type and initiator.
	if bidi {
		if id>>2 >= s.maxStreamsBidi(local) {
			return nil, newError(StreamLimitError, sprint("bidi stream limit ", id))
		}
		s.openedBidi++
	} else {
		if id>>2 >= s.maxStreamsUni(local) {
			return nil, newError(StreamLimitError, sprint("uni stream limit ", id))
		}
		s.openedUni++
	}
	st := newStream(id)
	s.streams[id] = st
	return st, nil
}

func (s *streamMap) maxStreamsBidi(local bool) uint64 {
	if local {
		return s.peerMaxStreamsBidi
	}
	return s.localMaxStreamsBidi
}

func (s *streamMap) maxStreamsUni(local bool) uint64 {
	if local {
		return s.peerMaxStreamsUni
	}
	return s.localMaxStreamsUni
}

func (s *streamMap) setPeerMaxStreamsBidi(max uint64) {
	if max > s.peerMaxStreamsBidi {
		s.peerMaxStreamsBidi = max
	}
}

func (s *streamMap) setPeerMaxStreamsUni(max uint64) {
	if max > s.peerMaxStreamsUni {
		s.peerMaxStreamsUni = max
	}
}

// hasFlushable reports whether any stream has data, a FIN, or a
// flow-control update worth sending.
func (s *streamMap) hasFlushable() bool {
	for _, st := range s.streams {
		if st.send.ready() || st.updateMaxData {
			return true
		}
	}
	return false
}
