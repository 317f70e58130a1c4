package transport

// sendSegment is a chunk of application data queued for (re)transmission
// at a specific stream offset. Lost frames are pushed back as segments
// ahead of fresh data so retransmissions are prioritized.
type sendSegment struct {
	offset uint64
	data   []byte
	fin    bool
}

// sendBuffer is the reliable write side of a CRYPTO or STREAM byte
// stream: an application write queue plus a retransmit queue fed by
// lost packets, with acked bytes trimmed lazily.
//
// idealBytes is a write buffering target: ack doubles it whenever the
// bytes still buffered after trimming reach it, and Write does not
// consult it. It is never shrunk by a RESET_STREAM or
// STOP_SENDING-driven cancellation — cancelling a stream does not mean
// the application is done writing large amounts of data in general.
type sendSegments []sendSegment

type sendBuffer struct {
	data       []byte
	offset     uint64 // Stream offset of data[0].
	sendOffset uint64 // Next unsent offset within [offset, offset+len(data)).

	retransmit sendSegments

	finSize uint64
	finSet  bool

	acked      rangeSet // Byte-offset ranges the peer has acked.
	idealBytes int
}

const initialIdealBytes = 4096

func (s *sendBuffer) init() {
	s.data = s.data[:0]
	s.offset = 0
	s.sendOffset = 0
	s.retransmit = s.retransmit[:0]
	s.finSet = false
	s.acked = s.acked[:0]
	s.idealBytes = initialIdealBytes
}

// write appends application bytes to the end of the stream.
func (s *sendBuffer) write(b []byte) {
	s.data = append(s.data, b...)
}

// closeWrite marks the stream's final size at the current write offset.
func (s *sendBuffer) closeWrite() {
	s.finSet = true
	s.finSize = s.offset + uint64(len(s.data))
}

// push re-queues a previously-sent range for retransmission (called
// when recovery detects the packet carrying it as lost).
func (s *sendBuffer) push(data []byte, offset uint64, fin bool) error {
	s.retransmit = append(s.retransmit, sendSegment{offset: offset, data: data, fin: fin})
	return nil
}

// ready reports whether there is anything worth sending: queued
// retransmissions, unsent fresh bytes, or a pending FIN.
func (s *sendBuffer) ready() bool {
	if len(s.retransmit) > 0 {
		return true
	}
	if s.sendOffset < s.offset+uint64(len(s.data)) {
		return true
	}
	return s.finSet && !s.finSent()
}

func (s *sendBuffer) finSent() bool {
	return s.finSet && s.sendOffset >= s.finSize && len(s.data) == 0 && s.offset >= s.finSize
}

// popSend returns up to `left` bytes to place into a STREAM/CRYPTO
// frame, preferring queued retransmissions (in FIFO order) over fresh
// data, and reports whether the returned chunk carries the stream FIN.
func (s *sendBuffer) popSend(left int) ([]byte, uint64, bool) {
	if left <= 0 {
		return nil, 0, false
	}
	if len(s.retransmit) > 0 {
		seg := s.retransmit[0]
		if len(seg.data) <= left {
			s.retransmit = s.retransmit[1:]
			return seg.data, seg.offset, seg.fin
		}
		part := seg.data[:left]
		s.retransmit[0] = sendSegment{offset: seg.offset + uint64(left), data: seg.data[left:], fin: seg.fin}
		return part, seg.offset, false
	}
	avail := int(uint64(len(s.data)) - (s.sendOffset - s.offset))
	if avail > 0 {
		n := avail
		if n > left {
			n = left
		}
		start := s.sendOffset - s.offset
		data := s.data[start : start+uint64(n)]
		offset := s.sendOffset
		s.sendOffset += uint64(n)
		fin := s.finSet && s.sendOffset == s.finSize && n == avail
		return data, offset, fin
	}
	if s.finSet && s.sendOffset == s.finSize && left >= 0 {
		// Pure FIN with no data left to send.
		fin := !s.finAcked()
		if fin {
			return []byte{}, s.finSize, true
		}
	}
	return nil, 0, false
}

func (s *sendBuffer) finAcked() bool {
	return s.finSet && s.acked.contains(s.finSize)
}

// ack records that [offset, offset+length) has been acknowledged and
// trims fully-acked bytes from the front of the write buffer.
func (s *sendBuffer) ack(offset, length uint64) {
	if length == 0 {
		return
	}
	end := offset + length - 1
	for pn := offset; pn <= end; pn++ {
		s.acked.push(pn)
	}
	if s.finSet {
		s.acked.push(s.finSize) // FIN consumes one "virtual" byte offset.
	}
	for len(s.data) > 0 && s.acked.contains(s.offset) {
		s.offset++
		s.data = s.data[1:]
	}
	if len(s.data) >= s.idealBytes {
		s.idealBytes *= 2
	}
}

// complete reports whether every byte up to and including FIN has been
// acknowledged.
func (s *sendBuffer) complete() bool {
	return s.finSet && s.finAcked() && len(s.data) == 0
}
