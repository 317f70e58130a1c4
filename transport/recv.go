package transport

import "bytes"

// recvSegment is one contiguously-received chunk of a reliable byte
// stream (CRYPTO data or a STREAM's receive side), ordered and merged
// by offset as data arrives out of order.
type recvSegment struct {
	offset uint64
	data   []byte
}

func (s recvSegment) end() uint64 { return s.offset + uint64(len(s.data)) }

// recvBuffer reassembles a reliable byte stream from out-of-order,
// possibly overlapping chunks (RFC 9000 §2.2). It never requires the
// caller to retransmit in the original chunking.
type recvBuffer struct {
	readOffset uint64 // Bytes [0, readOffset) have been delivered to the consumer.
	segments   []recvSegment

	finalSize uint64
	finSet    bool
}

func (s *recvBuffer) init() {
	s.readOffset = 0
	s.segments = s.segments[:0]
	s.finSet = false
}

// push inserts data received at the given stream offset. Bytes already
// delivered are dropped; bytes overlapping a previously-seen range are
// clipped after verifying they agree with what was already stored,
// raising ProtocolViolation on a mismatch (RFC 9000 §2.2's "MUST NOT
// change" requirement for retransmitted ranges).
func (s *recvBuffer) push(data []byte, offset uint64, fin bool) error {
	if fin {
		end := offset + uint64(len(data))
		if s.finSet && end != s.finalSize {
			return newError(FinalSizeError, "stream: final size changed")
		}
		s.finalSize = end
		s.finSet = true
	} else if s.finSet && offset+uint64(len(data)) > s.finalSize {
		return newError(FinalSizeError, "stream: data beyond final size")
	}
	if len(data) == 0 {
		return nil
	}
	if offset+uint64(len(data)) <= s.readOffset {
		return nil // Fully-seen retransmission.
	}
	if offset < s.readOffset {
		clip := s.readOffset - offset
		data = data[clip:]
		offset = s.readOffset
	}
	// Merge against existing segments, clipping overlaps and checking
	// that overlapping bytes agree with what is already buffered.
	for _, seg := range s.segments {
		if offset >= seg.offset && offset < seg.end() {
			overlap := seg.end() - offset
			if overlap > uint64(len(data)) {
				overlap = uint64(len(data))
			}
			existing := seg.data[offset-seg.offset : offset-seg.offset+overlap]
			if !bytes.Equal(existing, data[:overlap]) {
				return newError(ProtocolViolation, "stream: inconsistent retransmission")
			}
		} else if seg.offset > offset && seg.offset < offset+uint64(len(data)) {
			overlap := offset + uint64(len(data)) - seg.offset
			if overlap > uint64(len(seg.data)) {
				overlap = uint64(len(seg.data))
			}
			rel := seg.offset - offset
			if !bytes.Equal(seg.data[:overlap], data[rel:rel+overlap]) {
				return newError(ProtocolViolation, "stream: inconsistent retransmission")
			}
		}
	}
	s.segments = append(s.segments, recvSegment{offset: offset, data: append([]byte(nil), data...)})
	s.sortMerge()
	return nil
}

func (s *recvBuffer) sortMerge() {
	// Simple insertion sort; segment counts per stream are small in practice.
	for i := 1; i < len(s.segments); i++ {
		for j := i; j > 0 && s.segments[j-1].offset > s.segments[j].offset; j-- {
			s.segments[j-1], s.segments[j] = s.segments[j], s.segments[j-1]
		}
	}
	merged := s.segments[:0]
	for _, seg := range s.segments {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if seg.offset <= last.end() {
				if seg.end() > last.end() {
					extra := seg.end() - last.end()
					last.data = append(last.data, seg.data[uint64(len(seg.data))-extra:]...)
				}
				continue
			}
		}
		merged = append(merged, seg)
	}
	s.segments = merged
}

// popRecv drains and returns the contiguous run of bytes now available
// at the front of the stream, advancing readOffset. It returns nil if
// the next expected byte has not arrived yet.
func (s *recvBuffer) popRecv() []byte {
	if len(s.segments) == 0 || s.segments[0].offset != s.readOffset {
		return nil
	}
	seg := s.segments[0]
	s.segments = s.segments[1:]
	s.readOffset = seg.end()
	return seg.data
}

// read copies available contiguous bytes into b, FIFO, RFC-9000-style.
func (s *recvBuffer) read(b []byte) (int, error) {
	if len(s.segments) == 0 || s.segments[0].offset != s.readOffset {
		if s.finSet && s.readOffset >= s.finalSize {
			return 0, errStreamClosed
		}
		return 0, nil
	}
	seg := &s.segments[0]
	n := copy(b, seg.data)
	s.readOffset += uint64(n)
	if n == len(seg.data) {
		s.segments = s.segments[1:]
	} else {
		seg.data = seg.data[n:]
		seg.offset += uint64(n)
	}
	return n, nil
}

// reset discards all buffered data on RESET_STREAM (RFC 9000 §3.2) and
// returns the number of bytes the application had not yet consumed, so
// the caller can credit them back to connection-level flow control.
func (s *recvBuffer) reset(finalSize uint64) (int, error) {
	if s.finSet && finalSize != s.finalSize {
		return 0, newError(FinalSizeError, "reset_stream: final size changed")
	}
	if finalSize < s.readOffset {
		return 0, newError(FinalSizeError, "reset_stream: final size too small")
	}
	unread := finalSize - s.readOffset
	s.finalSize = finalSize
	s.finSet = true
	s.readOffset = finalSize
	s.segments = s.segments[:0]
	return int(unread), nil
}

var errStreamClosed = newError(NoError, "stream closed")
