package transport

import (
	"fmt"
)

// Frame types (RFC 9000 §19, plus RFC 9221 DATAGRAM). Decode methods
// below are called with the frame's leading type-tag byte still in
// the buffer (the dispatcher in conn.go peeks the type with getVarint
// but does not slice it off before calling recvFrameX), so every
// decode() consumes that byte itself and returns the total length
// including it; encode() writes it as b[0] the same way.
const (
	frameTypePadding            = 0x00
	frameTypePing               = 0x01
	frameTypeAck                = 0x02
	frameTypeAckECN             = 0x03
	frameTypeResetStream        = 0x04
	frameTypeStopSending        = 0x05
	frameTypeCrypto             = 0x06
	frameTypeNewToken           = 0x07
	frameTypeStream             = 0x08
	frameTypeStreamEnd          = 0x0f
	frameTypeMaxData            = 0x10
	frameTypeMaxStreamData      = 0x11
	frameTypeMaxStreamsBidi     = 0x12
	frameTypeMaxStreamsUni      = 0x13
	frameTypeDataBlocked        = 0x14
	frameTypeStreamDataBlocked  = 0x15
	frameTypeStreamsBlockedBidi = 0x16
	frameTypeStreamsBlockedUni  = 0x17
	frameTypeNewConnectionID    = 0x18
	frameTypeRetireConnectionID = 0x19
	frameTypePathChallenge      = 0x1a
	frameTypePathResponse       = 0x1b
	frameTypeConnectionClose    = 0x1c
	frameTypeApplicationClose   = 0x1d
	frameTypeHanshakeDone       = 0x1e
	frameTypeDatagram           = 0x30
	frameTypeDatagramWithLength = 0x31
)

// isFrameAckEliciting reports whether a frame of the given type elicits
// an ACK, i.e. is anything other than ACK, PADDING or CONNECTION_CLOSE.
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN,
		frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	}
	return true
}

// frame is implemented by every concrete frame type.
type frame interface {
	encodedLen() int
	encode(b []byte) (int, error)
}

func encodeFrames(b []byte, frames []frame) (int, error) {
	off := 0
	for _, f := range frames {
		n, err := f.encode(b[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

// PADDING

type paddingFrame struct {
	length int
}

func newPaddingFrame(length int) *paddingFrame {
	return &paddingFrame{length: length}
}

func (s *paddingFrame) encodedLen() int { return s.length }

func (s *paddingFrame) encode(b []byte) (int, error) {
	if len(b) < s.length {
		return 0, errShortBuffer
	}
	for i := 0; i < s.length; i++ {
		b[i] = frameTypePadding
	}
	return s.length, nil
}

// decode consumes every consecutive PADDING byte (0x00) starting at b[0].
func (s *paddingFrame) decode(b []byte) (int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	s.length = n
	return n, nil
}

func (s *paddingFrame) String() string { return "padding" }

// PING

type pingFrame struct{}

func (s *pingFrame) encodedLen() int { return 1 }

func (s *pingFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePing
	return 1, nil
}

func (s *pingFrame) decode(b []byte) (int, error) { return 1, nil }

func (s *pingFrame) String() string { return "ping" }

// ACK

type ackRange struct {
	gap    uint64 // Number of contiguous unacknowledged packets preceding this range, minus 1.
	length uint64 // Number of contiguous acknowledged packets in this range, minus 1.
}

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange
}

func newAckFrame(ackDelay uint64, recv rangeSet) *ackFrame {
	f := &ackFrame{ackDelay: ackDelay}
	if len(recv) == 0 {
		return f
	}
	last := recv[len(recv)-1]
	f.largestAck = last.end
	f.firstAckRange = last.end - last.start
	for i := len(recv) - 2; i >= 0; i-- {
		cur := recv[i]
		next := recv[i+1]
		f.ranges = append(f.ranges, ackRange{
			gap:    next.start - cur.end - 2,
			length: cur.end - cur.start,
		})
	}
	return f
}

// toRangeSet reconstructs the ascending set of acknowledged PN ranges,
// or nil if the ranges are internally inconsistent.
func (s *ackFrame) toRangeSet() rangeSet {
	if s.largestAck < s.firstAckRange {
		return nil
	}
	var rs rangeSet
	end := s.largestAck
	start := end - s.firstAckRange
	rs = append(rs, pnRange{start: start, end: end})
	for _, r := range s.ranges {
		if start < r.gap+2+r.length {
			return nil
		}
		end = start - r.gap - 2
		start = end - r.length
		rs = append(rs, pnRange{start: start, end: end})
	}
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return rs
}

func (s *ackFrame) encodedLen() int {
	n := 1 + varintLen(s.largestAck) + varintLen(s.ackDelay) +
		varintLen(uint64(len(s.ranges))) + varintLen(s.firstAckRange)
	for _, r := range s.ranges {
		n += varintLen(r.gap) + varintLen(r.length)
	}
	return n
}

func (s *ackFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeAck
	off++
	off += putVarint(b[off:], s.largestAck)
	off += putVarint(b[off:], s.ackDelay)
	off += putVarint(b[off:], uint64(len(s.ranges)))
	off += putVarint(b[off:], s.firstAckRange)
	for _, r := range s.ranges {
		off += putVarint(b[off:], r.gap)
		off += putVarint(b[off:], r.length)
	}
	return off, nil
}

func (s *ackFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &s.largestAck)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack: largest")
	}
	off += n
	n = getVarint(b[off:], &s.ackDelay)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack: delay")
	}
	off += n
	var count uint64
	n = getVarint(b[off:], &count)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack: count")
	}
	off += n
	n = getVarint(b[off:], &s.firstAckRange)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack: first range")
	}
	off += n
	s.ranges = s.ranges[:0]
	for i := uint64(0); i < count; i++ {
		var r ackRange
		n = getVarint(b[off:], &r.gap)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack: gap")
		}
		off += n
		n = getVarint(b[off:], &r.length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack: range length")
		}
		off += n
		s.ranges = append(s.ranges, r)
	}
	return off, nil
}

func (s *ackFrame) String() string {
	return fmt.Sprintf("ack largest=%d delay=%d ranges=%d", s.largestAck, s.ackDelay, len(s.ranges))
}

// RESET_STREAM

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(streamID, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: streamID, errorCode: errorCode, finalSize: finalSize}
}

func (s *resetStreamFrame) encodedLen() int {
	return 1 + varintLen(s.streamID) + varintLen(s.errorCode) + varintLen(s.finalSize)
}

func (s *resetStreamFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeResetStream
	off++
	off += putVarint(b[off:], s.streamID)
	off += putVarint(b[off:], s.errorCode)
	off += putVarint(b[off:], s.finalSize)
	return off, nil
}

func (s *resetStreamFrame) decode(b []byte) (int, error) {
	off := 1
	for _, v := range []*uint64{&s.streamID, &s.errorCode, &s.finalSize} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return 0, newError(FrameEncodingError, "reset_stream")
		}
		off += n
	}
	return off, nil
}

func (s *resetStreamFrame) String() string {
	return fmt.Sprintf("reset_stream id=%d code=%d final_size=%d", s.streamID, s.errorCode, s.finalSize)
}

// STOP_SENDING

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(streamID, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: streamID, errorCode: errorCode}
}

func (s *stopSendingFrame) encodedLen() int {
	return 1 + varintLen(s.streamID) + varintLen(s.errorCode)
}

func (s *stopSendingFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeStopSending
	off++
	off += putVarint(b[off:], s.streamID)
	off += putVarint(b[off:], s.errorCode)
	return off, nil
}

func (s *stopSendingFrame) decode(b []byte) (int, error) {
	off := 1
	for _, v := range []*uint64{&s.streamID, &s.errorCode} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stop_sending")
		}
		off += n
	}
	return off, nil
}

func (s *stopSendingFrame) String() string {
	return fmt.Sprintf("stop_sending id=%d code=%d", s.streamID, s.errorCode)
}

// CRYPTO

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (s *cryptoFrame) encodedLen() int {
	return 1 + varintLen(s.offset) + varintLen(uint64(len(s.data))) + len(s.data)
}

func (s *cryptoFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeCrypto
	off++
	off += putVarint(b[off:], s.offset)
	off += putVarint(b[off:], uint64(len(s.data)))
	off += copy(b[off:], s.data)
	return off, nil
}

func (s *cryptoFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &s.offset)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto: offset")
	}
	off += n
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto: length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "crypto: data")
	}
	s.data = b[off : off+int(length)]
	off += int(length)
	return off, nil
}

func (s *cryptoFrame) String() string {
	return fmt.Sprintf("crypto offset=%d length=%d", s.offset, len(s.data))
}

// NEW_TOKEN

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func (s *newTokenFrame) encodedLen() int {
	return 1 + varintLen(uint64(len(s.token))) + len(s.token)
}

func (s *newTokenFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeNewToken
	off++
	off += putVarint(b[off:], uint64(len(s.token)))
	off += copy(b[off:], s.token)
	return off, nil
}

func (s *newTokenFrame) decode(b []byte) (int, error) {
	off := 1
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_token: length")
	}
	off += n
	if uint64(len(b)-off) < length || length == 0 {
		return 0, newError(FrameEncodingError, "new_token: data")
	}
	s.token = b[off : off+int(length)]
	off += int(length)
	return off, nil
}

func (s *newTokenFrame) String() string { return fmt.Sprintf("new_token token=%x", s.token) }

// STREAM

type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
}

func newStreamFrame(streamID uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: streamID, data: data, offset: offset, fin: fin}
}

func (s *streamFrame) encodedLen() int {
	n := 1 + varintLen(s.streamID)
	if s.offset > 0 {
		n += varintLen(s.offset)
	}
	n += varintLen(uint64(len(s.data))) + len(s.data)
	return n
}

func (s *streamFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	typ := uint8(frameTypeStream) | 0x02 // always include explicit length
	if s.offset > 0 {
		typ |= 0x04
	}
	if s.fin {
		typ |= 0x01
	}
	b[off] = typ
	off++
	off += putVarint(b[off:], s.streamID)
	if s.offset > 0 {
		off += putVarint(b[off:], s.offset)
	}
	off += putVarint(b[off:], uint64(len(s.data)))
	off += copy(b[off:], s.data)
	return off, nil
}

// decode reads the type byte itself to recover the OFF/LEN/FIN bits.
func (s *streamFrame) decode(b []byte) (int, error) {
	typ := b[0]
	off := 1
	n := getVarint(b[off:], &s.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream: id")
	}
	off += n
	s.offset = 0
	if typ&0x04 != 0 {
		n = getVarint(b[off:], &s.offset)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream: offset")
		}
		off += n
	}
	var length uint64
	if typ&0x02 != 0 {
		n = getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream: length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "stream: data")
	}
	s.data = b[off : off+int(length)]
	off += int(length)
	s.fin = typ&0x01 != 0
	return off, nil
}

func (s *streamFrame) String() string {
	return fmt.Sprintf("stream id=%d offset=%d length=%d fin=%v", s.streamID, s.offset, len(s.data), s.fin)
}

// MAX_DATA

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }

func (s *maxDataFrame) encodedLen() int { return 1 + varintLen(s.maximumData) }

func (s *maxDataFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = frameTypeMaxData
	n := putVarint(b[1:], s.maximumData)
	return 1 + n, nil
}

func (s *maxDataFrame) decode(b []byte) (int, error) {
	n := getVarint(b[1:], &s.maximumData)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_data")
	}
	return 1 + n, nil
}

func (s *maxDataFrame) String() string { return fmt.Sprintf("max_data max=%d", s.maximumData) }

// MAX_STREAM_DATA

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(streamID, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: streamID, maximumData: max}
}

func (s *maxStreamDataFrame) encodedLen() int {
	return 1 + varintLen(s.streamID) + varintLen(s.maximumData)
}

func (s *maxStreamDataFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeMaxStreamData
	off++
	off += putVarint(b[off:], s.streamID)
	off += putVarint(b[off:], s.maximumData)
	return off, nil
}

func (s *maxStreamDataFrame) decode(b []byte) (int, error) {
	off := 1
	for _, v := range []*uint64{&s.streamID, &s.maximumData} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return 0, newError(FrameEncodingError, "max_stream_data")
		}
		off += n
	}
	return off, nil
}

func (s *maxStreamDataFrame) String() string {
	return fmt.Sprintf("max_stream_data id=%d max=%d", s.streamID, s.maximumData)
}

// MAX_STREAMS

type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: max, bidi: bidi}
}

func (s *maxStreamsFrame) encodedLen() int { return 1 + varintLen(s.maximumStreams) }

func (s *maxStreamsFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	if s.bidi {
		b[0] = frameTypeMaxStreamsBidi
	} else {
		b[0] = frameTypeMaxStreamsUni
	}
	n := putVarint(b[1:], s.maximumStreams)
	return 1 + n, nil
}

func (s *maxStreamsFrame) decode(b []byte) (int, error) {
	s.bidi = b[0] == frameTypeMaxStreamsBidi
	n := getVarint(b[1:], &s.maximumStreams)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_streams")
	}
	return 1 + n, nil
}

func (s *maxStreamsFrame) String() string {
	return fmt.Sprintf("max_streams bidi=%v max=%d", s.bidi, s.maximumStreams)
}

// DATA_BLOCKED

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: limit} }

func (s *dataBlockedFrame) encodedLen() int { return 1 + varintLen(s.dataLimit) }

func (s *dataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = frameTypeDataBlocked
	n := putVarint(b[1:], s.dataLimit)
	return 1 + n, nil
}

func (s *dataBlockedFrame) decode(b []byte) (int, error) {
	n := getVarint(b[1:], &s.dataLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "data_blocked")
	}
	return 1 + n, nil
}

func (s *dataBlockedFrame) String() string { return fmt.Sprintf("data_blocked limit=%d", s.dataLimit) }

// STREAM_DATA_BLOCKED

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(streamID, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: streamID, dataLimit: limit}
}

func (s *streamDataBlockedFrame) encodedLen() int {
	return 1 + varintLen(s.streamID) + varintLen(s.dataLimit)
}

func (s *streamDataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeStreamDataBlocked
	off++
	off += putVarint(b[off:], s.streamID)
	off += putVarint(b[off:], s.dataLimit)
	return off, nil
}

func (s *streamDataBlockedFrame) decode(b []byte) (int, error) {
	off := 1
	for _, v := range []*uint64{&s.streamID, &s.dataLimit} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream_data_blocked")
		}
		off += n
	}
	return off, nil
}

func (s *streamDataBlockedFrame) String() string {
	return fmt.Sprintf("stream_data_blocked id=%d limit=%d", s.streamID, s.dataLimit)
}

// STREAMS_BLOCKED

type streamsBlockedFrame struct {
	streamLimit uint64
	bidi        bool
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{streamLimit: limit, bidi: bidi}
}

func (s *streamsBlockedFrame) encodedLen() int { return 1 + varintLen(s.streamLimit) }

func (s *streamsBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	if s.bidi {
		b[0] = frameTypeStreamsBlockedBidi
	} else {
		b[0] = frameTypeStreamsBlockedUni
	}
	n := putVarint(b[1:], s.streamLimit)
	return 1 + n, nil
}

func (s *streamsBlockedFrame) decode(b []byte) (int, error) {
	s.bidi = b[0] == frameTypeStreamsBlockedBidi
	n := getVarint(b[1:], &s.streamLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "streams_blocked")
	}
	return 1 + n, nil
}

func (s *streamsBlockedFrame) String() string {
	return fmt.Sprintf("streams_blocked bidi=%v limit=%d", s.bidi, s.streamLimit)
}

// NEW_CONNECTION_ID

type newConnectionIDFrame struct {
	sequenceNumber uint64
	retirePriorTo  uint64
	connectionID   []byte
	resetToken     [16]byte
}

func (s *newConnectionIDFrame) encodedLen() int {
	return 1 + varintLen(s.sequenceNumber) + varintLen(s.retirePriorTo) + 1 + len(s.connectionID) + 16
}

func (s *newConnectionIDFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeNewConnectionID
	off++
	off += putVarint(b[off:], s.sequenceNumber)
	off += putVarint(b[off:], s.retirePriorTo)
	b[off] = byte(len(s.connectionID))
	off++
	off += copy(b[off:], s.connectionID)
	off += copy(b[off:], s.resetToken[:])
	return off, nil
}

func (s *newConnectionIDFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &s.sequenceNumber)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_connection_id: seq")
	}
	off += n
	n = getVarint(b[off:], &s.retirePriorTo)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_connection_id: retire")
	}
	off += n
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "new_connection_id: len")
	}
	cidLen := int(b[off])
	off++
	if cidLen > MaxCIDLength || len(b)-off < cidLen+16 {
		return 0, newError(FrameEncodingError, "new_connection_id: cid")
	}
	s.connectionID = append(s.connectionID[:0], b[off:off+cidLen]...)
	off += cidLen
	copy(s.resetToken[:], b[off:off+16])
	off += 16
	return off, nil
}

func (s *newConnectionIDFrame) String() string {
	return fmt.Sprintf("new_connection_id seq=%d retire_prior_to=%d cid=%x", s.sequenceNumber, s.retirePriorTo, s.connectionID)
}

// RETIRE_CONNECTION_ID

type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func (s *retireConnectionIDFrame) encodedLen() int { return 1 + varintLen(s.sequenceNumber) }

func (s *retireConnectionIDFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = frameTypeRetireConnectionID
	n := putVarint(b[1:], s.sequenceNumber)
	return 1 + n, nil
}

func (s *retireConnectionIDFrame) decode(b []byte) (int, error) {
	n := getVarint(b[1:], &s.sequenceNumber)
	if n == 0 {
		return 0, newError(FrameEncodingError, "retire_connection_id")
	}
	return 1 + n, nil
}

func (s *retireConnectionIDFrame) String() string {
	return fmt.Sprintf("retire_connection_id seq=%d", s.sequenceNumber)
}

// PATH_CHALLENGE / PATH_RESPONSE

type pathChallengeFrame struct {
	data [8]byte
}

func (s *pathChallengeFrame) encodedLen() int { return 9 }

func (s *pathChallengeFrame) encode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePathChallenge
	copy(b[1:9], s.data[:])
	return 9, nil
}

func (s *pathChallengeFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_challenge")
	}
	copy(s.data[:], b[1:9])
	return 9, nil
}

func (s *pathChallengeFrame) String() string { return fmt.Sprintf("path_challenge data=%x", s.data) }

type pathResponseFrame struct {
	data [8]byte
}

func (s *pathResponseFrame) encodedLen() int { return 9 }

func (s *pathResponseFrame) encode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePathResponse
	copy(b[1:9], s.data[:])
	return 9, nil
}

func (s *pathResponseFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_response")
	}
	copy(s.data[:], b[1:9])
	return 9, nil
}

func (s *pathResponseFrame) String() string { return fmt.Sprintf("path_response data=%x", s.data) }

// CONNECTION_CLOSE

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{
		application:  application,
		errorCode:    errorCode,
		frameType:    frameType,
		reasonPhrase: reason,
	}
}

func (s *connectionCloseFrame) encodedLen() int {
	n := 1 + varintLen(s.errorCode)
	if !s.application {
		n += varintLen(s.frameType)
	}
	n += varintLen(uint64(len(s.reasonPhrase))) + len(s.reasonPhrase)
	return n
}

func (s *connectionCloseFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	if s.application {
		b[off] = frameTypeApplicationClose
	} else {
		b[off] = frameTypeConnectionClose
	}
	off++
	off += putVarint(b[off:], s.errorCode)
	if !s.application {
		off += putVarint(b[off:], s.frameType)
	}
	off += putVarint(b[off:], uint64(len(s.reasonPhrase)))
	off += copy(b[off:], s.reasonPhrase)
	return off, nil
}

// decode reads the type byte itself to distinguish transport vs
// application closes.
func (s *connectionCloseFrame) decode(b []byte) (int, error) {
	s.application = b[0] == frameTypeApplicationClose
	off := 1
	n := getVarint(b[off:], &s.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close: code")
	}
	off += n
	if !s.application {
		n = getVarint(b[off:], &s.frameType)
		if n == 0 {
			return 0, newError(FrameEncodingError, "connection_close: frame type")
		}
		off += n
	}
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close: reason length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "connection_close: reason")
	}
	s.reasonPhrase = append(s.reasonPhrase[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (s *connectionCloseFrame) String() string {
	return fmt.Sprintf("connection_close app=%v code=%s reason=%q", s.application, errorCodeString(s.errorCode), s.reasonPhrase)
}

// HANDSHAKE_DONE

type handshakeDoneFrame struct{}

func (s *handshakeDoneFrame) encodedLen() int { return 1 }

func (s *handshakeDoneFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypeHanshakeDone
	return 1, nil
}

func (s *handshakeDoneFrame) decode(b []byte) (int, error) { return 1, nil }

func (s *handshakeDoneFrame) String() string { return "handshake_done" }

// DATAGRAM (RFC 9221)

type datagramFrame struct {
	data []byte
}

func newDatagramFrame(data []byte) *datagramFrame { return &datagramFrame{data: data} }

func (s *datagramFrame) encodedLen() int {
	return 1 + varintLen(uint64(len(s.data))) + len(s.data)
}

func (s *datagramFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = frameTypeDatagramWithLength
	off++
	off += putVarint(b[off:], uint64(len(s.data)))
	off += copy(b[off:], s.data)
	return off, nil
}

func (s *datagramFrame) decode(b []byte) (int, error) {
	withLength := b[0] == frameTypeDatagramWithLength
	off := 1
	var length uint64
	if withLength {
		n := getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "datagram: length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "datagram: data")
	}
	s.data = append(s.data[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (s *datagramFrame) String() string { return fmt.Sprintf("datagram length=%d", len(s.data)) }
