package transport

import "time"

// packetSpace is one of the three packet-number spaces a connection
// keeps independent ack/loss state for (RFC 9000 §12.3).
type packetSpace uint8

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

// pnRange is an inclusive range of packet numbers: [start, end].
type pnRange struct {
	start uint64
	end   uint64
}

// rangeSet is an ascending, non-overlapping, non-adjacent set of packet
// number ranges, used both for the received-packets ack bookkeeping and
// for the ack ranges decoded from an ACK frame.
type rangeSet []pnRange

// push inserts pn into the set, merging with adjacent/overlapping ranges.
func (rs *rangeSet) push(pn uint64) {
	s := *rs
	for i := range s {
		if pn >= s[i].start && pn <= s[i].end {
			return // Already present.
		}
		if pn+1 == s[i].start {
			s[i].start = pn
			rs.mergeAt(i)
			return
		}
		if pn == s[i].end+1 {
			s[i].end = pn
			rs.mergeAt(i)
			return
		}
		if pn < s[i].start {
			s2 := append(s, pnRange{})
			copy(s2[i+1:], s2[i:])
			s2[i] = pnRange{start: pn, end: pn}
			*rs = s2
			return
		}
	}
	*rs = append(s, pnRange{start: pn, end: pn})
}

// mergeAt merges range i with its neighbour(s) if they now touch.
func (rs *rangeSet) mergeAt(i int) {
	s := *rs
	if i+1 < len(s) && s[i].end+1 >= s[i+1].start {
		s[i].end = s[i+1].end
		s = append(s[:i+1], s[i+2:]...)
		*rs = s
	}
	if i > 0 && s[i-1].end+1 >= s[i].start {
		s[i-1].end = s[i].end
		s = append(s[:i], s[i+1:]...)
		*rs = s
	}
}

// contains reports whether pn is in any range of the set.
func (rs rangeSet) contains(pn uint64) bool {
	for _, r := range rs {
		if pn >= r.start && pn <= r.end {
			return true
		}
	}
	return false
}

// removeUntil drops every range entirely below or equal to pn, since the
// peer has confirmed receiving the corresponding ACK.
func (rs *rangeSet) removeUntil(pn uint64) {
	s := *rs
	i := 0
	for i < len(s) && s[i].end <= pn {
		i++
	}
	if i > 0 {
		s = append(s[:0], s[i:]...)
	}
	if len(s) > 0 && s[0].start <= pn {
		s[0].start = pn + 1
		if s[0].start > s[0].end {
			s = s[1:]
		}
	}
	*rs = s
}

// outgoingPacket tracks a packet this endpoint has sent but not yet had
// acknowledged or declared lost, used to replay frames on loss.
type outgoingPacket struct {
	packetNumber uint64
	timeSent     time.Time
	size         uint64
	ackEliciting bool
	inFlight     bool
	frames       []frame
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{
		packetNumber: pn,
		timeSent:     now,
	}
}

func (p *outgoingPacket) addFrame(f frame) {
	p.frames = append(p.frames, f)
	if isFrameAckEliciting(frameTypeOf(f)) {
		p.ackEliciting = true
		p.inFlight = true
	}
}

// frameTypeOf recovers the wire frame type of a concrete frame value,
// used only for ack-eliciting classification when tracking sent frames.
func frameTypeOf(f frame) uint64 {
	switch f.(type) {
	case *paddingFrame:
		return frameTypePadding
	case *pingFrame:
		return frameTypePing
	case *ackFrame:
		return frameTypeAck
	case *connectionCloseFrame:
		f := f.(*connectionCloseFrame)
		if f.application {
			return frameTypeApplicationClose
		}
		return frameTypeConnectionClose
	default:
		return frameTypeStream // Any other frame type is ack-eliciting; exact value unused beyond that.
	}
}

// packetNumberSpace holds the per-space packet number counter, ack
// bookkeeping, protection keys and the reliable CRYPTO byte stream for
// one of Initial/Handshake/Application (RFC 9000 §12.3, §17.2).
type packetNumberSpace struct {
	nextPacketNumber uint64

	recvPacketNeedAck     rangeSet
	largestRecvPacketTime time.Time
	ackElicited           bool
	firstPacketAcked      bool

	opener *packetOpener
	sealer *packetSealer

	cryptoStream cryptoStream
}

func (s *packetNumberSpace) init() {
	s.nextPacketNumber = 0
	s.recvPacketNeedAck = s.recvPacketNeedAck[:0]
	s.cryptoStream.init()
}

// reset clears ack/packet-number state while keeping the crypto stream,
// used on Retry/Version-Negotiation before retransmitting Initial.
func (s *packetNumberSpace) reset() {
	s.recvPacketNeedAck = s.recvPacketNeedAck[:0]
	s.ackElicited = false
	s.firstPacketAcked = false
}

// drop discards all keying material and buffered crypto data, called
// once a space is no longer needed (RFC 9000 §4.9, §12.3).
func (s *packetNumberSpace) drop() {
	s.opener = nil
	s.sealer = nil
	s.cryptoStream = cryptoStream{}
}

func (s *packetNumberSpace) canDecrypt() bool { return s.opener != nil }
func (s *packetNumberSpace) canEncrypt() bool { return s.sealer != nil }

// ready reports whether this space has anything worth flushing: a
// pending ACK or buffered crypto bytes.
func (s *packetNumberSpace) ready() bool {
	return s.canEncrypt() && (s.ackElicited || s.cryptoStream.send.ready())
}

func (s *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return s.recvPacketNeedAck.contains(pn)
}

func (s *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	s.recvPacketNeedAck.push(pn)
	s.largestRecvPacketTime = now
}

// decryptPacket removes header protection, recovers the full packet
// number, and opens the AEAD payload. It returns the decrypted payload
// and the total length of the protected packet consumed from b.
func (s *packetNumberSpace) decryptPacket(b []byte, p *packet) ([]byte, int, error) {
	if s.opener == nil {
		return nil, 0, newError(InternalError, "packet number space not readable")
	}
	return s.opener.open(b, p, s.nextPacketNumber)
}

// encryptPacket applies header protection and AEAD sealing in place.
// b must already contain the cleartext header (see packet.encode) and
// frame payload padded up to the reserved AEAD tag length.
func (s *packetNumberSpace) encryptPacket(b []byte, p *packet) {
	if s.sealer == nil {
		return
	}
	s.sealer.seal(b, p)
}
