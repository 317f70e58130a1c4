package transport

import "fmt"

// packetType identifies the QUIC packet forms of RFC 9000 §17.
type packetType uint8

const (
	packetTypeInitial packetType = iota + 1
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "1-RTT"
	default:
		return "unknown"
	}
}

// packetTypeFromSpace returns the packet type used to carry a given
// packet-number space's payload.
func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

// packetHeader is the common long/short header fields (RFC 9000 §17.2/17.3).
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8 // Expected DCID length, used only to decode a short header.
}

// packet represents one QUIC packet, before or after protection.
type packet struct {
	typ    packetType
	header packetHeader

	token        []byte
	packetNumber uint64
	packetNumberLen int

	payloadLen int // On decode: remaining length field. On encode: caller sets before Encode.
	headerLen  int // Bytes consumed by decodeHeader, set by decodeHeader.

	// keyPhase is the short header's key phase bit (RFC 9000 §17.3.1): on
	// encode the caller sets it to the phase the packet should be sent
	// under; on decode packetOpener.open fills it in once header
	// protection is removed. Meaningless for long-header packet types.
	keyPhase bool

	supportedVersions []uint32
}

func (p *packet) String() string {
	return fmt.Sprintf("type=%s pn=%d dcid=%x scid=%x", p.typ, p.packetNumber, p.header.dcid, p.header.scid)
}

// decodeHeader parses enough of the header to route the packet: the
// long/short header bit, the version (long header only), and the
// connection IDs. Packet-number decoding is deferred to
// packetNumberSpace.decryptPacket since it requires header protection
// removal using the negotiated AEAD keys.
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "packet: empty")
	}
	first := b[0]
	off := 1
	if first&0x80 == 0 {
		p.typ = packetTypeShort
		dcil := int(p.header.dcil)
		if len(b) < off+dcil {
			return 0, newError(FrameEncodingError, "packet: short dcid")
		}
		p.header.dcid = b[off : off+dcil]
		p.header.scid = nil
		off += dcil
		p.headerLen = off
		return off, nil
	}
	if len(b) < off+4 {
		return 0, newError(FrameEncodingError, "packet: version")
	}
	p.header.version = uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	off += 4
	if p.header.version == 0 {
		p.typ = packetTypeVersionNegotiation
	} else {
		switch (first >> 4) & 0x03 {
		case 0x00:
			p.typ = packetTypeInitial
		case 0x01:
			p.typ = packetTypeZeroRTT
		case 0x02:
			p.typ = packetTypeHandshake
		case 0x03:
			p.typ = packetTypeRetry
		}
	}
	if len(b) < off+1 {
		return 0, newError(FrameEncodingError, "packet: dcid length")
	}
	dcidLen := int(b[off])
	off++
	if dcidLen > MaxCIDLength || len(b) < off+dcidLen {
		return 0, newError(FrameEncodingError, "packet: dcid")
	}
	p.header.dcid = b[off : off+dcidLen]
	off += dcidLen
	if len(b) < off+1 {
		return 0, newError(FrameEncodingError, "packet: scid length")
	}
	scidLen := int(b[off])
	off++
	if scidLen > MaxCIDLength || len(b) < off+scidLen {
		return 0, newError(FrameEncodingError, "packet: scid")
	}
	p.header.scid = b[off : off+scidLen]
	off += scidLen
	p.headerLen = off
	return off, nil
}

// decodeBody continues parsing for the two packet types the connection
// core handles directly, before any AEAD is involved: Version
// Negotiation (a plain list of versions) and Retry (an opaque token,
// terminated by a 16-byte integrity tag the caller verifies separately
// with verifyRetryIntegrity).
func (p *packet) decodeBody(b []byte) (int, error) {
	off := p.headerLen
	switch p.typ {
	case packetTypeVersionNegotiation:
		p.supportedVersions = p.supportedVersions[:0]
		for off+4 <= len(b) {
			v := uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
			p.supportedVersions = append(p.supportedVersions, v)
			off += 4
		}
		return off - p.headerLen, nil
	case packetTypeRetry:
		if len(b)-off < retryIntegrityTagLength {
			return 0, newError(FrameEncodingError, "packet: retry too short")
		}
		p.token = b[off : len(b)-retryIntegrityTagLength]
		return len(b) - p.headerLen, nil
	default:
		return 0, newError(InternalError, "packet: decodeBody not applicable")
	}
}

// encodedLen returns the number of header bytes (excluding AEAD
// overhead) encode will write, given payloadLen already accounts for
// the packet number and protected payload (including any AEAD tag).
func (p *packet) encodedLen() int {
	if p.typ == packetTypeShort {
		return 1 + len(p.header.dcid) + defaultPacketNumberLen
	}
	n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
	if p.typ == packetTypeInitial {
		n += varintLen(uint64(len(p.token))) + len(p.token)
	}
	n += varintLen(uint64(p.payloadLen))
	n += defaultPacketNumberLen
	return n
}

// encode writes the (unprotected) packet header into b and returns the
// offset at which the packet-number-protected payload begins. The
// caller is responsible for header protection and AEAD sealing.
func (p *packet) encode(b []byte) (int, error) {
	if len(b) < p.encodedLen() {
		return 0, errShortBuffer
	}
	if p.typ == packetTypeShort {
		return p.encodeShort(b)
	}
	off := 0
	first := byte(0x80) | byte(0x40) // long header, fixed bit
	switch p.typ {
	case packetTypeInitial:
		first |= 0x00 << 4
	case packetTypeZeroRTT:
		first |= 0x01 << 4
	case packetTypeHandshake:
		first |= 0x02 << 4
	case packetTypeRetry:
		first |= 0x03 << 4
	}
	first |= byte(defaultPacketNumberLen - 1)
	b[off] = first
	off++
	b[off] = byte(p.header.version >> 24)
	b[off+1] = byte(p.header.version >> 16)
	b[off+2] = byte(p.header.version >> 8)
	b[off+3] = byte(p.header.version)
	off += 4
	b[off] = byte(len(p.header.dcid))
	off++
	off += copy(b[off:], p.header.dcid)
	b[off] = byte(len(p.header.scid))
	off++
	off += copy(b[off:], p.header.scid)
	if p.typ == packetTypeInitial {
		off += putVarint(b[off:], uint64(len(p.token)))
		off += copy(b[off:], p.token)
	}
	off += putVarint(b[off:], uint64(p.payloadLen))
	p.packetNumberLen = defaultPacketNumberLen
	for i := 0; i < defaultPacketNumberLen; i++ {
		shift := uint(defaultPacketNumberLen-1-i) * 8
		b[off+i] = byte(p.packetNumber >> shift)
	}
	off += defaultPacketNumberLen
	return off, nil
}

// encodeShort writes a 1-RTT short header (RFC 9000 §17.3.1): form bit
// 0, fixed bit 1, an unused spin bit, two reserved bits, the key phase
// bit, and the packet number length, followed by the destination CID
// and packet number - no version, no source CID, no length field.
func (p *packet) encodeShort(b []byte) (int, error) {
	off := 0
	first := byte(0x40) // short header form, fixed bit
	if p.keyPhase {
		first |= 0x04
	}
	first |= byte(defaultPacketNumberLen - 1)
	b[off] = first
	off++
	off += copy(b[off:], p.header.dcid)
	p.packetNumberLen = defaultPacketNumberLen
	for i := 0; i < defaultPacketNumberLen; i++ {
		shift := uint(defaultPacketNumberLen-1-i) * 8
		b[off+i] = byte(p.packetNumber >> shift)
	}
	off += defaultPacketNumberLen
	return off, nil
}

const defaultPacketNumberLen = 4
const retryIntegrityTagLength = 16

// PeekConnectionIDs extracts the destination (and, for long headers,
// source) connection ID from a still-encrypted packet, without
// decrypting or otherwise validating it. dcidLen is the length this
// endpoint's own connection IDs use, needed to parse a short header
// (RFC 9000 §17.3's destination CID has no self-describing length,
// unlike the long header forms parsed by §17.2).
func PeekConnectionIDs(b []byte, dcidLen int) (dcid, scid []byte, err error) {
	var p packet
	p.header.dcil = uint8(dcidLen)
	if _, err := p.decodeHeader(b); err != nil {
		return nil, nil, err
	}
	return p.header.dcid, p.header.scid, nil
}
