package transport

import (
	"crypto/aes"
	"crypto/cipher"
)

// PeekInitial parses an inbound datagram just far enough for a
// server-side binding to decide on Version Negotiation or Retry before
// any Conn exists for it (RFC 9000 §17.2.2), without touching anything
// that needs AEAD keys. ok is false for anything that isn't a long
// header with enough bytes to carry a version number and both
// connection IDs - including Version Negotiation packets themselves,
// which carry no token and aren't subject to retry.
func PeekInitial(b []byte) (version uint32, dcid, scid, token []byte, ok bool) {
	if len(b) < 5 || b[0]&0x80 == 0 {
		return 0, nil, nil, nil, false
	}
	version = uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	if version == 0 {
		return 0, nil, nil, nil, false
	}
	off := 5
	if len(b) < off+1 {
		return 0, nil, nil, nil, false
	}
	dcidLen := int(b[off])
	off++
	if dcidLen > MaxCIDLength || len(b) < off+dcidLen {
		return 0, nil, nil, nil, false
	}
	dcid = b[off : off+dcidLen]
	off += dcidLen
	if len(b) < off+1 {
		return 0, nil, nil, nil, false
	}
	scidLen := int(b[off])
	off++
	if scidLen > MaxCIDLength || len(b) < off+scidLen {
		return 0, nil, nil, nil, false
	}
	scid = b[off : off+scidLen]
	off += scidLen
	if !versionSupported(version) {
		// Packet type bits are only meaningful under a version this core
		// understands; a binding deciding on Version Negotiation doesn't
		// need the token.
		return version, dcid, scid, nil, true
	}
	if (b[0]>>4)&0x03 != 0 {
		return version, dcid, scid, nil, false // not an Initial packet
	}
	var tokenLen uint64
	n := getVarint(b[off:], &tokenLen)
	if n <= 0 || uint64(len(b)-off-n) < tokenLen {
		return 0, nil, nil, nil, false
	}
	off += n
	token = b[off : off+int(tokenLen)]
	return version, dcid, scid, token, true
}

// EncodeVersionNegotiation builds a server's reply to a packet whose
// version it doesn't support (RFC 9000 §17.2.1): the long header form
// bit set and everything else in the first byte unspecified, a version
// field of all zeroes, dcid and scid written in the order given, and the
// list of versions this core does support. To echo a client's packet the
// caller passes the client's source CID as dcid and its destination CID
// as scid.
func EncodeVersionNegotiation(dcid, scid []byte, versions []uint32) []byte {
	b := make([]byte, 0, 1+4+1+len(dcid)+1+len(scid)+4*len(versions))
	b = append(b, 0x80|0x40)
	b = append(b, 0, 0, 0, 0)
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	for _, v := range versions {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return b
}

// EncodeRetry builds a Retry packet (RFC 9000 §17.2.5): a server's
// stateless response to an Initial packet that lacks a valid token,
// carrying a new connection ID the client must address its retried
// Initial to and an opaque token this core can later validate, sealed
// with the trailing integrity tag described in RFC 9001 §5.8.
func EncodeRetry(dcid, scid, odcid, token []byte) []byte {
	b := make([]byte, 0, 1+4+1+len(dcid)+1+len(scid)+len(token)+retryIntegrityTagLength)
	b = append(b, 0x80|0x40|byte(packetTypeRetry-packetTypeInitial)<<4)
	b = append(b, byte(quicVersion1>>24), byte(quicVersion1>>16), byte(quicVersion1>>8), byte(quicVersion1))
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = append(b, token...)
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return nil
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	pseudo := make([]byte, 0, 1+len(odcid)+len(b))
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, b...)
	return aead.Seal(b, retryIntegrityNonce, nil, pseudo)
}
