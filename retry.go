package quic

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// retryTokenValidity bounds how long after issuing a Retry this binding
// still accepts the token back from the client (RFC 9000 §8.1.2): wide
// enough to cover a network round trip plus the client's own retry
// delay, narrow enough that a captured token is useless for long.
const retryTokenValidity = 10 * time.Second

// retryTokenState seals and opens the opaque tokens carried in a Retry
// packet and validated on the client's retried Initial (RFC 9000
// §8.1.2, RFC 9001 §5.8's "Retry Token" is this binding's own AEAD, not
// to be confused with the Retry packet's public integrity tag).
// The plaintext holds the time the token was issued and the original
// destination connection ID; the client's source address is bound in
// as additional data so a token can't be replayed from a different
// network path.
type retryTokenState struct {
	aead cipher.AEAD
}

func newRetryTokenState() retryTokenState {
	var rs retryTokenState
	secret := make([]byte, chacha20poly1305.KeySize)
	rand.Read(secret)
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		panic(err) // Only fails on a wrong key size, which secret's length fixes.
	}
	rs.aead = aead
	return rs
}

func (rs retryTokenState) seal(now time.Time, odcid []byte, addr net.Addr) ([]byte, error) {
	nonce := make([]byte, rs.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	plaintext := make([]byte, 0, 8+len(odcid))
	plaintext = binary.BigEndian.AppendUint64(plaintext, uint64(now.Unix()))
	plaintext = append(plaintext, odcid...)
	sealed := rs.aead.Seal(nil, nonce, plaintext, []byte(addr.String()))
	token := make([]byte, 0, len(nonce)+len(sealed))
	token = append(token, nonce...)
	token = append(token, sealed...)
	return token, nil
}

func (rs retryTokenState) open(now time.Time, token []byte, addr net.Addr) (odcid []byte, ok bool) {
	nonceLen := rs.aead.NonceSize()
	if len(token) < nonceLen {
		return nil, false
	}
	nonce, ciphertext := token[:nonceLen], token[nonceLen:]
	plaintext, err := rs.aead.Open(nil, nonce, ciphertext, []byte(addr.String()))
	if err != nil || len(plaintext) < 8 {
		return nil, false
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(plaintext)), 0)
	if d := now.Sub(issued); d < 0 || d > retryTokenValidity {
		return nil, false
	}
	return plaintext[8:], true
}
