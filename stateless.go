package quic

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

// statelessResetter derives RFC 9000 §10.3 stateless reset tokens from
// a connection ID without the binding having to remember one per
// connection: the token is an HMAC of the CID under a key generated
// once per binding and never sent on the wire, so two packets for the
// same CID always get the same token and a restart picks a new,
// unrelated key.
type statelessResetter struct {
	key [32]byte
}

func newStatelessResetter() statelessResetter {
	var r statelessResetter
	rand.Read(r.key[:])
	return r
}

func (r statelessResetter) token(cid []byte) [16]byte {
	mac := hmac.New(sha256.New, r.key[:])
	mac.Write(cid)
	sum := mac.Sum(nil)
	var token [16]byte
	copy(token[:], sum)
	return token
}

// tokenBytes is token as a fresh, independently addressable slice -
// convenient at call sites that need a []byte rather than an array.
func (r statelessResetter) tokenBytes(cid []byte) []byte {
	token := r.token(cid)
	return token[:]
}
