package quic

import "testing"

func TestStatelessResetterTokenIsDeterministic(t *testing.T) {
	r := newStatelessResetter()
	cid := []byte{1, 2, 3, 4}
	a := r.token(cid)
	b := r.token(cid)
	if a != b {
		t.Fatal("token() should be deterministic for the same CID and key")
	}
}

func TestStatelessResetterTokenVariesByCID(t *testing.T) {
	r := newStatelessResetter()
	a := r.token([]byte{1})
	b := r.token([]byte{2})
	if a == b {
		t.Fatal("token() should differ for different connection IDs")
	}
}

func TestStatelessResetterTokenVariesByKey(t *testing.T) {
	r1 := newStatelessResetter()
	r2 := newStatelessResetter()
	cid := []byte{9, 9, 9}
	if r1.token(cid) == r2.token(cid) {
		t.Fatal("two bindings should practically never derive the same token for the same CID (different random keys)")
	}
}
