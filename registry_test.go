package quic

import "testing"

func newTestRemoteConn(scid string) *remoteConn {
	return &remoteConn{scid: []byte(scid)}
}

func TestCIDRegistrySingleMode(t *testing.T) {
	r := newCIDRegistry(10)
	rc := newTestRemoteConn("aaaa")
	r.add(rc)
	if got := r.get([]byte("aaaa")); got != rc {
		t.Fatal("get should find the connection added in single mode")
	}
	if r.count() != 1 {
		t.Fatalf("count = %d, want 1", r.count())
	}
	r.remove([]byte("aaaa"))
	if r.count() != 0 {
		t.Fatalf("count after remove = %d, want 0", r.count())
	}
}

func TestCIDRegistryPromoteToHash(t *testing.T) {
	r := newCIDRegistry(10)
	rc := newTestRemoteConn("aaaa")
	r.add(rc)
	r.promoteToHash()
	if r.mode != cidModeHash {
		t.Fatalf("mode = %v, want cidModeHash", r.mode)
	}
	if got := r.get([]byte("aaaa")); got != rc {
		t.Fatal("promoteToHash should carry over the single-mode entry")
	}
	rc2 := newTestRemoteConn("bbbb")
	r.add(rc2)
	if r.count() != 2 {
		t.Fatalf("count = %d, want 2", r.count())
	}
}

func TestCIDRegistryAddAliasRoutesToSamePointer(t *testing.T) {
	r := newCIDRegistry(10)
	rc := newTestRemoteConn("primary")
	r.add(rc)
	r.addAlias([]byte("alias-one"), rc)
	if got := r.get([]byte("alias-one")); got != rc {
		t.Fatal("addAlias should route the alias CID to the same *remoteConn as the primary scid")
	}
	if got := r.get([]byte("primary")); got != rc {
		t.Fatal("addAlias should not disturb lookup of the original scid")
	}
}

func TestCIDRegistryAddAliasRoutesToSamePointerWhenPartitioned(t *testing.T) {
	r := newCIDRegistry(1)
	r.promoteToHash()
	rc := newTestRemoteConn("owner")
	r.add(rc)
	r.maybePartition(4)
	if r.mode != cidModePartitioned {
		t.Fatal("expected partitioned mode for this test to exercise shard routing")
	}
	// An alias CID that hashes to a different shard than rc.scid must still
	// resolve to the exact same pointer: dispatch submits work keyed on
	// rc.scid regardless of which alias the packet arrived on.
	r.addAlias([]byte("zzzz"), rc)
	got := r.get([]byte("zzzz"))
	if got != rc {
		t.Fatal("addAlias should route an aliased CID to rc even when it hashes to a different shard")
	}
	if got.scid[0] == 'z' {
		t.Fatal("addAlias must not mutate rc.scid")
	}
}

func TestCIDRegistryPartitions(t *testing.T) {
	r := newCIDRegistry(2)
	r.promoteToHash()
	for i := 0; i < 3; i++ {
		r.add(newTestRemoteConn(string([]byte{'a', byte('0' + i), 'a', 'a'})))
	}
	r.maybePartition(4)
	if r.mode != cidModePartitioned {
		t.Fatalf("mode = %v, want cidModePartitioned after crossing the threshold", r.mode)
	}
	if r.count() != 3 {
		t.Fatalf("count after partition = %d, want 3", r.count())
	}
	got := r.get([]byte("a1aa"))
	if got == nil || string(got.scid) != "a1aa" {
		t.Fatal("get should still find entries after partitioning")
	}
}
