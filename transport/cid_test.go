package transport

import "testing"

func TestConnIDRegistryIssueLocal(t *testing.T) {
	var r connIDRegistry
	r.init(0)
	f := r.issueLocal([]byte{1, 2, 3}, [16]byte{9})
	if f.sequenceNumber != 0 {
		t.Fatalf("sequence number = %d, want 0", f.sequenceNumber)
	}
	f2 := r.issueLocal([]byte{4, 5, 6}, [16]byte{8})
	if f2.sequenceNumber != 1 {
		t.Fatalf("sequence number = %d, want 1", f2.sequenceNumber)
	}
	if len(r.local) != 2 {
		t.Fatalf("len(local) = %d, want 2", len(r.local))
	}
	r.retireLocal(0)
	if len(r.local) != 1 || r.local[0].seq != 1 {
		t.Fatalf("retireLocal did not remove seq 0: %+v", r.local)
	}
}

func TestConnIDRegistryAddRemote(t *testing.T) {
	var r connIDRegistry
	r.init(2)
	if _, err := r.addRemote(0, 0, []byte{1}, [16]byte{}); err != nil {
		t.Fatalf("addRemote(0): %v", err)
	}
	if _, err := r.addRemote(1, 0, []byte{2}, [16]byte{}); err != nil {
		t.Fatalf("addRemote(1): %v", err)
	}
	if _, err := r.addRemote(2, 0, []byte{3}, [16]byte{}); err == nil {
		t.Fatal("addRemote(2) should exceed active_connection_id_limit")
	}
	// Re-adding an already-known sequence number is a no-op, not a
	// collision against the limit.
	if _, err := r.addRemote(0, 0, []byte{1}, [16]byte{}); err != nil {
		t.Fatalf("re-adding seq 0: %v", err)
	}
}

func TestConnIDRegistryRetirePriorTo(t *testing.T) {
	var r connIDRegistry
	r.init(4)
	r.addRemote(0, 0, []byte{1}, [16]byte{})
	r.addRemote(1, 0, []byte{2}, [16]byte{})
	retired, err := r.addRemote(2, 2, []byte{3}, [16]byte{})
	if err != nil {
		t.Fatalf("addRemote: %v", err)
	}
	if len(retired) != 2 || retired[0] != 0 || retired[1] != 1 {
		t.Fatalf("retired = %v, want [0 1]", retired)
	}
	if len(r.remote) != 1 || r.remote[0].seq != 2 {
		t.Fatalf("remote after retirePriorTo = %+v", r.remote)
	}
}

func TestConnIDRegistryCurrent(t *testing.T) {
	var r connIDRegistry
	r.init(2)
	if _, ok := r.current(); ok {
		t.Fatal("current() should report nothing before any remote CID is added")
	}
	r.addRemote(0, 0, []byte{7, 8, 9}, [16]byte{})
	cid, ok := r.current()
	if !ok {
		t.Fatal("current() should report the remote CID")
	}
	if string(cid) != string([]byte{7, 8, 9}) {
		t.Fatalf("current() = %x, want 070809", cid)
	}
}
