package transport

import (
	"crypto/tls"
	"testing"
	"time"
)

func newTestClientConn(t *testing.T) *Conn {
	t.Helper()
	c, err := Connect([]byte("clientscid"), &Config{Version: quicVersion1, TLS: &tls.Config{MinVersion: tls.VersionTLS13}})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestKeyUpdateRequiresConfirmedHandshake(t *testing.T) {
	c := newTestClientConn(t)
	if err := c.KeyUpdate(); err == nil {
		t.Fatal("KeyUpdate should fail before the handshake is confirmed")
	}
}

func TestKeyUpdateDerivesNextGenerationWriteKeys(t *testing.T) {
	c := newTestClientConn(t)
	c.state = stateActive
	c.handshakeConfirmed = true
	c.onAppReadSecret(tls.TLS_AES_128_GCM_SHA256, []byte("initial-read-secret-0123456789ab"))
	c.onAppWriteSecret(tls.TLS_AES_128_GCM_SHA256, []byte("initial-write-secret-123456789ab"))
	if err := c.KeyUpdate(); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}
	if !c.keyUpdatePending {
		t.Fatal("keyUpdatePending should be true right after KeyUpdate")
	}
	if c.pendingSealer == nil {
		t.Fatal("KeyUpdate should precompute the next generation's sealer")
	}
	// Calling it again before the pending update commits should be a no-op,
	// not derive yet another generation.
	pending := c.pendingWriteSecret
	if err := c.KeyUpdate(); err != nil {
		t.Fatalf("second KeyUpdate: %v", err)
	}
	if string(c.pendingWriteSecret) != string(pending) {
		t.Fatal("a second KeyUpdate call while one is pending should not re-derive the secret")
	}
}

func TestOnAppReadSecretPrecomputesNextOpener(t *testing.T) {
	c := newTestClientConn(t)
	c.onAppReadSecret(tls.TLS_AES_128_GCM_SHA256, []byte("some-read-secret-0123456789abcd"))
	if c.nextOpener == nil {
		t.Fatal("onAppReadSecret should precompute the key-update generation's opener")
	}
}

func TestOnPathMigratedRequiresEstablishedConnection(t *testing.T) {
	c := newTestClientConn(t)
	if err := c.OnPathMigrated(true); err == nil {
		t.Fatal("OnPathMigrated should fail before the connection is established")
	}
}

func TestOnPathMigratedIssuesChallengeAndResetsCongestionOnIPChange(t *testing.T) {
	c := newTestClientConn(t)
	c.state = stateActive
	before := c.recovery.cc
	if err := c.OnPathMigrated(true); err != nil {
		t.Fatalf("OnPathMigrated: %v", err)
	}
	if c.pendingPathChallenge == nil {
		t.Fatal("OnPathMigrated should queue a PATH_CHALLENGE for the new path")
	}
	if c.recovery.cc == before {
		t.Fatal("an IP change should reset the congestion controller")
	}
}

func TestOnPathMigratedKeepsCongestionOnPortOnlyChange(t *testing.T) {
	c := newTestClientConn(t)
	c.state = stateActive
	before := c.recovery.cc
	if err := c.OnPathMigrated(false); err != nil {
		t.Fatalf("OnPathMigrated: %v", err)
	}
	if c.recovery.cc != before {
		t.Fatal("a port-only rebinding should not reset the congestion controller")
	}
}

func TestIssueConnectionIDRequiresEstablishedConnection(t *testing.T) {
	c := newTestClientConn(t)
	cid, err := c.IssueConnectionID(func() ([]byte, [16]byte, error) {
		return []byte{1, 2, 3, 4}, [16]byte{}, nil
	})
	if err != nil {
		t.Fatalf("IssueConnectionID: %v", err)
	}
	if cid != nil {
		t.Fatal("IssueConnectionID should return nil before the connection is established")
	}
}

func TestSendFramesEmitsMaxStreamsOnceFlagged(t *testing.T) {
	c := newTestClientConn(t)
	c.state = stateActive
	// doHandshake raises these once the handshake completes, regardless of
	// whether the peer is anywhere near the initial stream limit: a fresh
	// advertisement lets a peer that opened right up to the old limit see
	// the extension without waiting on a STREAMS_BLOCKED round trip.
	c.streams.updateMaxStreamsBidi = true
	c.streams.updateMaxStreamsUni = true
	op := newOutgoingPacket(0, time.Now())
	c.sendFrames(op, packetSpaceApplication, 1200, time.Now())
	var gotBidi, gotUni bool
	for _, f := range op.frames {
		if ms, ok := f.(*maxStreamsFrame); ok {
			if ms.bidi {
				gotBidi = true
			} else {
				gotUni = true
			}
		}
	}
	if !gotBidi {
		t.Fatal("sendFrames should emit a MAX_STREAMS frame for the bidi limit when updateMaxStreamsBidi is set")
	}
	if !gotUni {
		t.Fatal("sendFrames should emit a MAX_STREAMS frame for the uni limit when updateMaxStreamsUni is set")
	}
	if c.streams.updateMaxStreamsBidi || c.streams.updateMaxStreamsUni {
		t.Fatal("sendFrames should clear the update flags once the frames are queued")
	}
}

func TestIssueConnectionIDQueuesFrameOnceEstablished(t *testing.T) {
	c := newTestClientConn(t)
	c.state = stateActive
	cid, err := c.IssueConnectionID(func() ([]byte, [16]byte, error) {
		return []byte{9, 9, 9, 9}, [16]byte{1}, nil
	})
	if err != nil {
		t.Fatalf("IssueConnectionID: %v", err)
	}
	if string(cid) != string([]byte{9, 9, 9, 9}) {
		t.Fatalf("cid = %v, want the one newCID produced", cid)
	}
	if len(c.pendingNewConnectionIDs) != 1 {
		t.Fatalf("pendingNewConnectionIDs = %d, want 1 queued NEW_CONNECTION_ID frame", len(c.pendingNewConnectionIDs))
	}
}
