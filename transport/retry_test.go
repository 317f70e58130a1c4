package transport

import "testing"

func TestPeekInitialParsesLongHeader(t *testing.T) {
	dcid := []byte{1, 2, 3, 4}
	scid := []byte{5, 6, 7, 8}
	b := []byte{0x80 | 0xc0}
	b = append(b, byte(quicVersion1>>24), byte(quicVersion1>>16), byte(quicVersion1>>8), byte(quicVersion1))
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = append(b, 0) // zero-length token
	b = append(b, 0) // zero-length payload length varint
	version, gotDCID, gotSCID, token, ok := PeekInitial(b)
	if !ok {
		t.Fatal("PeekInitial should parse a well-formed long header")
	}
	if version != quicVersion1 {
		t.Fatalf("version = %#x, want %#x", version, quicVersion1)
	}
	if string(gotDCID) != string(dcid) || string(gotSCID) != string(scid) {
		t.Fatalf("dcid/scid = %x/%x, want %x/%x", gotDCID, gotSCID, dcid, scid)
	}
	if len(token) != 0 {
		t.Fatalf("token = %x, want empty", token)
	}
}

func TestPeekInitialRejectsShortHeader(t *testing.T) {
	if _, _, _, _, ok := PeekInitial([]byte{0x40, 1, 2, 3}); ok {
		t.Fatal("PeekInitial should reject a short header packet")
	}
}

func TestPeekInitialReportsUnsupportedVersionWithoutToken(t *testing.T) {
	dcid := []byte{9, 9}
	scid := []byte{8, 8}
	b := []byte{0x80}
	b = append(b, 0xff, 0xff, 0xff, 0xff) // unsupported version
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	version, gotDCID, gotSCID, token, ok := PeekInitial(b)
	if !ok {
		t.Fatal("PeekInitial should still report an unsupported version as parseable")
	}
	if version != 0xffffffff {
		t.Fatalf("version = %#x, want 0xffffffff", version)
	}
	if string(gotDCID) != string(dcid) || string(gotSCID) != string(scid) {
		t.Fatal("dcid/scid should be reported even for an unsupported version")
	}
	if token != nil {
		t.Fatal("token should be nil for an unsupported version")
	}
}

func TestEncodeVersionNegotiationEchoesCIDsAndListsVersions(t *testing.T) {
	dcid := []byte{1, 2}
	scid := []byte{3, 4}
	b := EncodeVersionNegotiation(dcid, scid, []uint32{quicVersion1})
	if b[0]&0x80 == 0 {
		t.Fatal("version negotiation packet must set the long header form bit")
	}
	if b[1] != 0 || b[2] != 0 || b[3] != 0 || b[4] != 0 {
		t.Fatal("version negotiation packet must carry an all-zero version field")
	}
	off := 5
	gotDCIDLen := int(b[off])
	off++
	gotDCID := b[off : off+gotDCIDLen]
	off += gotDCIDLen
	if string(gotDCID) != string(dcid) {
		t.Fatalf("echoed dcid = %x, want %x", gotDCID, dcid)
	}
	gotSCIDLen := int(b[off])
	off++
	gotSCID := b[off : off+gotSCIDLen]
	off += gotSCIDLen
	if string(gotSCID) != string(scid) {
		t.Fatalf("echoed scid = %x, want %x", gotSCID, scid)
	}
	if len(b)-off != 4 {
		t.Fatalf("expected exactly one supported version listed, got %d bytes", len(b)-off)
	}
}

func TestEncodeRetryProducesVerifiableIntegrityTag(t *testing.T) {
	odcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	dcid := []byte{1, 2, 3}
	scid := []byte{4, 5, 6, 7}
	token := []byte("opaque-token")
	b := EncodeRetry(dcid, scid, odcid, token)
	if b == nil {
		t.Fatal("EncodeRetry returned nil")
	}
	if !verifyRetryIntegrity(b, odcid) {
		t.Fatal("a Retry packet encoded with EncodeRetry should verify against its own odcid")
	}
	if verifyRetryIntegrity(b, []byte{0x00}) {
		t.Fatal("a Retry packet should not verify against the wrong odcid")
	}
}
