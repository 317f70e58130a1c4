package transport

import (
	"bytes"
	"testing"
)

func TestPeekConnectionIDsLongHeader(t *testing.T) {
	p := packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: quicVersion1,
			dcid:    []byte{1, 2, 3, 4},
			scid:    []byte{5, 6, 7, 8, 9},
		},
		payloadLen:   minPayloadLength,
		packetNumber: 1,
	}
	buf := make([]byte, p.encodedLen())
	off, err := p.encode(buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dcid, scid, err := PeekConnectionIDs(buf[:off], 8)
	if err != nil {
		t.Fatalf("PeekConnectionIDs: %v", err)
	}
	if !bytes.Equal(dcid, []byte{1, 2, 3, 4}) {
		t.Fatalf("dcid = %x, want 01020304", dcid)
	}
	if !bytes.Equal(scid, []byte{5, 6, 7, 8, 9}) {
		t.Fatalf("scid = %x, want 0506070809", scid)
	}
}

func TestPeekConnectionIDsShortHeader(t *testing.T) {
	dcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	buf := append([]byte{0x40}, dcid...)
	buf = append(buf, 0x01, 0x02, 0x03) // packet number and payload, irrelevant to peeking.
	gotDcid, gotScid, err := PeekConnectionIDs(buf, len(dcid))
	if err != nil {
		t.Fatalf("PeekConnectionIDs: %v", err)
	}
	if !bytes.Equal(gotDcid, dcid) {
		t.Fatalf("dcid = %x, want %x", gotDcid, dcid)
	}
	if gotScid != nil {
		t.Fatalf("scid = %x, want nil for a short header", gotScid)
	}
}

func TestPeekConnectionIDsShortHeaderTooShort(t *testing.T) {
	buf := []byte{0x40, 0x01, 0x02}
	if _, _, err := PeekConnectionIDs(buf, 8); err == nil {
		t.Fatal("expected an error when the buffer is shorter than the expected DCID length")
	}
}

func TestPeekConnectionIDsEmpty(t *testing.T) {
	if _, _, err := PeekConnectionIDs(nil, 8); err == nil {
		t.Fatal("expected an error for an empty packet")
	}
}
