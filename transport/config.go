package transport

import (
	"crypto/tls"
	"time"
)

// Wire-format limits (RFC 9000 §8.3.1, §14).
const (
	MaxCIDLength         = 20
	MinInitialPacketSize = 1200
	MaxPacketSize        = 65527
	minPayloadLength     = 4 // Smallest payload that still covers a 4-byte packet number reservation.

	maxCryptoFrameOverhead = 16 // type + offset + length varints, worst case.
	maxStreamFrameOverhead = 20 // type + id + offset + length varints, worst case.
)

// quicVersion1 is the only wire version this core negotiates (RFC 9000).
const quicVersion1 uint32 = 0x00000001

// Version1 is RFC 9000's QUIC version 1, exported so a binding can build
// a Version Negotiation packet listing the versions this core supports.
const Version1 uint32 = quicVersion1

func versionSupported(v uint32) bool {
	return v == quicVersion1
}

// VersionSupported reports whether v is a wire version this core can
// speak, for a server-side binding deciding whether an inbound long
// header packet needs a Version Negotiation reply instead.
func VersionSupported(v uint32) bool {
	return versionSupported(v)
}

// CongestionControlAlgorithm selects the tagged-dispatch congestion
// controller a Conn is built with.
type CongestionControlAlgorithm uint8

const (
	CongestionControlCubic CongestionControlAlgorithm = iota
	CongestionControlBBR
)

// Parameters holds QUIC transport parameters (RFC 9000 §18.2), both the
// locally offered set and the set received from the peer.
type Parameters struct {
	OriginalDestinationCID         []byte
	MaxIdleTimeout                 time.Duration
	StatelessResetToken            []byte
	MaxUDPPayloadSize               uint64
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	AckDelayExponent               uint64
	MaxAckDelay                    time.Duration
	DisableActiveMigration         bool
	ActiveConnIDLimit              uint64
	InitialSourceCID               []byte
	RetrySourceCID                 []byte
	MaxDatagramFrameSize           uint64 // RFC 9221; 0 means the peer does not accept DATAGRAM frames.
}

// Config bundles everything needed to create a client or server Conn.
type Config struct {
	Version uint32
	Params  Parameters
	TLS     *tls.Config

	CongestionControl CongestionControlAlgorithm
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
