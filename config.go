package quic

import (
	"crypto/tls"
	"time"

	"github.com/goburrow/quic/transport"
)

// Config bundles the transport configuration with the socket-level
// tuning knobs the binding/worker layer needs (buffer sizes, handshake
// timeout) that have no place in the wire-level transport.Config.
type Config struct {
	TLS *tls.Config

	Params             transport.Parameters
	CongestionControl  transport.CongestionControlAlgorithm
	Version            uint32
	HandshakeTimeout   time.Duration
	MaxConnections     int
	RecvBufferSize     int

	// RequireRetry makes a server send a Retry packet (RFC 9000 §8.1.2)
	// to every new-connection attempt that doesn't yet carry a token,
	// instead of accepting the connection immediately. This spends a
	// round trip but proves the client owns the source address it
	// claims before any per-connection state is allocated.
	RequireRetry bool
}

func newConfig() *Config {
	return &Config{
		TLS: &tls.Config{
			MinVersion: tls.VersionTLS13,
			NextProtos: []string{"quince"},
		},
		Params: transport.Parameters{
			MaxIdleTimeout:                 30 * time.Second,
			MaxUDPPayloadSize:              1452,
			InitialMaxData:                 1 << 20,
			InitialMaxStreamDataBidiLocal:  256 << 10,
			InitialMaxStreamDataBidiRemote: 256 << 10,
			InitialMaxStreamDataUni:        256 << 10,
			InitialMaxStreamsBidi:          100,
			InitialMaxStreamsUni:           100,
			AckDelayExponent:               3,
			MaxAckDelay:                    25 * time.Millisecond,
			ActiveConnIDLimit:              4,
			MaxDatagramFrameSize:           1200,
		},
		HandshakeTimeout: 10 * time.Second,
		MaxConnections:   1000,
		RecvBufferSize:   65536,
	}
}

func (c *Config) transportConfig(scid, resetToken []byte) *transport.Config {
	params := c.Params
	params.StatelessResetToken = resetToken
	return &transport.Config{
		Version:           transportVersion(c.Version),
		Params:            params,
		TLS:               c.TLS,
		CongestionControl: c.CongestionControl,
	}
}

func transportVersion(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}
