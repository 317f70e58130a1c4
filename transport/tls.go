package transport

import (
	"context"
	"crypto/tls"
)

// tlsHandshake adapts the Go 1.21+ crypto/tls QUIC API (tls.QUICConn)
// into the record-oriented sink/source the connection core consumes:
// CRYPTO frame bytes go in per packet-number space, derived secrets and
// outgoing handshake bytes come out the same way.
type tlsHandshake struct {
	conn      *Conn
	tlsConfig *tls.Config

	quic    *tls.QUICConn
	started bool
	done    bool

	peerParams    Parameters
	gotPeerParams bool
}

func (s *tlsHandshake) init(conn *Conn, config *tls.Config) {
	s.conn = conn
	s.tlsConfig = config
}

// reset discards in-progress handshake state, used after Retry or
// Version Negotiation forces the client to start over.
func (s *tlsHandshake) reset() {
	s.quic = nil
	s.started = false
	s.done = false
	s.gotPeerParams = false
}

func (s *tlsHandshake) ensureQUICConn() {
	if s.quic != nil {
		return
	}
	cfg := &tls.QUICConfig{TLSConfig: s.tlsConfig}
	if s.conn.isClient {
		s.quic = tls.QUICClient(cfg)
	} else {
		s.quic = tls.QUICServer(cfg)
	}
}

func (s *tlsHandshake) setTransportParams(p *Parameters) {
	s.ensureQUICConn()
	s.quic.SetTransportParameters(encodeTransportParameters(p))
}

func (s *tlsHandshake) start() error {
	if s.started {
		return nil
	}
	s.ensureQUICConn()
	s.started = true
	return s.quic.Start(context.Background())
}

// doHandshake feeds any newly-reassembled CRYPTO bytes into the TLS
// stack and drains every event it produces: derived secrets are
// installed as packet protection keys, outgoing handshake bytes are
// queued on the matching packet number space's CRYPTO stream, and
// HandshakeDone flips the completion flag the core checks.
func (s *tlsHandshake) doHandshake() error {
	if err := s.start(); err != nil {
		return newError(errorCodeCryptoBase, err.Error())
	}
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		level := quicLevelForSpace(space)
		for {
			data := s.conn.packetNumberSpaces[space].cryptoStream.popRecv()
			if data == nil {
				break
			}
			if err := s.quic.HandleData(level, data); err != nil {
				return newError(errorCodeCryptoBase, err.Error())
			}
		}
	}
	return s.drainEvents()
}

func (s *tlsHandshake) drainEvents() error {
	for {
		e := s.quic.NextEvent()
		switch e.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			opener, _, err := packetProtectionKeys(e.Suite, e.Data)
			if err != nil {
				return newError(errorCodeCryptoBase, err.Error())
			}
			space := spaceForLevel(e.Level)
			s.conn.packetNumberSpaces[space].opener = opener
			if space == packetSpaceApplication {
				s.conn.onAppReadSecret(e.Suite, e.Data)
			}
		case tls.QUICSetWriteSecret:
			_, sealer, err := packetProtectionKeys(e.Suite, e.Data)
			if err != nil {
				return newError(errorCodeCryptoBase, err.Error())
			}
			space := spaceForLevel(e.Level)
			s.conn.packetNumberSpaces[space].sealer = sealer
			if space == packetSpaceApplication {
				s.conn.onAppWriteSecret(e.Suite, e.Data)
			}
		case tls.QUICWriteData:
			s.conn.packetNumberSpaces[spaceForLevel(e.Level)].cryptoStream.send.write(e.Data)
		case tls.QUICTransportParameters:
			params, err := decodeTransportParameters(e.Data)
			if err != nil {
				return err
			}
			s.peerParams = *params
			s.gotPeerParams = true
		case tls.QUICTransportParametersRequired:
			s.quic.SetTransportParameters(encodeTransportParameters(&s.conn.localParams))
		case tls.QUICHandshakeDone:
			s.done = true
		}
	}
}

func (s *tlsHandshake) HandshakeComplete() bool {
	return s.done
}

func (s *tlsHandshake) peerTransportParams() *Parameters {
	if !s.gotPeerParams {
		return nil
	}
	return &s.peerParams
}

// writeSpace returns the most advanced packet number space this
// endpoint currently has send keys for, used when probing or closing
// and no space-specific data is otherwise pending.
func (s *tlsHandshake) writeSpace() packetSpace {
	for space := packetSpaceApplication; ; space-- {
		if s.conn.packetNumberSpaces[space].canEncrypt() {
			return space
		}
		if space == packetSpaceInitial {
			break
		}
	}
	return packetSpaceCount
}

func quicLevelForSpace(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func spaceForLevel(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}
