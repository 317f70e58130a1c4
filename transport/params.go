package transport

import "time"

// Transport parameter identifiers (RFC 9000 §18.2, plus RFC 9221's
// max_datagram_frame_size extension).
const (
	paramOriginalDestinationCID      = 0x00
	paramMaxIdleTimeout              = 0x01
	paramStatelessResetToken         = 0x02
	paramMaxUDPPayloadSize           = 0x03
	paramInitialMaxData              = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni     = 0x07
	paramInitialMaxStreamsBidi       = 0x08
	paramInitialMaxStreamsUni        = 0x09
	paramAckDelayExponent            = 0x0a
	paramMaxAckDelay                 = 0x0b
	paramDisableActiveMigration      = 0x0c
	paramActiveConnIDLimit           = 0x0e
	paramInitialSourceCID            = 0x0f
	paramRetrySourceCID              = 0x10
	paramMaxDatagramFrameSize        = 0x20
)

// EncodeParameters serializes p the same way the TLS handshake does for
// the quic_transport_parameters extension, for callers outside this
// package that need to persist a parameter set (e.g. resumption state).
func EncodeParameters(p *Parameters) []byte {
	return encodeTransportParameters(p)
}

// DecodeParameters parses a TLV sequence produced by EncodeParameters.
func DecodeParameters(b []byte) (*Parameters, error) {
	return decodeTransportParameters(b)
}

// encodeTransportParameters serializes the local transport parameters
// into the id/length/value TLV sequence carried inside the TLS
// quic_transport_parameters extension (RFC 9000 §18.1).
func encodeTransportParameters(p *Parameters) []byte {
	var b []byte
	putBytesParam := func(id uint64, v []byte) {
		if v == nil {
			return
		}
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(len(v)))
		b = append(b, v...)
	}
	putVarintParam := func(id, v uint64) {
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(varintLen(v)))
		tmp := make([]byte, varintLen(v))
		putVarint(tmp, v)
		b = append(b, tmp...)
	}
	putFlagParam := func(id uint64) {
		b = appendVarint(b, id)
		b = appendVarint(b, 0)
	}

	putBytesParam(paramOriginalDestinationCID, p.OriginalDestinationCID)
	if p.MaxIdleTimeout > 0 {
		putVarintParam(paramMaxIdleTimeout, uint64(p.MaxIdleTimeout.Milliseconds()))
	}
	putBytesParam(paramStatelessResetToken, p.StatelessResetToken)
	if p.MaxUDPPayloadSize > 0 {
		putVarintParam(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	putVarintParam(paramInitialMaxData, p.InitialMaxData)
	putVarintParam(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putVarintParam(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putVarintParam(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putVarintParam(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putVarintParam(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent > 0 {
		putVarintParam(paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay > 0 {
		putVarintParam(paramMaxAckDelay, uint64(p.MaxAckDelay.Milliseconds()))
	}
	if p.DisableActiveMigration {
		putFlagParam(paramDisableActiveMigration)
	}
	if p.ActiveConnIDLimit > 0 {
		putVarintParam(paramActiveConnIDLimit, p.ActiveConnIDLimit)
	}
	putBytesParam(paramInitialSourceCID, p.InitialSourceCID)
	putBytesParam(paramRetrySourceCID, p.RetrySourceCID)
	if p.MaxDatagramFrameSize > 0 {
		putVarintParam(paramMaxDatagramFrameSize, p.MaxDatagramFrameSize)
	}
	return b
}

func appendVarint(b []byte, v uint64) []byte {
	tmp := make([]byte, varintLen(v))
	putVarint(tmp, v)
	return append(b, tmp...)
}

// decodeTransportParameters parses a peer's quic_transport_parameters
// extension payload. Unknown parameter IDs are ignored (RFC 9000
// §18.1's forward-compatibility requirement).
func decodeTransportParameters(b []byte) (*Parameters, error) {
	p := &Parameters{}
	off := 0
	for off < len(b) {
		var id, length uint64
		n := getVarint(b[off:], &id)
		if n == 0 {
			return nil, newError(TransportParameterError, "param id")
		}
		off += n
		n = getVarint(b[off:], &length)
		if n == 0 {
			return nil, newError(TransportParameterError, "param length")
		}
		off += n
		if uint64(len(b)-off) < length {
			return nil, newError(TransportParameterError, "param value")
		}
		v := b[off : off+int(length)]
		off += int(length)
		switch id {
		case paramOriginalDestinationCID:
			p.OriginalDestinationCID = append([]byte(nil), v...)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeout = millisParam(v)
		case paramStatelessResetToken:
			p.StatelessResetToken = append([]byte(nil), v...)
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = varintParam(v)
		case paramInitialMaxData:
			p.InitialMaxData = varintParam(v)
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = varintParam(v)
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = varintParam(v)
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = varintParam(v)
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = varintParam(v)
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = varintParam(v)
		case paramAckDelayExponent:
			p.AckDelayExponent = varintParam(v)
		case paramMaxAckDelay:
			p.MaxAckDelay = millisParam(v)
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		case paramActiveConnIDLimit:
			p.ActiveConnIDLimit = varintParam(v)
		case paramInitialSourceCID:
			p.InitialSourceCID = append([]byte(nil), v...)
		case paramRetrySourceCID:
			p.RetrySourceCID = append([]byte(nil), v...)
		case paramMaxDatagramFrameSize:
			p.MaxDatagramFrameSize = varintParam(v)
		}
	}
	return p, nil
}

func varintParam(v []byte) uint64 {
	var x uint64
	getVarint(v, &x)
	return x
}

func millisParam(v []byte) time.Duration {
	return time.Duration(varintParam(v)) * time.Millisecond
}
