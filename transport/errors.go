package transport

import "fmt"

// TransportError is the taxonomy of errors the core can raise (spec §7).
// Values NoError through AEADLimitReached (0x0-0xf) map directly onto
// RFC 9000 transport error codes;
// ApplicationError carries an opaque application-defined code instead.
type TransportError uint64

// Error kinds.
const (
	NoError TransportError = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIdLimitError
	ProtocolViolation
	InvalidToken
	ApplicationError
	CryptoBufferExceeded
	KeyUpdateError
	AEADLimitReached
	VersionNegotiationError

	errorCodeCryptoBase TransportError = 0x100 // CRYPTO_ERROR (0x100-0x1ff) carries TLS alert in low byte
)

// Error is the error type returned by all transport decode/process steps.
type Error struct {
	Kind    TransportError
	Message string
}

func newError(kind TransportError, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return errorCodeString(uint64(e.Kind))
	}
	return fmt.Sprintf("%s: %s", errorCodeString(uint64(e.Kind)), e.Message)
}

// Code returns the RFC 9000 transport error code for the error.
func (e *Error) Code() uint64 {
	return uint64(e.Kind)
}

var (
	errInvalidToken = newError(InvalidToken, "invalid retry token")
	errFlowControl  = newError(FlowControlError, "flow control limit exceeded")
	errShortBuffer  = newError(InternalError, "buffer too short")
)

func errorCodeString(code uint64) string {
	switch TransportError(code) {
	case NoError:
		return "no_error"
	case InternalError:
		return "internal_error"
	case ConnectionRefused:
		return "connection_refused"
	case FlowControlError:
		return "flow_control_error"
	case StreamLimitError:
		return "stream_limit_error"
	case StreamStateError:
		return "stream_state_error"
	case FinalSizeError:
		return "final_size_error"
	case FrameEncodingError:
		return "frame_encoding_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case ConnectionIdLimitError:
		return "connection_id_limit_error"
	case ProtocolViolation:
		return "protocol_violation"
	case InvalidToken:
		return "invalid_token"
	case ApplicationError:
		return "application_error"
	case CryptoBufferExceeded:
		return "crypto_buffer_exceeded"
	case KeyUpdateError:
		return "key_update_error"
	case AEADLimitReached:
		return "aead_limit_reached"
	case VersionNegotiationError:
		return "version_negotiation_error"
	}
	if code >= uint64(errorCodeCryptoBase) && code <= uint64(errorCodeCryptoBase)+0xff {
		return fmt.Sprintf("crypto_error_%d", code-uint64(errorCodeCryptoBase))
	}
	return fmt.Sprintf("unknown_error_%d", code)
}

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}

func debug(format string, args ...interface{}) {
	// Wire-level tracing is emitted through Conn.OnLogEvent (see log.go);
	// this hook is reserved for developer debug builds and is a no-op
	// by default so the hot path never pays for formatting.
}
