package quic

import (
	"encoding/binary"
	"errors"

	"github.com/goburrow/quic/transport"
)

// ResumptionState is the persisted state a client needs to attempt
// session resumption against a server it has connected to before: the
// transport parameters the server advertised last time (RFC 9000
// §7.4.1 requires these be remembered and used to bound 0-RTT data
// until the new handshake confirms them) and the TLS session ticket.
// Storage itself is out of core scope (an external collaborator per
// spec.md); this type only defines the wire encoding a storage
// accessor persists and loads.
type ResumptionState struct {
	Version    uint32
	ServerName string
	Params     transport.Parameters
	Ticket     []byte
}

// ResumptionStore is the interface-only storage accessor the client
// consumes. A concrete implementation (disk, a KV store, whatever)
// lives outside this module.
type ResumptionStore interface {
	Load(serverName string) (*ResumptionState, bool)
	Save(serverName string, state *ResumptionState) error
}

var errResumptionState = errors.New("quic: malformed resumption state")

// EncodeResumptionState serializes state as a sequence of length-
// prefixed fields: version, transport_params, server_name, ticket.
func EncodeResumptionState(state *ResumptionState) []byte {
	params := transport.EncodeParameters(&state.Params)
	var b []byte
	b = appendUint32(b, state.Version)
	b = appendField(b, params)
	b = appendField(b, []byte(state.ServerName))
	b = appendField(b, state.Ticket)
	return b
}

// DecodeResumptionState parses a record produced by EncodeResumptionState.
func DecodeResumptionState(b []byte) (*ResumptionState, error) {
	if len(b) < 4 {
		return nil, errResumptionState
	}
	state := &ResumptionState{
		Version: binary.BigEndian.Uint32(b),
	}
	off := 4
	paramBytes, off, err := readField(b, off)
	if err != nil {
		return nil, err
	}
	params, err := transport.DecodeParameters(paramBytes)
	if err != nil {
		return nil, err
	}
	state.Params = *params
	serverName, off, err := readField(b, off)
	if err != nil {
		return nil, err
	}
	state.ServerName = string(serverName)
	ticket, _, err := readField(b, off)
	if err != nil {
		return nil, err
	}
	state.Ticket = ticket
	return state, nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendField(b []byte, v []byte) []byte {
	b = append(b, byte(len(v)>>8), byte(len(v)))
	return append(b, v...)
}

func readField(b []byte, off int) ([]byte, int, error) {
	if off+2 > len(b) {
		return nil, 0, errResumptionState
	}
	n := int(b[off])<<8 | int(b[off+1])
	off += 2
	if off+n > len(b) {
		return nil, 0, errResumptionState
	}
	return b[off : off+n], off + n, nil
}
