package quic

// Connection-lifecycle events, reported through the same transport.Event
// slice as stream events so Handler.Serve only has to range over one
// list. Values are chosen clear of transport.EventType's own range so a
// single switch over e.Type can distinguish both without a type
// assertion.
const (
	EventConnAccept = 32 + iota
	EventConnClose
)
