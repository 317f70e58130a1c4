package transport

// EventType identifies what changed on a Conn since the last call to
// Events, so the owning application/worker knows which streams to
// service without polling every one of them.
type EventType uint8

const (
	// EventStream indicates new data is available to read on StreamID.
	EventStream EventType = iota
	// EventStreamComplete indicates every byte of StreamID's send side
	// has been acknowledged.
	EventStreamComplete
	// EventStreamReset indicates the peer reset StreamID.
	EventStreamReset
	// EventStreamStop indicates the peer asked to stop receiving on StreamID.
	EventStreamStop
	// EventDatagramRecv indicates a datagram is available via
	// Conn.RecvDatagram (RFC 9221).
	EventDatagramRecv
	// EventDatagramSendCanceled indicates a queued outgoing datagram was
	// dropped rather than sent, because it no longer fit in an outgoing
	// packet by the time its turn came up.
	EventDatagramSendCanceled
)

// Event is a single notification surfaced by Conn.Events.
type Event struct {
	Type      EventType
	StreamID  uint64
	ErrorCode uint64
}

func newStreamRecvEvent(id uint64) Event {
	return Event{Type: EventStream, StreamID: id}
}

func newStreamCompleteEvent(id uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: id}
}

func newStreamResetEvent(id, errorCode uint64) Event {
	return Event{Type: EventStreamReset, StreamID: id, ErrorCode: errorCode}
}

func newStreamStopEvent(id, errorCode uint64) Event {
	return Event{Type: EventStreamStop, StreamID: id, ErrorCode: errorCode}
}

func newDatagramRecvEvent() Event {
	return Event{Type: EventDatagramRecv}
}

func newDatagramSendCanceledEvent() Event {
	return Event{Type: EventDatagramSendCanceled}
}
