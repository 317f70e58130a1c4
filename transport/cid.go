package transport

// connIDEntry is one issued or received connection ID, tracked by its
// sequence number (RFC 9000 §5.1).
type connIDEntry struct {
	seq        uint64
	cid        []byte
	resetToken [16]byte
}

// connIDRegistry tracks the connection IDs this endpoint has issued to
// its peer (local) and the ones the peer has issued to it (remote),
// implementing the NEW_CONNECTION_ID/RETIRE_CONNECTION_ID exchange and
// active_connection_id_limit bookkeeping (RFC 9000 §5.1.1, §19.15-16).
type connIDRegistry struct {
	local         []connIDEntry
	remote        []connIDEntry
	nextLocalSeq  uint64
	retirePriorTo uint64
	limit         uint64
}

func (r *connIDRegistry) init(limit uint64) {
	if limit == 0 {
		limit = 2
	}
	r.limit = limit
}

// issueLocal records a connection ID this endpoint has chosen to offer
// the peer via NEW_CONNECTION_ID, returning the frame to send.
func (r *connIDRegistry) issueLocal(cid []byte, resetToken [16]byte) *newConnectionIDFrame {
	e := connIDEntry{seq: r.nextLocalSeq, cid: append([]byte(nil), cid...), resetToken: resetToken}
	r.local = append(r.local, e)
	r.nextLocalSeq++
	return &newConnectionIDFrame{
		sequenceNumber: e.seq,
		retirePriorTo:  0,
		connectionID:   e.cid,
		resetToken:     e.resetToken,
	}
}

func (r *connIDRegistry) retireLocal(seq uint64) {
	for i, e := range r.local {
		if e.seq == seq {
			r.local = append(r.local[:i], r.local[i+1:]...)
			return
		}
	}
}

// addRemote registers a connection ID the peer issued, retiring every
// entry below retirePriorTo and returning the sequence numbers that need
// a RETIRE_CONNECTION_ID sent back (RFC 9000 §19.15).
func (r *connIDRegistry) addRemote(seq, retirePriorTo uint64, cid []byte, resetToken [16]byte) ([]uint64, error) {
	for _, e := range r.remote {
		if e.seq == seq {
			return nil, nil
		}
	}
	if uint64(len(r.remote))+1 > r.limit {
		return nil, newError(ConnectionIdLimitError, "connection id limit exceeded")
	}
	r.remote = append(r.remote, connIDEntry{seq: seq, cid: append([]byte(nil), cid...), resetToken: resetToken})
	if retirePriorTo > r.retirePriorTo {
		r.retirePriorTo = retirePriorTo
	}
	var retired []uint64
	kept := r.remote[:0]
	for _, e := range r.remote {
		if e.seq < r.retirePriorTo {
			retired = append(retired, e.seq)
			continue
		}
		kept = append(kept, e)
	}
	r.remote = kept
	return retired, nil
}

func (r *connIDRegistry) removeRemote(seq uint64) {
	for i, e := range r.remote {
		if e.seq == seq {
			r.remote = append(r.remote[:i], r.remote[i+1:]...)
			return
		}
	}
}

// current returns the connection ID this endpoint should currently use
// as the destination CID for the peer.
func (r *connIDRegistry) current() ([]byte, bool) {
	if len(r.remote) == 0 {
		return nil, false
	}
	return r.remote[0].cid, true
}
