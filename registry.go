package quic

import "sync"

type cidRegistryMode int

const (
	cidModeSingle cidRegistryMode = iota
	cidModeHash
	cidModePartitioned
)

// cidRegistry maps source connection IDs to the remoteConn that owns
// them. A client dialing a single connection never needs a map, so the
// registry starts in single mode; it promotes to a plain hash map on
// the first Listen call, and promotes again to a partitioned hash map
// once the connection count crosses partitionThreshold - sharding by a
// CID byte gives each partition its own RWMutex instead of one lock
// serializing every worker.
type cidRegistry struct {
	partitionThreshold int
	partitionByte      int

	mu     sync.RWMutex
	mode   cidRegistryMode
	single *remoteConn
	flat   map[string]*remoteConn

	shardsMu []sync.RWMutex
	shards   []map[string]*remoteConn
}

func newCIDRegistry(partitionThreshold int) *cidRegistry {
	if partitionThreshold <= 0 {
		partitionThreshold = 1
	}
	return &cidRegistry{
		partitionThreshold: partitionThreshold,
		partitionByte:      1,
	}
}

// promoteToHash switches a single-mode registry (client dial) into hash
// mode, called the first time a binding starts listening for inbound
// connections.
func (r *cidRegistry) promoteToHash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != cidModeSingle {
		return
	}
	r.mode = cidModeHash
	r.flat = make(map[string]*remoteConn)
	if r.single != nil {
		r.flat[string(r.single.scid)] = r.single
		r.single = nil
	}
}

// maybePartition switches a hash-mode registry into shardCount
// partitions once the entry count crosses partitionThreshold.
func (r *cidRegistry) maybePartition(shardCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != cidModeHash || len(r.flat) < r.partitionThreshold || shardCount <= 1 {
		return
	}
	r.mode = cidModePartitioned
	r.shardsMu = make([]sync.RWMutex, shardCount)
	r.shards = make([]map[string]*remoteConn, shardCount)
	for i := range r.shards {
		r.shards[i] = make(map[string]*remoteConn)
	}
	for k, v := range r.flat {
		i := r.shardIndex(v.scid, shardCount)
		r.shards[i][k] = v
	}
	r.flat = nil
}

func (r *cidRegistry) shardIndex(cid []byte, shardCount int) int {
	if len(cid) <= r.partitionByte {
		return 0
	}
	return int(cid[r.partitionByte]) % shardCount
}

func (r *cidRegistry) add(rc *remoteConn) {
	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	switch mode {
	case cidModeSingle:
		r.mu.Lock()
		r.single = rc
		r.mu.Unlock()
	case cidModeHash:
		r.mu.Lock()
		r.flat[string(rc.scid)] = rc
		r.mu.Unlock()
	case cidModePartitioned:
		i := r.shardIndex(rc.scid, len(r.shards))
		r.shardsMu[i].Lock()
		r.shards[i][string(rc.scid)] = rc
		r.shardsMu[i].Unlock()
	}
}

// addAlias registers an additional connection ID that routes to rc
// without changing the key used elsewhere for rc's own bookkeeping
// (rc.scid): a connection issuing extra CIDs via NEW_CONNECTION_ID still
// wants every packet, regardless of which of its CIDs the peer chose,
// dispatched to the single worker that owns rc.scid. A single-mode
// registry holds only one CID, so it is promoted to hash mode first.
func (r *cidRegistry) addAlias(scid []byte, rc *remoteConn) {
	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	switch mode {
	case cidModeSingle:
		r.promoteToHash()
		r.mu.Lock()
		r.flat[string(scid)] = rc
		r.mu.Unlock()
	case cidModeHash:
		r.mu.Lock()
		r.flat[string(scid)] = rc
		r.mu.Unlock()
	case cidModePartitioned:
		i := r.shardIndex(scid, len(r.shards))
		r.shardsMu[i].Lock()
		r.shards[i][string(scid)] = rc
		r.shardsMu[i].Unlock()
	}
}

func (r *cidRegistry) get(scid []byte) *remoteConn {
	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	switch mode {
	case cidModeSingle:
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.single != nil && string(r.single.scid) == string(scid) {
			return r.single
		}
		return nil
	case cidModeHash:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.flat[string(scid)]
	case cidModePartitioned:
		i := r.shardIndex(scid, len(r.shards))
		r.shardsMu[i].RLock()
		defer r.shardsMu[i].RUnlock()
		return r.shards[i][string(scid)]
	}
	return nil
}

func (r *cidRegistry) remove(scid []byte) {
	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	switch mode {
	case cidModeSingle:
		r.mu.Lock()
		if r.single != nil && string(r.single.scid) == string(scid) {
			r.single = nil
		}
		r.mu.Unlock()
	case cidModeHash:
		r.mu.Lock()
		delete(r.flat, string(scid))
		r.mu.Unlock()
	case cidModePartitioned:
		i := r.shardIndex(scid, len(r.shards))
		r.shardsMu[i].Lock()
		delete(r.shards[i], string(scid))
		r.shardsMu[i].Unlock()
	}
}

func (r *cidRegistry) count() int {
	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	switch mode {
	case cidModeSingle:
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.single != nil {
			return 1
		}
		return 0
	case cidModeHash:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.flat)
	case cidModePartitioned:
		n := 0
		for i := range r.shards {
			r.shardsMu[i].RLock()
			n += len(r.shards[i])
			r.shardsMu[i].RUnlock()
		}
		return n
	}
	return 0
}
