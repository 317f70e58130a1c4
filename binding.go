package quic

import (
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/goburrow/quic/transport"
)

// errCIDCollision is returned by addSourceCID when every retry picked an
// already-registered connection ID (RFC 9000 §4.3 never expects this to
// happen in practice with a cryptographically random CID, but the
// corpus's add_source_cid contract caps the retry loop rather than
// looping forever).
var errCIDCollision = errors.New("quic: connection id collision")

const maxCIDRetries = 8
const maxRateTableSize = 4096

// binding owns one UDP socket, the connections dispatched from it
// (keyed by their local source CID through a cidRegistry), and the
// per-source-address rate limiting that guards new-connection attempts
// before any protocol work runs.
type binding struct {
	config  *Config
	logger  logger
	handler Handler

	socket net.PacketConn

	registry *cidRegistry
	workers  *workerPool
	reset    statelessResetter
	retries  retryTokenState

	rateMu    sync.Mutex
	rateTable map[string]*rate.Limiter
	rateOrder []string // Oldest-first, for LRU eviction.

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newBinding(config *Config) *binding {
	workerCount := workerCountFor(config)
	b := &binding{
		config:    config,
		registry:  newCIDRegistry(4 * workerCount),
		reset:     newStatelessResetter(),
		retries:   newRetryTokenState(),
		rateTable: make(map[string]*rate.Limiter),
		closeCh:   make(chan struct{}),
	}
	b.workers = newWorkerPool(workerCount, b.process)
	return b
}

func workerCountFor(config *Config) int {
	n := config.MaxConnections / 100
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	return n
}

func (b *binding) setHandler(h Handler) { b.handler = h }

func (b *binding) setLogger(level int, w io.Writer) {
	b.logger.level = logLevel(level)
	b.logger.setWriter(w)
}

func (b *binding) listen(addr string) error {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	b.socket = socket
	b.registry.promoteToHash()
	go b.serve()
	return nil
}

func (b *binding) localAddr() net.Addr {
	if b.socket == nil {
		return nil
	}
	return b.socket.LocalAddr()
}

func (b *binding) serve() {
	buf := make([]byte, b.config.RecvBufferSize)
	for {
		n, addr, err := b.socket.ReadFrom(buf)
		if err != nil {
			select {
			case <-b.closeCh:
				return
			default:
			}
			logrus.WithField("op", xid.New().String()).Errorf("quic: read: %v", err)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		b.dispatch(data, addr)
	}
}

// dispatch routes an incoming datagram to the connection it belongs to
// by peeking its destination CID, without decrypting it - the actual
// protocol processing happens on the worker that owns the connection.
func (b *binding) dispatch(data []byte, addr net.Addr) {
	dcid, _, err := transport.PeekConnectionIDs(data, transport.MaxCIDLength)
	if err != nil {
		logrus.Debugf("quic: %s: dropped undecodable packet: %v", addr, err)
		return
	}
	rc := b.registry.get(dcid)
	if rc != nil {
		b.workers.submit(rc.scid, operation{remote: rc, data: data, addr: addr})
		return
	}
	if len(data) > 0 && data[0]&0x80 == 0 {
		// Short header for an unknown connection: most likely a stray
		// packet for a connection we've already torn down. Reply with a
		// stateless reset so the peer stops retrying instead of waiting
		// out its idle timeout.
		b.sendStatelessReset(dcid, addr)
		return
	}
	version, clientDCID, clientSCID, token, ok := transport.PeekInitial(data)
	if !ok {
		logrus.Debugf("quic: %s: dropped undecodable initial", addr)
		return
	}
	if !transport.VersionSupported(version) {
		b.sendVersionNegotiation(clientDCID, clientSCID, addr)
		return
	}
	if len(data) < transport.MinInitialPacketSize {
		logrus.Debugf("quic: %s: dropped undersized initial", addr)
		return
	}
	var odcid []byte
	if b.config.RequireRetry {
		if len(token) == 0 {
			b.sendRetry(clientDCID, clientSCID, addr)
			return
		}
		var valid bool
		odcid, valid = b.retries.open(time.Now(), token, addr)
		if !valid {
			logrus.Debugf("quic: %s: invalid retry token", addr)
			return
		}
	}
	rc = b.accept(odcid, addr)
	if rc == nil {
		return
	}
	b.workers.submit(rc.scid, operation{remote: rc, data: data, addr: addr})
}

// sendVersionNegotiation replies to a long header packet naming a
// version this binding doesn't speak with the list it does support
// (RFC 9000 §6), addressed back using the client's own connection IDs
// with source and destination swapped.
func (b *binding) sendVersionNegotiation(clientDCID, clientSCID []byte, addr net.Addr) {
	if b.socket == nil {
		return
	}
	if !b.allow(addr) {
		logrus.Debugf("quic: %s: rate limited", addr)
		return
	}
	pkt := transport.EncodeVersionNegotiation(clientSCID, clientDCID, []uint32{transport.Version1})
	if _, err := b.socket.WriteTo(pkt, addr); err != nil {
		logrus.Debugf("quic: %s: version negotiation: %v", addr, err)
	}
}

// sendRetry replies to a token-less Initial with a fresh connection ID
// and a sealed token (RFC 9000 §8.1.2), asking the client to prove it
// owns addr before this binding allocates any per-connection state.
// clientSCID becomes the Retry packet's destination CID (so the client
// recognizes the reply); odcid is the client's original destination CID,
// bound into both the token and the packet's integrity tag.
func (b *binding) sendRetry(odcid, clientSCID []byte, addr net.Addr) {
	if b.socket == nil {
		return
	}
	if !b.allow(addr) {
		logrus.Debugf("quic: %s: rate limited", addr)
		return
	}
	scid := make([]byte, transport.MaxCIDLength)
	if _, err := rand.Read(scid); err != nil {
		return
	}
	token, err := b.retries.seal(time.Now(), odcid, addr)
	if err != nil {
		logrus.Debugf("quic: %s: retry token: %v", addr, err)
		return
	}
	pkt := transport.EncodeRetry(clientSCID, scid, odcid, token)
	if pkt == nil {
		return
	}
	if _, err := b.socket.WriteTo(pkt, addr); err != nil {
		logrus.Debugf("quic: %s: retry: %v", addr, err)
	}
}

// sendStatelessReset replies to a packet for a connection ID this
// binding no longer recognizes with a packet indistinguishable in
// shape from a short-header 1-RTT packet, carrying the token the peer
// should have recorded from our transport parameters (RFC 9000 §10.3).
func (b *binding) sendStatelessReset(dcid []byte, addr net.Addr) {
	if b.socket == nil {
		return
	}
	if !b.allow(addr) {
		logrus.Debugf("quic: %s: rate limited", addr)
		return
	}
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return
	}
	buf[0] = buf[0]&^0x80 | 0x40
	token := b.reset.token(dcid)
	copy(buf[size-16:], token[:])
	if _, err := b.socket.WriteTo(buf, addr); err != nil {
		logrus.Debugf("quic: %s: stateless reset: %v", addr, err)
	}
}

// accept creates a new server-side connection, applying the
// per-source-address rate limit to new-connection attempts first. odcid
// is the client's original destination CID recovered from a validated
// Retry token, or nil when no Retry round trip happened - left to
// transport.Accept to fill in from the Initial packet itself.
func (b *binding) accept(odcid []byte, addr net.Addr) *remoteConn {
	if b.handler == nil {
		return nil
	}
	if !b.allow(addr) {
		logrus.Debugf("quic: %s: rate limited", addr)
		return nil
	}
	scid := make([]byte, transport.MaxCIDLength)
	if _, err := rand.Read(scid); err != nil {
		return nil
	}
	conn, err := transport.Accept(scid, odcid, b.config.transportConfig(scid, b.reset.tokenBytes(scid)))
	if err != nil {
		logrus.Errorf("quic: %s: accept: %v", addr, err)
		return nil
	}
	rc := newRemoteConn(addr, scid, conn, b.config.RecvBufferSize)
	if err := b.addSourceCID(rc); err != nil {
		logrus.Errorf("quic: %s: %v", addr, err)
		return nil
	}
	b.logger.attachLogger(rc)
	b.registry.maybePartition(len(b.workers.workers))
	return rc
}

// addSourceCID registers rc under its current CID, retrying with a
// fresh random CID (up to maxCIDRetries times) on collision.
func (b *binding) addSourceCID(rc *remoteConn) error {
	for i := 0; i < maxCIDRetries; i++ {
		if b.registry.get(rc.scid) == nil {
			b.registry.add(rc)
			return nil
		}
		scid := make([]byte, transport.MaxCIDLength)
		if _, err := rand.Read(scid); err != nil {
			return err
		}
		rc.scid = scid
	}
	return errCIDCollision
}

// allow applies a token-bucket rate limit per source address to guard
// against a flood of new-connection attempts spending CPU on the TLS
// handshake. The table is capped and evicted LRU-style so a spoofed
// flood of distinct addresses can't grow it unbounded.
func (b *binding) allow(addr net.Addr) bool {
	key := addr.String()
	b.rateMu.Lock()
	defer b.rateMu.Unlock()
	lim, ok := b.rateTable[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(100*time.Millisecond), 5)
		b.rateTable[key] = lim
		b.rateOrder = append(b.rateOrder, key)
		if len(b.rateOrder) > maxRateTableSize {
			oldest := b.rateOrder[0]
			b.rateOrder = b.rateOrder[1:]
			delete(b.rateTable, oldest)
		}
	}
	return lim.Allow()
}

// process runs on the worker owning rc: feeds the datagram into the
// transport connection, flushes outgoing packets, and delivers
// accumulated events (including the connection-lifecycle ones this
// package adds on top of transport.Event) to the handler.
func (b *binding) process(op operation) {
	rc := op.remote
	b.maybeMigrate(rc, op.addr)
	if _, err := rc.conn.Write(op.data); err != nil {
		logrus.Debugf("quic: %s: write: %v", op.addr, err)
	}
	b.flush(rc)
	b.dispatchEvents(rc)
}

// maybeMigrate detects a peer sending from a new (IP, port) tuple on an
// already-established connection and treats it as path migration (RFC
// 9000 §9): the connection optimistically starts replying to the new
// address while a PATH_CHALLENGE validates it, bounded by the
// transport's anti-amplification limit until a PATH_RESPONSE confirms
// it. A change of address before the handshake completes is just
// ordinary NAT rebinding noise during the handshake, not migration.
func (b *binding) maybeMigrate(rc *remoteConn, addr net.Addr) {
	if !rc.conn.IsEstablished() || addr == nil || rc.addr == nil || addr.String() == rc.addr.String() {
		return
	}
	ipChanged := !sameIP(addr, rc.addr)
	if err := rc.conn.OnPathMigrated(ipChanged); err != nil {
		logrus.Debugf("quic: %s: path migration: %v", addr, err)
		return
	}
	rc.addr = addr
}

// sameIP reports whether two net.Addr values share the same IP address,
// ignoring port - used to decide whether a migration also invalidates
// congestion-control state tied to the old network path.
func sameIP(a, b net.Addr) bool {
	ua, aok := a.(*net.UDPAddr)
	ub, bok := b.(*net.UDPAddr)
	if !aok || !bok {
		return a.String() == b.String()
	}
	return ua.IP.Equal(ub.IP)
}

func (b *binding) flush(rc *remoteConn) {
	for {
		n, err := rc.conn.Read(rc.sendBuf)
		if err != nil {
			logrus.Debugf("quic: %s: read: %v", rc.addr, err)
			return
		}
		if n == 0 {
			return
		}
		if _, err := b.socket.WriteTo(rc.sendBuf[:n], rc.addr); err != nil {
			logrus.Debugf("quic: %s: write udp: %v", rc.addr, err)
			return
		}
	}
}

func (b *binding) dispatchEvents(rc *remoteConn) {
	events := rc.conn.Events(nil)
	if !rc.established && rc.conn.IsEstablished() {
		rc.established = true
		events = append([]transport.Event{{Type: transport.EventType(EventConnAccept)}}, events...)
		b.issueExtraCIDs(rc)
	}
	closed := rc.conn.IsClosed()
	if closed {
		events = append(events, transport.Event{Type: transport.EventType(EventConnClose)})
	}
	if len(events) > 0 && b.handler != nil {
		b.handler.Serve(Conn{remote: rc}, events)
	}
	if closed {
		b.registry.remove(rc.scid)
		for _, scid := range rc.extraSCIDs {
			b.registry.remove(scid)
		}
		b.logger.detachLogger(rc)
	}
}

// extraConnectionIDCount is how many additional local connection IDs a
// connection offers the peer once established, so the peer can keep
// talking to it through NAT rebinding or deliberate migration without
// this endpoint's original CID becoming linkable across paths.
const extraConnectionIDCount = 2

// issueExtraCIDs offers the peer a handful of additional connection IDs
// beyond the one used during the handshake (RFC 9000 §5.1.1), each
// registered in the registry so inbound packets addressed to any of them
// still route to rc.
func (b *binding) issueExtraCIDs(rc *remoteConn) {
	for i := 0; i < extraConnectionIDCount; i++ {
		cid, err := rc.conn.IssueConnectionID(func() ([]byte, [16]byte, error) {
			scid := make([]byte, transport.MaxCIDLength)
			if _, err := rand.Read(scid); err != nil {
				return nil, [16]byte{}, err
			}
			return scid, b.reset.token(scid), nil
		})
		if err != nil {
			logrus.Debugf("quic: %s: issue connection id: %v", rc.addr, err)
			return
		}
		if cid == nil {
			return
		}
		rc.extraSCIDs = append(rc.extraSCIDs, cid)
		b.registry.addAlias(cid, rc)
	}
}

// connect creates a client-side connection and dials addr, returning
// once the Initial packet has been handed to the socket.
func (b *binding) connect(addr string) (*remoteConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	scid := make([]byte, transport.MaxCIDLength)
	if _, err := rand.Read(scid); err != nil {
		return nil, err
	}
	conn, err := transport.Connect(scid, b.config.transportConfig(scid, b.reset.tokenBytes(scid)))
	if err != nil {
		return nil, err
	}
	rc := newRemoteConn(raddr, scid, conn, b.config.RecvBufferSize)
	b.registry.add(rc)
	b.logger.attachLogger(rc)
	b.flush(rc)
	return rc, nil
}

func (b *binding) close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closeCh)
		if b.socket != nil {
			err = b.socket.Close()
		}
		b.workers.close()
	})
	return err
}
