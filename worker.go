package quic

import (
	"net"
	"sync"
)

// operation is a unit of work routed to the worker that owns a
// connection: an incoming datagram to feed into the transport state
// machine.
type operation struct {
	remote *remoteConn
	data   []byte
	addr   net.Addr
}

// workerPool runs a fixed number of goroutines, each owning a disjoint
// subset of connections keyed by the first byte of the connection's
// source CID modulo the worker count. A connection's operations always land on the same
// worker, so a Handler never observes two events for the same
// connection concurrently and the caller's own goroutine (the socket
// read loop) never blocks on application code.
type workerPool struct {
	workers []chan operation
	wg      sync.WaitGroup
}

func newWorkerPool(n int, process func(operation)) *workerPool {
	if n <= 0 {
		n = 1
	}
	p := &workerPool{workers: make([]chan operation, n)}
	for i := range p.workers {
		ch := make(chan operation, 128)
		p.workers[i] = ch
		p.wg.Add(1)
		go func(ch chan operation) {
			defer p.wg.Done()
			for op := range ch {
				process(op)
			}
		}(ch)
	}
	return p
}

func (p *workerPool) partition(scid []byte) int {
	if len(scid) == 0 {
		return 0
	}
	return int(scid[0]) % len(p.workers)
}

// submit enqueues op on the worker owning scid. It never blocks the
// caller on application code: only on the bounded channel buffer
// filling up, which only happens if that worker is genuinely behind.
func (p *workerPool) submit(scid []byte, op operation) {
	p.workers[p.partition(scid)] <- op
}

func (p *workerPool) close() {
	for _, ch := range p.workers {
		close(ch)
	}
	p.wg.Wait()
}
