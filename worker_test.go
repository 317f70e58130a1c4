package quic

import (
	"sync"
	"testing"
	"time"
)

func TestWorkerPoolPartitionIsStableForSameCID(t *testing.T) {
	p := newWorkerPool(4, func(operation) {})
	defer p.close()
	scid := []byte{7, 1, 2, 3}
	first := p.partition(scid)
	for i := 0; i < 10; i++ {
		if got := p.partition(scid); got != first {
			t.Fatalf("partition(%x) = %d, want stable %d", scid, got, first)
		}
	}
}

func TestWorkerPoolPartitionEmptyCID(t *testing.T) {
	p := newWorkerPool(4, func(operation) {})
	defer p.close()
	if got := p.partition(nil); got != 0 {
		t.Fatalf("partition(nil) = %d, want 0", got)
	}
}

func TestWorkerPoolOrdersPerConnection(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	const n = 50
	p := newWorkerPool(4, func(op operation) {
		mu.Lock()
		seen = append(seen, int(op.data[0]))
		mu.Unlock()
		if len(seen) == n {
			close(done)
		}
	})
	defer p.close()
	scid := []byte{3, 9, 9, 9}
	for i := 0; i < n; i++ {
		p.submit(scid, operation{data: []byte{byte(i)}})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all operations to be processed")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("operations for the same CID were reordered: seen[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestWorkerPoolClosWaitsForInFlight(t *testing.T) {
	var processed int
	var mu sync.Mutex
	p := newWorkerPool(2, func(op operation) {
		mu.Lock()
		processed++
		mu.Unlock()
	})
	for i := 0; i < 20; i++ {
		p.submit([]byte{byte(i)}, operation{data: []byte{byte(i)}})
	}
	p.close()
	mu.Lock()
	defer mu.Unlock()
	if processed != 20 {
		t.Fatalf("processed = %d, want 20 after close drains all workers", processed)
	}
}
