// Package bufpool defines the Buffer Pool Provider boundary the rest of
// the engine depends on: a NUMA-tagged source of fixed-size packet buffers
// plus a burst transmit/receive primitive. The NIC driver and its
// hugepage-backed allocator are external collaborators (see pkg/afxdp for
// the concrete AF_XDP-backed implementation); this package only specifies
// the interface the core needs and ships a pure-Go default suitable for
// loopback testing and the RFC 2544 driver's synthetic profiles.
package bufpool

import "fmt"

// Buffer is a mutable, fixed-capacity packet buffer tagged with the NUMA
// node of the core that is allowed to touch it without crossing a socket
// interconnect. Data is sized to the buffer's capacity; forging code
// slices it down to the frame's actual length.
type Buffer struct {
	Data     []byte
	NumaNode int

	refcount *int32
}

// Len reports the buffer's usable capacity.
func (b *Buffer) Len() int { return len(b.Data) }

// Provider allocates, frees, and clones NUMA-local buffers, and exposes the
// burst transmit/receive primitive a Per-Core Worker drives. Implementations
// must be safe for concurrent Allocate/Free calls from different cores;
// buffers should be allocated and freed on the same NUMA node.
type Provider interface {
	// Allocate returns a zeroed buffer of at least size bytes pinned to
	// numaNode. Returns an error (never panics) on exhaustion so callers can
	// count a RUNTIME_TRANSIENT drop instead of crashing the worker.
	Allocate(numaNode int, size int) (*Buffer, error)

	// Free returns a buffer to the pool it was allocated from.
	Free(buf *Buffer)

	// Clone produces a refcounted, zero-copy-equivalent duplicate of buf for
	// the Impairment Engine's duplicate-packet path. The clone must be freed
	// independently of the original.
	Clone(buf *Buffer) (*Buffer, error)

	// TXBurst transmits up to len(bufs) buffers on the given queue and
	// returns the number actually accepted; the caller frees only the
	// accepted prefix, the rest remain owned by the caller to retry or
	// drop. A queue-full condition is reported by returning n < len(bufs)
	// with a nil error, counted as a transient drop rather than an error.
	TXBurst(queue int, bufs []*Buffer) (n int, err error)

	// RXBurst fills into dst and returns the number of buffers received,
	// allocated from the provider itself; the caller is responsible for
	// calling Free once done with each.
	RXBurst(queue int, dst []*Buffer) (n int, err error)
}

// pooledProvider is the in-process default Provider: a per-NUMA-node
// free-list of buffers, the same free-list-of-offsets shape pkg/afxdp's
// Socket uses internally for its UMEM frames, just without a backing NIC.
// It is always available and is what the RFC 2544 driver and unit tests
// run against when no real AF_XDP interface is configured.
type pooledProvider struct {
	nodes map[int]*nodePool
}

type nodePool struct {
	free [][]byte
	size int
}

// New creates an in-process Buffer Pool Provider. bufSize is the capacity
// of every buffer it hands out; numaNodes lists the nodes that get their
// own free list (node 0 only when empty). A free list keeps every buffer
// returned to it, and Allocate falls back to a fresh allocation when the
// list is empty, so the pool grows without bound, matching a hugepage
// pool that just has more hugepages than the steady-state working set.
func New(bufSize int, numaNodes []int) *pooledProvider {
	p := &pooledProvider{nodes: make(map[int]*nodePool, len(numaNodes))}
	for _, n := range numaNodes {
		p.nodes[n] = &nodePool{size: bufSize}
	}
	if len(numaNodes) == 0 {
		p.nodes[0] = &nodePool{size: bufSize}
	}
	return p
}

func (p *pooledProvider) nodePoolFor(numaNode int) *nodePool {
	np, ok := p.nodes[numaNode]
	if !ok {
		np = &nodePool{size: p.nodes[0].size}
		p.nodes[numaNode] = np
	}
	return np
}

func (p *pooledProvider) Allocate(numaNode int, size int) (*Buffer, error) {
	np := p.nodePoolFor(numaNode)
	if size > np.size {
		return nil, fmt.Errorf("bufpool: requested size %d exceeds pool buffer size %d", size, np.size)
	}

	var data []byte
	if n := len(np.free); n > 0 {
		data = np.free[n-1]
		np.free = np.free[:n-1]
		clear(data)
	} else {
		data = make([]byte, np.size)
	}

	rc := int32(1)
	return &Buffer{Data: data[:size], NumaNode: numaNode, refcount: &rc}, nil
}

func (p *pooledProvider) Free(buf *Buffer) {
	if buf == nil || buf.refcount == nil {
		return
	}
	*buf.refcount--
	if *buf.refcount > 0 {
		return
	}
	np := p.nodePoolFor(buf.NumaNode)
	full := buf.Data[:cap(buf.Data)]
	np.free = append(np.free, full)
}

func (p *pooledProvider) Clone(buf *Buffer) (*Buffer, error) {
	if buf == nil {
		return nil, fmt.Errorf("bufpool: clone of nil buffer")
	}
	*buf.refcount++
	return &Buffer{Data: buf.Data, NumaNode: buf.NumaNode, refcount: buf.refcount}, nil
}

// TXBurst is the loopback transport: every submitted buffer is appended to
// an internal per-queue mailbox that RXBurst drains. This is what lets the
// RFC 2544 driver and constant-rate UDP scenarios run end-to-end without
// real hardware.
func (p *pooledProvider) TXBurst(queue int, bufs []*Buffer) (int, error) {
	lb := loopbackQueue(queue)
	lb.mu.Lock()
	for _, b := range bufs {
		cp := make([]byte, len(b.Data))
		copy(cp, b.Data)
		rc := int32(1)
		lb.pending = append(lb.pending, &Buffer{Data: cp, NumaNode: b.NumaNode, refcount: &rc})
	}
	lb.mu.Unlock()
	return len(bufs), nil
}

func (p *pooledProvider) RXBurst(queue int, dst []*Buffer) (int, error) {
	lb := loopbackQueue(queue)
	lb.mu.Lock()
	n := min(len(dst), len(lb.pending))
	copy(dst, lb.pending[:n])
	lb.pending = lb.pending[n:]
	lb.mu.Unlock()
	return n, nil
}
