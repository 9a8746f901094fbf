package afxdp

import (
	"fmt"
	"sync"

	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
)

// frameKind tracks what a borrowed UMEM frame is for, since Free must
// behave differently depending on which ring is expected to reclaim it.
type frameKind uint8

const (
	// kindAllocated is a TX frame borrowed via NextFrame and not yet
	// submitted; Free returns it straight to the local free-frame pool.
	kindAllocated frameKind = iota
	// kindSubmitted is a TX frame already handed to the kernel; the
	// completion ring reclaims its address on its own, so Free just drops
	// the bookkeeping entry.
	kindSubmitted
	// kindRX is a frame received off the RX ring; Free returns it to the
	// fill queue so the kernel can write into it again.
	kindRX
)

type frameRef struct {
	socket *Socket
	addr   uint64
	kind   frameKind
}

// Provider adapts a set of per-queue AF_XDP sockets into a
// bufpool.Provider. Each queue's UMEM frames only ever travel through
// that queue's own rings, so Allocate's numaNode argument is interpreted
// as the destination queue ID — the same core/queue identity pkg/worker
// and pkg/engine already use for everything else.
type Provider struct {
	mu      sync.RWMutex
	sockets map[int]*Socket

	frameMu sync.Mutex
	frames  map[*bufpool.Buffer]frameRef
}

// NewProvider wraps an already-opened set of per-queue sockets, keyed by
// the queue ID each worker is configured with.
func NewProvider(queueSockets map[int]*Socket) *Provider {
	return &Provider{
		sockets: queueSockets,
		frames:  make(map[*bufpool.Buffer]frameRef),
	}
}

// AddSocket registers an additional queue's socket, for a provider built
// up incrementally as interfaces are opened.
func (p *Provider) AddSocket(queue int, s *Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sockets[queue] = s
}

func (p *Provider) socketFor(queue int) (*Socket, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sockets[queue]
	if !ok {
		return nil, fmt.Errorf("afxdp: no socket opened for queue %d", queue)
	}
	return s, nil
}

// Allocate borrows a UMEM frame from numaNode's socket (interpreted as a
// queue ID), reclaiming TX completions first if the local free-frame pool
// is empty.
func (p *Provider) Allocate(numaNode int, size int) (*bufpool.Buffer, error) {
	s, err := p.socketFor(numaNode)
	if err != nil {
		return nil, err
	}

	frame := s.NextFrame()
	if frame.Buf == nil {
		s.PollCompletions(s.conf.BatchSize)
		frame = s.NextFrame()
		if frame.Buf == nil {
			return nil, fmt.Errorf("afxdp: queue %d: no free UMEM frame", numaNode)
		}
	}
	if size > len(frame.Buf) {
		s.ReturnFrame(frame.Addr)
		return nil, fmt.Errorf("afxdp: requested size %d exceeds frame size %d", size, len(frame.Buf))
	}

	buf := &bufpool.Buffer{Data: frame.Buf[:size], NumaNode: numaNode}
	clear(buf.Data) // UMEM frames are reused; Provider.Allocate returns zeroed buffers
	p.frameMu.Lock()
	p.frames[buf] = frameRef{socket: s, addr: frame.Addr, kind: kindAllocated}
	p.frameMu.Unlock()
	return buf, nil
}

// Free reclaims buf according to how it was obtained: an unsent TX frame
// goes straight back to the free-frame pool, a submitted TX frame is left
// for the completion ring, and a received frame goes back to the fill
// queue.
func (p *Provider) Free(buf *bufpool.Buffer) {
	if buf == nil {
		return
	}
	p.frameMu.Lock()
	ref, ok := p.frames[buf]
	if ok {
		delete(p.frames, buf)
	}
	p.frameMu.Unlock()
	if !ok {
		return
	}

	switch ref.kind {
	case kindAllocated:
		ref.socket.ReturnFrame(ref.addr)
	case kindRX:
		_ = ref.socket.Release(Frame{Addr: ref.addr})
	case kindSubmitted:
		// Nothing to do: the completion ring already owns this address.
	}
}

// Clone borrows a fresh frame from buf's socket and copies buf's bytes
// into it, for the Impairment Engine's duplicate-packet path. AF_XDP has
// no refcounted alias of an in-flight descriptor: a duplicate needs its
// own address so the two transmits don't race over the same UMEM slot.
func (p *Provider) Clone(buf *bufpool.Buffer) (*bufpool.Buffer, error) {
	p.frameMu.Lock()
	ref, ok := p.frames[buf]
	p.frameMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("afxdp: clone of unknown buffer")
	}

	frame := ref.socket.NextFrame()
	if frame.Buf == nil {
		ref.socket.PollCompletions(ref.socket.conf.BatchSize)
		frame = ref.socket.NextFrame()
		if frame.Buf == nil {
			return nil, fmt.Errorf("afxdp: no free UMEM frame to clone into")
		}
	}

	n := copy(frame.Buf, buf.Data)
	dup := &bufpool.Buffer{Data: frame.Buf[:n], NumaNode: buf.NumaNode}
	p.frameMu.Lock()
	p.frames[dup] = frameRef{socket: ref.socket, addr: frame.Addr, kind: kindAllocated}
	p.frameMu.Unlock()
	return dup, nil
}

// TXBurst submits each buffer to queue's TX ring in order, stopping at the
// first error, and rings the doorbell once for whatever was accepted.
// Accepted buffers stay in the bookkeeping map as kindSubmitted; the
// caller is still expected to call Free on them, matching the
// bufpool.Provider contract, but Free will not recycle the address itself.
func (p *Provider) TXBurst(queue int, bufs []*bufpool.Buffer) (int, error) {
	s, err := p.socketFor(queue)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, buf := range bufs {
		p.frameMu.Lock()
		ref, ok := p.frames[buf]
		p.frameMu.Unlock()
		if !ok {
			break
		}
		if err := s.Submit(ref.addr, uint32(len(buf.Data))); err != nil {
			if n > 0 {
				_ = s.FlushTx()
			}
			return n, err
		}
		ref.kind = kindSubmitted
		p.frameMu.Lock()
		p.frames[buf] = ref
		p.frameMu.Unlock()
		n++
	}
	if n > 0 {
		if err := s.FlushTx(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// OpenProvider attaches XDP to ifaceNames[0] and opens one socket per
// queue ID in queues on that interface, returning a ready Provider and a
// close func that tears every socket and the interface down in reverse
// order. Only the first interface is used for now: a true dual-port
// bidirectional setup needs two Providers, one per physical port, wired
// by the caller.
func OpenProvider(ifaceNames []string, queues []int, conf SocketConfig) (*Provider, func() error, error) {
	if len(ifaceNames) == 0 {
		return nil, nil, fmt.Errorf("afxdp: no interface names given")
	}
	iface, err := MakeInterface(ifaceNames[0], InterfaceConfig{PreferZerocopy: true})
	if err != nil {
		return nil, nil, fmt.Errorf("afxdp: attaching to %s: %w", ifaceNames[0], err)
	}

	sockets := make(map[int]*Socket, len(queues))
	for _, q := range queues {
		qConf := conf
		qConf.QueueID = uint32(q)
		sock, err := iface.Open(qConf)
		if err != nil {
			for _, opened := range sockets {
				opened.Close()
			}
			iface.Close()
			return nil, nil, fmt.Errorf("afxdp: opening queue %d: %w", q, err)
		}
		sockets[q] = sock
	}

	provider := NewProvider(sockets)
	closeFn := func() error {
		var firstErr error
		for _, sock := range sockets {
			if err := sock.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := iface.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	return provider, closeFn, nil
}

// RXBurst drains up to len(dst) frames off queue's RX ring. Every
// returned buffer is owned by the caller until Free, which returns it to
// the fill queue.
func (p *Provider) RXBurst(queue int, dst []*bufpool.Buffer) (int, error) {
	s, err := p.socketFor(queue)
	if err != nil {
		return 0, err
	}
	frames, err := s.Receive(uint32(len(dst)))
	if err != nil {
		return 0, err
	}

	p.frameMu.Lock()
	for i, f := range frames {
		buf := &bufpool.Buffer{Data: f.Buf, NumaNode: queue}
		p.frames[buf] = frameRef{socket: s, addr: f.Addr, kind: kindRX}
		dst[i] = buf
	}
	p.frameMu.Unlock()
	return len(frames), nil
}
