package bufpool

import "sync"

// loopback models a single NIC queue as an in-memory mailbox so the
// pooledProvider can stand in for real hardware: TXBurst on queue N makes
// buffers available to RXBurst on the same queue N.
type loopback struct {
	mu      sync.Mutex
	pending []*Buffer
}

var (
	loopbackMu     sync.Mutex
	loopbackQueues = map[int]*loopback{}
)

func loopbackQueue(queue int) *loopback {
	loopbackMu.Lock()
	defer loopbackMu.Unlock()
	lb, ok := loopbackQueues[queue]
	if !ok {
		lb = &loopback{}
		loopbackQueues[queue] = lb
	}
	return lb
}
