package worker

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
	"github.com/AaWebst/netgen-dpdk/pkg/clock"
	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/forge"
)

// RXConfig configures an RX worker.
type RXConfig struct {
	CoreID     int
	Queue      int
	Clock      clock.Clock
	Pool       bufpool.Provider
	Correlator *correlate.Correlator
	Logger     *zap.Logger

	// BurstSize bounds how many buffers RXBurst is asked for per poll.
	BurstSize int

	// Heartbeat, if non-nil, is stamped with the current clock reading on
	// every poll, mirroring TXConfig.Heartbeat.
	Heartbeat *atomic.Uint64
}

const defaultRXBurstSize = 64

// RX runs one core's RX loop: drain the queue, correlate every frame
// carrying a recognized Correlation Tag, and free every buffer whether or
// not it correlated. RX returns once stop reports true and the queue has
// drained for one empty poll, matching the DRAINING transition: the
// worker keeps draining its ring rather than dropping in-flight frames
// the instant stop is observed.
func RX(cfg RXConfig, stop func() bool) {
	if cfg.BurstSize == 0 {
		cfg.BurstSize = defaultRXBurstSize
	}
	pinToCore(cfg.CoreID, cfg.Logger)

	dst := make([]*bufpool.Buffer, cfg.BurstSize)
	for {
		if cfg.Heartbeat != nil {
			cfg.Heartbeat.Store(cfg.Clock.Now())
		}
		n, err := cfg.Pool.RXBurst(cfg.Queue, dst)
		if err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("worker: rx burst error", zap.Error(err))
		}
		for i := 0; i < n; i++ {
			rxOne(cfg, dst[i])
		}
		if n == 0 && stop() {
			return
		}
	}
}

func rxOne(cfg RXConfig, buf *bufpool.Buffer) {
	defer cfg.Pool.Free(buf)

	parsed, err := forge.Parse(buf.Data)
	if err != nil {
		return
	}
	if parsed.Tag.Magic == 0 {
		// Not a generator-originated UDP/TCP frame (or too short to carry
		// a tag); nothing to correlate.
		return
	}

	rxTimestampNS := cfg.Clock.Now()
	cfg.Correlator.Observe(correlate.CorrelationTagLike{
		Sequence: parsed.Tag.Sequence,
		StreamID: parsed.Tag.StreamID,
		Magic:    parsed.Tag.Magic,
	}, rxTimestampNS)
}
