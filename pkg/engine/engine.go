// Package engine ties the Profile Store, worker set, and buffer pool
// together behind a single owned value with an explicit IDLE/RUNNING/
// DRAINING state machine, rather than the ambient running-flag/pool-
// handle globals a naive port would reach for. The control plane shim in
// pkg/control is this package's only intended caller.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
	"github.com/AaWebst/netgen-dpdk/pkg/clock"
	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
	"github.com/AaWebst/netgen-dpdk/pkg/worker"
)

// State is one of the engine's lifecycle states.
type State uint8

const (
	Idle State = iota
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Config is the fixed configuration an Engine is built with.
type Config struct {
	Clock        clock.Clock
	Pool         bufpool.Provider
	Log          *zap.Logger
	RegistryCap  int // per-shard TX Timestamp Registry capacity
	WorkerCores  []int
	RXCoreID     int
	HasRXWorker  bool
}

// Engine is the single value a running process owns: Profile Store,
// worker set, and the state machine governing when the store may be
// mutated and when workers may be started.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	state State

	store      *profile.Store
	registry   *correlate.Sharded
	correlator *correlate.Correlator

	stopFlag   atomic.Bool
	wg         sync.WaitGroup
	heartbeats map[int]*atomic.Uint64 // core id -> last-seen clock reading
}

// New creates an IDLE Engine. The caller is expected to hold it for the
// lifetime of the process and route every control command through its
// methods rather than touching the Profile Store or workers directly.
func New(cfg Config) *Engine {
	if len(cfg.WorkerCores) == 0 {
		cfg.WorkerCores = []int{0}
	}
	store := profile.NewStore()
	registry := correlate.NewSharded(cfg.WorkerCores, cfg.RegistryCap)
	coreOf := func(streamID uint16) (int, bool) {
		p, ok := store.Get(streamID)
		if !ok {
			return 0, false
		}
		return p.Worker, true
	}
	return &Engine{
		cfg:        cfg,
		state:      Idle,
		store:      store,
		registry:   registry,
		correlator: correlate.New(registry, coreOf),
	}
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Configure replaces the Profile Store, validating and distributing
// profiles across cfg.WorkerCores round-robin when a profile does not
// already name a Worker. Rejected while RUNNING or DRAINING.
func (e *Engine) Configure(profiles []*profile.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return fmt.Errorf("engine: configure rejected in state %s", e.state)
	}
	for i, p := range profiles {
		if p.Worker == 0 && len(e.cfg.WorkerCores) > 0 {
			p.Worker = e.cfg.WorkerCores[i%len(e.cfg.WorkerCores)]
			continue
		}
		if !containsCore(e.cfg.WorkerCores, p.Worker) {
			return fmt.Errorf("engine: profile %q pinned to worker %d, which is not one of the configured worker cores", p.Name, p.Worker)
		}
	}
	return e.store.Replace(profiles)
}

func containsCore(cores []int, core int) bool {
	for _, c := range cores {
		if c == core {
			return true
		}
	}
	return false
}

// Start transitions IDLE->RUNNING and launches one TX worker per
// configured core that has at least one profile assigned (cores with no
// profiles get no worker) plus, if enabled, one RX worker.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return fmt.Errorf("engine: start rejected in state %s", e.state)
	}
	e.stopFlag.Store(false)
	stop := func() bool { return e.stopFlag.Load() }
	e.heartbeats = make(map[int]*atomic.Uint64, len(e.cfg.WorkerCores)+1)

	for _, core := range e.cfg.WorkerCores {
		profiles := e.store.ByWorker(core)
		if len(profiles) == 0 {
			continue
		}
		hb := &atomic.Uint64{}
		e.heartbeats[core] = hb
		cfg := worker.TXConfig{
			CoreID:    core,
			Queue:     core,
			Clock:     e.cfg.Clock,
			Pool:      e.cfg.Pool,
			Registry:  e.registry,
			Logger:    e.cfg.Log,
			Heartbeat: hb,
		}
		e.wg.Add(1)
		go func(cfg worker.TXConfig, profiles []*profile.Profile) {
			defer e.wg.Done()
			worker.TX(cfg, profiles, stop)
		}(cfg, profiles)
	}

	if e.cfg.HasRXWorker {
		hb := &atomic.Uint64{}
		e.heartbeats[-1-e.cfg.RXCoreID] = hb // negative key namespaces RX apart from TX cores sharing the same core id
		rxCfg := worker.RXConfig{
			CoreID:     e.cfg.RXCoreID,
			Queue:      e.cfg.RXCoreID,
			Clock:      e.cfg.Clock,
			Pool:       e.cfg.Pool,
			Correlator: e.correlator,
			Logger:     e.cfg.Log,
			Heartbeat:  hb,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			worker.RX(rxCfg, stop)
		}()
	}

	e.state = Running
	return nil
}

// Stop signals RUNNING->DRAINING, joins every worker, then transitions to
// IDLE. It blocks the caller until every worker has exited.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return fmt.Errorf("engine: stop rejected in state %s", e.state)
	}
	e.state = Draining
	e.mu.Unlock()

	e.stopFlag.Store(true)
	e.wg.Wait()

	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()
	return nil
}

// Abort forces the engine back to IDLE from any state, for a RUNTIME_FATAL
// condition (e.g. link loss) that must abort the current test rather than
// be absorbed as a counter. Unlike Stop it performs no state check and
// never passes through DRAINING; it still signals stop and blocks until
// every worker has exited.
func (e *Engine) Abort() {
	e.stopFlag.Store(true)
	e.wg.Wait()
	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()
}

// Store exposes the Profile Store for read-only inspection (stats, test
// setup). Mutation outside Configure is not supported.
func (e *Engine) Store() *profile.Store { return e.store }

// Correlator exposes the Receive Correlator for the stats path and the
// RFC 2544 driver.
func (e *Engine) Correlator() *correlate.Correlator { return e.correlator }

// WorkerHealth is the liveness verdict for one worker, keyed the way
// Health reports it: non-negative keys are TX worker core ids, negative
// keys (-1-coreID) are the RX worker on that core.
type WorkerHealth struct {
	StaleNS uint64
	Healthy bool
}

// Health reports whether every RUNNING worker has stamped its heartbeat
// within window of now, surfacing a wedged worker (a RUNTIME_FATAL
// condition) before the next stats poll would notice a stalled counter.
// It returns an empty, all-healthy result when the engine is not RUNNING.
func (e *Engine) Health(window uint64) map[int]WorkerHealth {
	e.mu.Lock()
	running := e.state == Running
	heartbeats := e.heartbeats
	e.mu.Unlock()

	out := make(map[int]WorkerHealth, len(heartbeats))
	if !running {
		return out
	}
	now := e.cfg.Clock.Now()
	for core, hb := range heartbeats {
		last := hb.Load()
		var stale uint64
		if now > last {
			stale = now - last
		}
		out[core] = WorkerHealth{StaleNS: stale, Healthy: stale <= window}
	}
	return out
}

// ResetCounters zeroes every profile's emission counters and every
// stream's correlator stats, used at the start of an RFC 2544 test phase.
func (e *Engine) ResetCounters() {
	for _, p := range e.store.All() {
		p.Counters.PacketsSent.Store(0)
		p.Counters.BytesSent.Store(0)
		p.Counters.PacketsDroppedByNIC.Store(0)
		p.Counters.PacketsDuplicated.Store(0)
		p.Counters.PacketsDroppedAlloc.Store(0)
		p.Counters.PacketsDroppedImpair.Store(0)
	}
	e.correlator.ResetAll()
}
