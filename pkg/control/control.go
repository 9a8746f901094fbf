// Package control implements the control plane shim: a Unix-domain
// stream socket carrying one newline-terminated JSON request per
// connection and returning one newline-terminated JSON response. net and
// encoding/json are stdlib because nothing in the dependency stack offers
// a Unix-socket JSON-RPC transport; see DESIGN.md for the full
// stdlib-usage justification.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/config"
	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/engine"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
	"github.com/AaWebst/netgen-dpdk/pkg/rfc2544"
)

// Request is one decoded control command.
type Request struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the wire shape every command returns, success or error.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(data interface{}) Response { return Response{Status: "success", Data: data} }
func okMsg(msg string) Response    { return Response{Status: "success", Data: map[string]string{"message": msg}} }
func fail(err error) Response      { return Response{Status: "error", Message: err.Error()} }

// Shim listens on a Unix-domain socket and dispatches each request to the
// engine it owns.
type Shim struct {
	SocketPath string
	Engine     *engine.Engine
	Driver     *rfc2544.Driver
	Log        *zap.Logger

	listener net.Listener
}

// Serve binds the control socket and accepts connections until ctx is
// canceled. It removes a stale socket file left by a prior unclean exit
// before binding, matching how a Unix-socket server recovers from a
// crash without operator intervention.
func (s *Shim) Serve(ctx context.Context) error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("control: listen: %w", err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Shim) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		return
	}

	var req Request
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp = fail(fmt.Errorf("malformed request: %w", err))
	} else {
		resp = s.dispatch(req)
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(resp); err != nil && s.Log != nil {
		s.Log.Warn("control: failed writing response", zap.Error(err))
	}
}

func (s *Shim) dispatch(req Request) Response {
	switch req.Command {
	case "configure":
		return s.handleConfigure(req.Params)
	case "start":
		return s.handleStart(req.Params)
	case "stop":
		return s.handleStop()
	case "stats":
		return s.handleStats()
	case "health":
		return s.handleHealth()
	case "rfc2544_throughput":
		return s.handleThroughput(req.Params)
	case "rfc2544_latency":
		return s.handleLatency(req.Params)
	default:
		return fail(fmt.Errorf("unrecognized command %q", req.Command))
	}
}

func decodeProfiles(params json.RawMessage) ([]*profile.Profile, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var body struct {
		Profiles []config.ProfileSpec `json:"profiles"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		return nil, fmt.Errorf("decoding profiles: %w", err)
	}
	out := make([]*profile.Profile, 0, len(body.Profiles))
	for _, spec := range body.Profiles {
		p, err := spec.ToProfile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// defaultUDPProfile is installed by `start` when no profile array is
// given, so the control channel always has something to run.
func defaultUDPProfile() *profile.Profile {
	return &profile.Profile{
		Name:     "default",
		StreamID: 1,
		Template: profile.Template{
			L2: profile.L2Template{
				SrcMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
				DstMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
			},
			L3: profile.L3Template{
				Family: profile.IPv4,
				SrcIP:  net.IPv4(192, 168, 2, 1),
				DstIP:  net.IPv4(192, 168, 2, 2),
			},
			L4Variant:  profile.UDPGeneric,
			SrcPortMin: 1024,
			SrcPortMax: 65535,
			DstPort:    5000,
			Payload:    profile.PayloadRandom,
			FrameSize:  1400,
		},
		Pacing: profile.Pacing{TargetRateMbps: 100, IntervalCycles: 1},
	}
}

func (s *Shim) handleConfigure(params json.RawMessage) Response {
	profiles, err := decodeProfiles(params)
	if err != nil {
		return fail(err)
	}
	if err := s.Engine.Configure(profiles); err != nil {
		return fail(err)
	}
	return okMsg("Configured")
}

func (s *Shim) handleStart(params json.RawMessage) Response {
	profiles, err := decodeProfiles(params)
	if err != nil {
		return fail(err)
	}
	if len(profiles) == 0 {
		profiles = []*profile.Profile{defaultUDPProfile()}
	}
	if s.Engine.State() == engine.Idle {
		if err := s.Engine.Configure(profiles); err != nil {
			return fail(err)
		}
	}
	if err := s.Engine.Start(); err != nil {
		return fail(err)
	}
	return okMsg("Started")
}

func (s *Shim) handleStop() Response {
	if err := s.Engine.Stop(); err != nil {
		return fail(err)
	}
	return okMsg("Stopped")
}

// statsData is the aggregate counters + latency summary returned by the
// `stats` command: per-profile breakdown plus link-wide totals.
type statsData struct {
	State     string                  `json:"state"`
	Profiles  map[string]profileStats `json:"profiles"`
	Aggregate aggregateStats          `json:"aggregate"`
}

type profileStats struct {
	StreamID    uint16                   `json:"stream_id"`
	Counters    profile.Snapshot         `json:"counters"`
	Correlation correlate.StreamSnapshot `json:"correlation"`
}

// aggregateStats folds every configured profile's counters into link-wide
// totals, so a caller doesn't need to sum the per-profile breakdown
// itself just to answer "how is the link doing overall".
type aggregateStats struct {
	ActiveFlows      int     `json:"active_flows"`
	TotalTxPackets   uint64  `json:"total_tx_packets"`
	TotalRxPackets   uint64  `json:"total_rx_packets"`
	TotalTxBytes     uint64  `json:"total_tx_bytes"`
	AggregateLossPct float64 `json:"aggregate_loss_pct"`
}

func (s *Shim) handleStats() Response {
	profiles := s.Engine.Store().All()
	out := statsData{
		State:    s.Engine.State().String(),
		Profiles: make(map[string]profileStats, len(profiles)),
		Aggregate: aggregateStats{
			ActiveFlows: len(profiles),
		},
	}
	for _, p := range profiles {
		counters := p.Counters.Load()
		corr := s.Engine.Correlator().Snapshot(p.StreamID)
		out.Profiles[p.Name] = profileStats{
			StreamID:    p.StreamID,
			Counters:    counters,
			Correlation: corr,
		}
		out.Aggregate.TotalTxPackets += counters.PacketsSent
		out.Aggregate.TotalTxBytes += counters.BytesSent
		out.Aggregate.TotalRxPackets += corr.Matched + corr.Unmatched
	}
	if out.Aggregate.TotalTxPackets > 0 {
		lost := float64(out.Aggregate.TotalTxPackets) - float64(out.Aggregate.TotalRxPackets)
		if lost < 0 {
			lost = 0
		}
		out.Aggregate.AggregateLossPct = lost / float64(out.Aggregate.TotalTxPackets) * 100
	}
	return ok(out)
}

// healthWindowNS bounds how long a RUNNING worker may go without stamping
// its heartbeat before `health` reports it as wedged; generous enough to
// absorb GC pauses and scheduler jitter on a busy-polling goroutine that
// is not a real pinned hardware thread.
const healthWindowNS = 2_000_000_000 // 2s

// healthData answers the supplemented `health` command: a lightweight
// liveness/watchdog probe distinct from the full counter snapshot,
// surfacing a wedged worker (RUNTIME_FATAL) before the next stats poll
// would notice a stalled counter on its own.
type healthData struct {
	State   string                   `json:"state"`
	Healthy bool                     `json:"healthy"`
	Workers map[string]workerHealth `json:"workers"`
}

type workerHealth struct {
	StaleMS float64 `json:"stale_ms"`
	Healthy bool    `json:"healthy"`
}

func (s *Shim) handleHealth() Response {
	health := s.Engine.Health(healthWindowNS)
	out := healthData{
		State:   s.Engine.State().String(),
		Healthy: true,
		Workers: make(map[string]workerHealth, len(health)),
	}
	for core, h := range health {
		name := fmt.Sprintf("tx-%d", core)
		if core < 0 {
			name = fmt.Sprintf("rx-%d", -1-core)
		}
		out.Workers[name] = workerHealth{
			StaleMS: float64(h.StaleNS) / 1e6,
			Healthy: h.Healthy,
		}
		if !h.Healthy {
			out.Healthy = false
		}
	}
	return ok(out)
}

type throughputParams struct {
	DurationSec      float64 `json:"duration"`
	FrameSize        int     `json:"frame_size"`
	LossThresholdPct float64 `json:"loss_threshold"`
}

func (s *Shim) handleThroughput(params json.RawMessage) Response {
	var p throughputParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fail(fmt.Errorf("decoding params: %w", err))
	}
	result, err := s.Driver.Throughput(context.Background(), rfc2544.ThroughputParams{
		DurationPerStep:  time.Duration(p.DurationSec * float64(time.Second)),
		FrameSize:        p.FrameSize,
		LossThresholdPct: p.LossThresholdPct,
		LinkCapacityMbps: 10000,
	})
	if err != nil {
		return fail(err)
	}
	return Response{
		Status:  "success",
		Message: result.Report(),
		Data:    map[string]float64{"max_rate_mbps": result.MaxRateMbps},
	}
}

type latencyParams struct {
	RateMbps    float64 `json:"rate_mbps"`
	DurationSec float64 `json:"duration"`
	FrameSize   int     `json:"frame_size"`
}

func (s *Shim) handleLatency(params json.RawMessage) Response {
	var p latencyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fail(fmt.Errorf("decoding params: %w", err))
	}
	result, err := s.Driver.Latency(context.Background(), rfc2544.LatencyParams{
		RateMbps:  p.RateMbps,
		Duration:  time.Duration(p.DurationSec * float64(time.Second)),
		FrameSize: p.FrameSize,
	})
	if err != nil {
		return fail(err)
	}
	return Response{
		Status:  "success",
		Message: result.Report(),
		Data: map[string]uint64{
			"min_ns": result.MinNS, "avg_ns": result.AvgNS,
			"max_ns": result.MaxNS, "jitter_ns": result.JitterNS,
		},
	}
}
