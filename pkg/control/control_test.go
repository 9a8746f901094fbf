package control

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
	"github.com/AaWebst/netgen-dpdk/pkg/engine"
)

type fakeClock struct{}

func (fakeClock) Now() uint64         { return 1 }
func (fakeClock) FrequencyHz() uint64 { return 1_000_000_000 }

func newTestShim() *Shim {
	eng := engine.New(engine.Config{
		Clock:       fakeClock{},
		Pool:        bufpool.New(2048, []int{0}),
		RegistryCap: 64,
		WorkerCores: []int{0},
	})
	return &Shim{Engine: eng}
}

const validProfileParams = `{"profiles":[{"name":"a","stream_id":1,"worker":0,"src_mac":"02:00:00:00:00:01","dst_mac":"02:00:00:00:00:02","src_ip":"10.0.0.1","dst_ip":"10.0.0.2","frame_size":100,"rate_mbps":10}]}`

func TestDispatchUnrecognizedCommand(t *testing.T) {
	s := newTestShim()
	resp := s.dispatch(Request{Command: "not-a-command"})
	if resp.Status != "error" {
		t.Fatalf("dispatch(unrecognized) Status = %q, want error", resp.Status)
	}
}

func TestHandleConfigureAcceptsValidProfiles(t *testing.T) {
	s := newTestShim()
	resp := s.handleConfigure(json.RawMessage(validProfileParams))
	if resp.Status != "success" {
		t.Fatalf("handleConfigure() Status = %q, want success; message=%q", resp.Status, resp.Message)
	}
	if len(s.Engine.Store().All()) != 1 {
		t.Fatalf("Store().All() len = %d, want 1 after configure", len(s.Engine.Store().All()))
	}
}

func TestHandleConfigureRejectsMalformedJSON(t *testing.T) {
	s := newTestShim()
	resp := s.handleConfigure(json.RawMessage(`{not json`))
	if resp.Status != "error" {
		t.Fatalf("handleConfigure(malformed) Status = %q, want error", resp.Status)
	}
}

func TestHandleStartInstallsDefaultProfileWhenNoneGiven(t *testing.T) {
	s := newTestShim()
	resp := s.handleStart(nil)
	if resp.Status != "success" {
		t.Fatalf("handleStart() Status = %q, want success; message=%q", resp.Status, resp.Message)
	}
	defer s.handleStop()

	if s.Engine.State() != engine.Running {
		t.Fatalf("Engine.State() after handleStart() = %v, want Running", s.Engine.State())
	}
	all := s.Engine.Store().All()
	if len(all) != 1 || all[0].Name != "default" {
		t.Fatalf("Store().All() = %+v, want the single default profile", all)
	}
}

func TestHandleStopTransitionsBackToIdle(t *testing.T) {
	s := newTestShim()
	s.handleStart(nil)
	resp := s.handleStop()
	if resp.Status != "success" {
		t.Fatalf("handleStop() Status = %q, want success", resp.Status)
	}
	if s.Engine.State() != engine.Idle {
		t.Fatalf("Engine.State() after handleStop() = %v, want Idle", s.Engine.State())
	}
}

func TestHandleStatsReportsActiveFlowsAndZeroTraffic(t *testing.T) {
	s := newTestShim()
	s.handleConfigure(json.RawMessage(validProfileParams))

	resp := s.handleStats()
	if resp.Status != "success" {
		t.Fatalf("handleStats() Status = %q, want success", resp.Status)
	}
	data, ok := resp.Data.(statsData)
	if !ok {
		t.Fatalf("handleStats() Data type = %T, want statsData", resp.Data)
	}
	if data.Aggregate.ActiveFlows != 1 {
		t.Fatalf("Aggregate.ActiveFlows = %d, want 1", data.Aggregate.ActiveFlows)
	}
	if data.Aggregate.TotalTxPackets != 0 {
		t.Fatalf("Aggregate.TotalTxPackets = %d, want 0 before start", data.Aggregate.TotalTxPackets)
	}
}

func TestHandleHealthEmptyAndHealthyBeforeStart(t *testing.T) {
	s := newTestShim()
	resp := s.handleHealth()
	data, ok := resp.Data.(healthData)
	if !ok {
		t.Fatalf("handleHealth() Data type = %T, want healthData", resp.Data)
	}
	if !data.Healthy {
		t.Fatalf("healthData.Healthy = false, want true when idle")
	}
	if len(data.Workers) != 0 {
		t.Fatalf("healthData.Workers = %+v, want empty when idle", data.Workers)
	}
}

func TestHandleHealthReportsWorkerAfterStart(t *testing.T) {
	s := newTestShim()
	s.handleStart(nil)
	defer s.handleStop()

	time.Sleep(10 * time.Millisecond)

	resp := s.handleHealth()
	data := resp.Data.(healthData)
	if len(data.Workers) == 0 {
		t.Fatalf("healthData.Workers = empty, want at least the tx-0 worker after start")
	}
	if !data.Healthy {
		t.Fatalf("healthData.Healthy = false, want true for a freshly started worker")
	}
}
