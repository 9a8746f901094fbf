//go:build linux

// Command netgend is the traffic engine's process entrypoint: it loads
// config, builds the buffer pool, clock, and engine, and serves the
// control plane socket until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/afxdp"
	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
	"github.com/AaWebst/netgen-dpdk/pkg/clock"
	"github.com/AaWebst/netgen-dpdk/pkg/config"
	"github.com/AaWebst/netgen-dpdk/pkg/control"
	"github.com/AaWebst/netgen-dpdk/pkg/engine"
	"github.com/AaWebst/netgen-dpdk/pkg/logging"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
	"github.com/AaWebst/netgen-dpdk/pkg/rfc2544"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

// parseCoreMask turns "0,1,2" or "0-3" into a slice of core IDs, in the
// order the mask lists them (no sorting).
// An empty mask means "this process owns exactly core 0".
func parseCoreMask(mask string) ([]int, error) {
	mask = strings.TrimSpace(mask)
	if mask == "" {
		return []int{0}, nil
	}
	var cores []int
	for _, part := range strings.Split(mask, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("core_mask: invalid range %q: %w", part, err)
			}
			hiN, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("core_mask: invalid range %q: %w", part, err)
			}
			for c := loN; c <= hiN; c++ {
				cores = append(cores, c)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("core_mask: invalid core %q: %w", part, err)
		}
		cores = append(cores, n)
	}
	if len(cores) == 0 {
		return []int{0}, nil
	}
	return cores, nil
}

func main() {
	fConfig := flag.String("config", "", "path to YAML config file (optional)")
	fSocket := flag.String("socket", "", "control socket path override")
	fCoreMask := flag.String("cores", "", "worker core list override, e.g. \"0,1,2\" or \"0-3\"")
	fPorts := flag.String("ports", "", "comma-separated NIC interface names override")
	fHugepagesMB := flag.Int("hugepages-mb", 0, "hugepage budget override, in MB")
	fJSON := flag.Bool("json", false, "emit logs as JSON instead of console")
	fVerbose := flag.Bool("v", false, "debug-level logging")
	fQuiet := flag.Bool("q", false, "warn-level logging only")
	fRX := flag.Bool("rx", true, "run a receive worker alongside TX workers")
	flag.Parse()

	cfg := config.Defaults()
	if *fConfig != "" {
		var err error
		cfg, err = config.Load(*fConfig)
		fatalIf(err, "loading config")
	}
	var ports []string
	if *fPorts != "" {
		ports = strings.Split(*fPorts, ",")
	}
	cfg.Apply(config.Overrides{
		ControlSocketPath: *fSocket,
		CoreMask:          *fCoreMask,
		Ports:             ports,
		HugepagesMB:       *fHugepagesMB,
	})
	fatalIf(cfg.Validate(), "validating config")

	log, cleanup, err := logging.New(logging.Config{
		JSON:    *fJSON || cfg.Logging.JSON,
		Verbose: boolToVerbose(*fVerbose || cfg.Logging.Verbose > 0),
		Quiet:   *fQuiet || cfg.Logging.Quiet,
	})
	fatalIf(err, "building logger")
	defer cleanup(context.Background())

	cores, err := parseCoreMask(cfg.CoreMask)
	fatalIf(err, "parsing core_mask")

	log.Info("netgend: starting",
		zap.String("control_socket", cfg.ControlSocketPath),
		zap.Ints("worker_cores", cores),
		zap.Strings("ports", cfg.Ports),
	)

	sysClock := clock.NewSystem()

	var pool bufpool.Provider
	var closeNIC func() error
	if len(cfg.Ports) > 0 {
		afxdpPool, closeFn, err := afxdp.OpenProvider(cfg.Ports, cores, afxdp.SocketConfig{})
		fatalIf(err, "opening AF_XDP provider")
		pool, closeNIC = afxdpPool, closeFn
		log.Info("netgend: using AF_XDP buffer pool", zap.Strings("ports", cfg.Ports))
	} else {
		pool = bufpool.New(9000, cores)
		log.Info("netgend: no ports configured, using loopback buffer pool")
	}
	if closeNIC != nil {
		defer func() {
			if err := closeNIC(); err != nil {
				log.Warn("netgend: closing AF_XDP provider", zap.Error(err))
			}
		}()
	}

	eng := engine.New(engine.Config{
		Clock:       sysClock,
		Pool:        pool,
		Log:         log,
		RegistryCap: 65536,
		WorkerCores: cores,
		RXCoreID:    cores[0],
		HasRXWorker: *fRX,
	})

	if len(cfg.Profiles) > 0 {
		converted, err := convertProfiles(cfg.Profiles)
		fatalIf(err, "converting configured profiles")
		fatalIf(eng.Configure(converted), "applying configured profiles")
	}

	driver := &rfc2544.Driver{
		Engine: eng,
		Log:    log,
	}

	shim := &control.Shim{
		SocketPath: cfg.ControlSocketPath,
		Engine:     eng,
		Driver:     driver,
		Log:        log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Ports) > 0 {
		go afxdp.WatchNICCounters(ctx, log, cfg.Ports, 5*time.Second)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- shim.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("netgend: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("netgend: control shim exited", zap.Error(err))
			eng.Abort()
			os.Exit(1)
		}
	}

	if eng.State() == engine.Running {
		fatalIf(eng.Stop(), "stopping engine")
	}
	log.Info("netgend: shutdown complete")
}

func boolToVerbose(b bool) int {
	if b {
		return 1
	}
	return 0
}

func convertProfiles(specs []config.ProfileSpec) ([]*profile.Profile, error) {
	out := make([]*profile.Profile, 0, len(specs))
	for _, spec := range specs {
		p, err := spec.ToProfile()
		if err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", spec.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}
