package afxdp

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/ifacestat"
)

// WatchNICCounters polls ethtool -S on ifaces every interval until ctx is
// canceled, logging the delta in TX/RX packets and bytes each tick. These
// are the NIC's own counters, taken below the AF_XDP rings; NIC or driver
// drop and error counters are not read or logged.
func WatchNICCounters(ctx context.Context, log *zap.Logger, ifaces []string, interval time.Duration) {
	if len(ifaces) == 0 || log == nil {
		return
	}

	prev, err := ifacestat.Snapshot(ifaces,
		ifacestat.TxPackets, ifacestat.TxBytes, ifacestat.RxPackets, ifacestat.RxBytes)
	if err != nil {
		log.Warn("afxdp: initial NIC counter snapshot failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now, err := ifacestat.Snapshot(ifaces,
				ifacestat.TxPackets, ifacestat.TxBytes, ifacestat.RxPackets, ifacestat.RxBytes)
			if err != nil {
				log.Warn("afxdp: NIC counter snapshot failed", zap.Error(err))
				continue
			}
			delta := now.Since(prev)
			prev = now
			for iface, s := range delta {
				log.Info("afxdp: NIC counters",
					zap.String("iface", iface),
					zap.String("tx_packets", humanize.Comma(int64(s[ifacestat.TxPackets]))),
					zap.String("tx_bytes", humanize.Bytes(s[ifacestat.TxBytes])),
					zap.String("rx_packets", humanize.Comma(int64(s[ifacestat.RxPackets]))),
					zap.String("rx_bytes", humanize.Bytes(s[ifacestat.RxBytes])),
				)
			}
		}
	}
}
