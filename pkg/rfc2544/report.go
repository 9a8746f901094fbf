package rfc2544

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report renders a ThroughputResult as a human-readable, thousands-grouped
// summary line for the control response's message field, in the same
// message.Printer style the benchmark CLI uses for its final report.
func (r ThroughputResult) Report() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("throughput: %.1f Mbps max rate (%d binary-search iterations)", r.MaxRateMbps, r.Iterations)
}

// Report renders a LatencyResult the same way.
func (r LatencyResult) Report() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("latency: min %d ns / avg %d ns / max %d ns / jitter %d ns over %d tx, %d rx packets",
		r.MinNS, r.AvgNS, r.MaxNS, r.JitterNS, r.TxPackets, r.RxPackets)
}
