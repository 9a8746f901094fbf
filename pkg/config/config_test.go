package config

import (
	"testing"

	"github.com/AaWebst/netgen-dpdk/pkg/pattern"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := Defaults()
	cfg.ControlSocketPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() with empty control_socket_path = nil, want error")
	}
}

func TestValidateRejectsNonPositiveLinkCapacity(t *testing.T) {
	cfg := Defaults()
	cfg.LinkCapacityMbps = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() with link_capacity_mbps=0 = nil, want error")
	}
}

func TestValidateRejectsDuplicateProfileStreamID(t *testing.T) {
	cfg := Defaults()
	cfg.Profiles = []ProfileSpec{
		{Name: "a", StreamID: 1},
		{Name: "b", StreamID: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() with duplicate stream_id = nil, want error")
	}
}

func TestApplyOnlyOverridesNonEmptyFields(t *testing.T) {
	cfg := Defaults()
	cfg.CoreMask = "0-3"
	cfg.Apply(Overrides{ControlSocketPath: "/tmp/override.sock"})
	if cfg.CoreMask != "0-3" {
		t.Fatalf("CoreMask = %q, want unchanged 0-3 since override left it empty", cfg.CoreMask)
	}
	if cfg.ControlSocketPath != "/tmp/override.sock" {
		t.Fatalf("ControlSocketPath = %q, want override applied", cfg.ControlSocketPath)
	}
}

func TestProfileSpecToProfileRejectsInvalidMAC(t *testing.T) {
	spec := ProfileSpec{
		Name: "bad", SrcMAC: "not-a-mac", DstMAC: "02:00:00:00:00:02",
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", FrameSize: 100,
	}
	if _, err := spec.ToProfile(); err == nil {
		t.Fatalf("ToProfile() with invalid src_mac = nil, want error")
	}
}

func TestProfileSpecToProfileDetectsIPv6Family(t *testing.T) {
	spec := ProfileSpec{
		Name: "v6", SrcMAC: "02:00:00:00:00:01", DstMAC: "02:00:00:00:00:02",
		SrcIP: "2001:db8::1", DstIP: "2001:db8::2", FrameSize: 100,
	}
	p, err := spec.ToProfile()
	if err != nil {
		t.Fatalf("ToProfile() error = %v", err)
	}
	if p.Template.L3.Family != profile.IPv6 {
		t.Fatalf("Template.L3.Family = %v, want IPv6", p.Template.L3.Family)
	}
	if p.Template.L3.SrcIP.To4() != nil {
		t.Fatalf("ToProfile() with an IPv6 src_ip produced a 4-byte address")
	}
}

func TestParsePatternRecognizesKnownNames(t *testing.T) {
	p, err := (ProfileSpec{
		Name: "pat", SrcMAC: "02:00:00:00:00:01", DstMAC: "02:00:00:00:00:02",
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", FrameSize: 100,
		Pattern: "sine", PatternBase: 10, PatternPeak: 100, PatternPeriodSec: 5,
	}).ToProfile()
	if err != nil {
		t.Fatalf("ToProfile() error = %v", err)
	}
	if p.Pacing.Pattern == nil {
		t.Fatalf("Pacing.Pattern = nil, want a SINE descriptor")
	}
	if p.Pacing.Pattern.Kind != pattern.Sine {
		t.Fatalf("Pacing.Pattern.Kind = %v, want Sine", p.Pacing.Pattern.Kind)
	}
}

func TestParsePatternUsesExplicitMeanAndStdDevForNormal(t *testing.T) {
	p, err := (ProfileSpec{
		Name: "norm", SrcMAC: "02:00:00:00:00:01", DstMAC: "02:00:00:00:00:02",
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", FrameSize: 100,
		Pattern: "normal", PatternBase: 10, PatternPeak: 1000,
		PatternMean: 500, PatternStdDev: 50,
	}).ToProfile()
	if err != nil {
		t.Fatalf("ToProfile() error = %v", err)
	}
	if p.Pacing.Pattern.Mean != 500 {
		t.Fatalf("Pacing.Pattern.Mean = %v, want the explicit pattern_mean of 500, not pattern_base", p.Pacing.Pattern.Mean)
	}
	if p.Pacing.Pattern.StdDev != 50 {
		t.Fatalf("Pacing.Pattern.StdDev = %v, want 50", p.Pacing.Pattern.StdDev)
	}
}

func TestParsePatternDefaultsMeanToBaseWhenUnset(t *testing.T) {
	p, err := (ProfileSpec{
		Name: "pois", SrcMAC: "02:00:00:00:00:01", DstMAC: "02:00:00:00:00:02",
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", FrameSize: 100,
		Pattern: "poisson", PatternBase: 250,
	}).ToProfile()
	if err != nil {
		t.Fatalf("ToProfile() error = %v", err)
	}
	if p.Pacing.Pattern.Mean != 250 {
		t.Fatalf("Pacing.Pattern.Mean = %v, want 250 (pattern_base) when pattern_mean is left unset", p.Pacing.Pattern.Mean)
	}
}

func TestParsePatternUnknownNameLeavesPatternNil(t *testing.T) {
	p, err := (ProfileSpec{
		Name: "const", SrcMAC: "02:00:00:00:00:01", DstMAC: "02:00:00:00:00:02",
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", FrameSize: 100,
		Pattern: "not-a-real-pattern",
	}).ToProfile()
	if err != nil {
		t.Fatalf("ToProfile() error = %v", err)
	}
	if p.Pacing.Pattern != nil {
		t.Fatalf("Pacing.Pattern = %+v, want nil for an unrecognized pattern name", p.Pacing.Pattern)
	}
}
