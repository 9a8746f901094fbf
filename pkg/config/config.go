// Package config loads the engine's startup configuration from a YAML
// file, with CLI flags overriding individual fields, then validates the
// merged result — the same load-then-override-then-validate shape used
// elsewhere in this codebase for loading a benchmark config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileSpec is one traffic profile as it appears in the YAML config file
// or in a control-socket `configure`/`start` request body, before being
// converted into a runtime profile.Profile. Both tags are kept in lockstep
// on every field since the same struct decodes both wire formats.
type ProfileSpec struct {
	Name     string `yaml:"name" json:"name"`
	StreamID uint16 `yaml:"stream_id" json:"stream_id"`
	Worker   int    `yaml:"worker" json:"worker"`

	SrcMAC string `yaml:"src_mac" json:"src_mac"`
	DstMAC string `yaml:"dst_mac" json:"dst_mac"`
	SrcIP  string `yaml:"src_ip" json:"src_ip"`
	DstIP  string `yaml:"dst_ip" json:"dst_ip"`

	VLANID    uint16 `yaml:"vlan_id" json:"vlan_id"`
	L4Variant string `yaml:"l4_variant" json:"l4_variant"` // "udp", "tcp_syn", "icmp", "dns_query", "http_request"
	DstPort   uint16 `yaml:"dst_port" json:"dst_port"`

	FrameSize int `yaml:"frame_size" json:"frame_size"`

	RateMbps         float64 `yaml:"rate_mbps" json:"rate_mbps"`
	Pattern          string  `yaml:"pattern" json:"pattern"` // "constant", "ramp_up", "sine", "burst", etc; empty means CONSTANT
	PatternBase      float64 `yaml:"pattern_base" json:"pattern_base"`
	PatternPeak      float64 `yaml:"pattern_peak" json:"pattern_peak"`
	PatternPeriodSec float64 `yaml:"pattern_period_sec" json:"pattern_period_sec"`
	PatternBurstMS   float64 `yaml:"pattern_burst_ms" json:"pattern_burst_ms"`
	PatternIdleMS    float64 `yaml:"pattern_idle_ms" json:"pattern_idle_ms"`
	// PatternMean and PatternStdDev drive the POISSON/EXPONENTIAL/NORMAL
	// variants; PatternMean defaults to PatternBase when left zero, so
	// existing configs that only set pattern_base keep working unchanged.
	PatternMean   float64 `yaml:"pattern_mean" json:"pattern_mean"`
	PatternStdDev float64 `yaml:"pattern_stddev" json:"pattern_stddev"`

	ImpairLossPct      float64 `yaml:"impair_loss_pct" json:"impair_loss_pct"`
	ImpairBurstLength  int     `yaml:"impair_burst_length" json:"impair_burst_length"`
	ImpairFixedDelayUS int     `yaml:"impair_fixed_delay_us" json:"impair_fixed_delay_us"`
	ImpairJitterUS     int     `yaml:"impair_jitter_us" json:"impair_jitter_us"`
	ImpairDuplicatePct float64 `yaml:"impair_duplicate_pct" json:"impair_duplicate_pct"`
}

// Config is the engine's full startup configuration.
type Config struct {
	ControlSocketPath string `yaml:"control_socket_path"`

	HugepagesMB int    `yaml:"hugepages_mb"`
	CoreMask    string `yaml:"core_mask"`
	Ports       []string `yaml:"ports"`

	LinkCapacityMbps float64 `yaml:"link_capacity_mbps"`

	Logging struct {
		JSON    bool `yaml:"json"`
		Verbose int  `yaml:"verbose"`
		Quiet   bool `yaml:"quiet"`
	} `yaml:"logging"`

	Profiles []ProfileSpec `yaml:"profiles"`
}

// DefaultControlSocketPath matches the Unix-domain socket path every
// client is expected to dial unless overridden.
const DefaultControlSocketPath = "/tmp/dpdk_engine_control.sock"

// Defaults returns a Config with every field set to its documented
// default, suitable as the base a YAML file is unmarshaled on top of.
func Defaults() Config {
	return Config{
		ControlSocketPath: DefaultControlSocketPath,
		LinkCapacityMbps:  10000,
	}
}

// Load reads and parses the YAML file at path on top of Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Overrides carries the CLI flag values that, when non-zero/non-empty,
// take precedence over whatever the YAML file specified.
type Overrides struct {
	ControlSocketPath string
	CoreMask          string
	Ports             []string
	HugepagesMB       int
}

// Apply merges non-zero override fields into cfg, matching the "CLI
// overrides YAML, but only when explicitly set" convention.
func (cfg *Config) Apply(o Overrides) {
	if o.ControlSocketPath != "" {
		cfg.ControlSocketPath = o.ControlSocketPath
	}
	if o.CoreMask != "" {
		cfg.CoreMask = o.CoreMask
	}
	if len(o.Ports) > 0 {
		cfg.Ports = o.Ports
	}
	if o.HugepagesMB != 0 {
		cfg.HugepagesMB = o.HugepagesMB
	}
}

// Validate rejects a config that can never produce a working engine: an
// empty control socket path, or a profile whose required fields are
// missing. Per-profile field validity beyond presence is enforced later
// by profile.Profile.Validate once the ProfileSpec is converted.
func (cfg Config) Validate() error {
	if cfg.ControlSocketPath == "" {
		return fmt.Errorf("config: control_socket_path must not be empty")
	}
	if cfg.LinkCapacityMbps <= 0 {
		return fmt.Errorf("config: link_capacity_mbps must be > 0")
	}
	seen := make(map[uint16]bool, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("config: profile missing name")
		}
		if seen[p.StreamID] {
			return fmt.Errorf("config: duplicate stream_id %d", p.StreamID)
		}
		seen[p.StreamID] = true
	}
	return nil
}
