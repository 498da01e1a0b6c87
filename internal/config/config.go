// Package config loads horizond's TOML configuration document and applies
// the documented defaults and validation rules. Loading is a one-shot
// Load(path) call; there is no global singleton and no environment-variable
// overlay — horizond's deployment footprint is a single file per instance,
// so that extra layering has nothing to do.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// AbiTagPolicy mirrors pluginhost.AbiTagPolicy without importing it, so
// config stays independent of the plugin host's package graph.
type AbiTagPolicy string

const (
	AbiTagPolicyStrict AbiTagPolicy = "strict"
	AbiTagPolicyWarn   AbiTagPolicy = "warn"
)

// RegionBounds is the six-float min/max box the simulated region occupies.
type RegionBounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// Config is the recognized option set for a horizond instance.
type Config struct {
	TickIntervalMs                int          `toml:"tick_interval_ms"`
	PluginDirectory               string       `toml:"plugin_directory"`
	RegionBounds                  RegionBounds `toml:"region_bounds"`
	MaxConnections                int          `toml:"max_connections"`
	PerObserverBandwidthBytesPerS int          `toml:"per_observer_bandwidth_bytes_per_s"`
	ChannelFrequencies            map[int]int  `toml:"channel_frequencies"`
	CompressionThresholdBytes     int          `toml:"compression_threshold_bytes"`
	HysteresisEpsilon             float64      `toml:"hysteresis_epsilon"`
	AbiTagPolicy                  AbiTagPolicy `toml:"abi_tag_policy"`
}

// rawConfig matches the flat TOML array horizond.toml files use for
// region_bounds: [min_x, max_x, min_y, max_y, min_z, max_z], and the
// channel_frequencies table whose keys arrive as strings ("0".."3").
type rawConfig struct {
	TickIntervalMs                int            `toml:"tick_interval_ms"`
	PluginDirectory                string         `toml:"plugin_directory"`
	RegionBounds                   [6]float64     `toml:"region_bounds"`
	MaxConnections                 int            `toml:"max_connections"`
	PerObserverBandwidthBytesPerS  int            `toml:"per_observer_bandwidth_bytes_per_s"`
	ChannelFrequencies             map[string]int `toml:"channel_frequencies"`
	CompressionThresholdBytes      int            `toml:"compression_threshold_bytes"`
	HysteresisEpsilon              float64        `toml:"hysteresis_epsilon"`
	AbiTagPolicy                   string         `toml:"abi_tag_policy"`
}

// Defaults returns the configuration horizond runs with when a document
// omits a field.
func Defaults() Config {
	return Config{
		TickIntervalMs:                16,
		PluginDirectory:                "plugins",
		MaxConnections:                 1024,
		PerObserverBandwidthBytesPerS:  256 * 1024,
		ChannelFrequencies:             map[int]int{0: 30, 1: 15, 2: 10, 3: 2},
		CompressionThresholdBytes:      128,
		HysteresisEpsilon:              0.05,
		AbiTagPolicy:                   AbiTagPolicyStrict,
	}
}

// Load reads and validates the TOML document at path, layering it over
// Defaults() field by field.
func Load(path string) (*Config, error) {
	var raw rawConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	cfg := Defaults()
	if meta.IsDefined("tick_interval_ms") {
		cfg.TickIntervalMs = raw.TickIntervalMs
	}
	if meta.IsDefined("plugin_directory") {
		cfg.PluginDirectory = raw.PluginDirectory
	}
	if meta.IsDefined("region_bounds") {
		cfg.RegionBounds = RegionBounds{
			MinX: raw.RegionBounds[0], MaxX: raw.RegionBounds[1],
			MinY: raw.RegionBounds[2], MaxY: raw.RegionBounds[3],
			MinZ: raw.RegionBounds[4], MaxZ: raw.RegionBounds[5],
		}
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("per_observer_bandwidth_bytes_per_s") {
		cfg.PerObserverBandwidthBytesPerS = raw.PerObserverBandwidthBytesPerS
	}
	if meta.IsDefined("channel_frequencies") {
		freqs := make(map[int]int, len(raw.ChannelFrequencies))
		for k, v := range raw.ChannelFrequencies {
			ch, err := parseChannel(k)
			if err != nil {
				return nil, fmt.Errorf("config: channel_frequencies: %w", err)
			}
			freqs[ch] = v
		}
		cfg.ChannelFrequencies = freqs
	}
	if meta.IsDefined("compression_threshold_bytes") {
		cfg.CompressionThresholdBytes = raw.CompressionThresholdBytes
	}
	if meta.IsDefined("hysteresis_epsilon") {
		cfg.HysteresisEpsilon = raw.HysteresisEpsilon
	}
	if meta.IsDefined("abi_tag_policy") {
		cfg.AbiTagPolicy = AbiTagPolicy(raw.AbiTagPolicy)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseChannel(s string) (int, error) {
	var ch int
	_, err := fmt.Sscanf(s, "%d", &ch)
	if err != nil {
		return 0, fmt.Errorf("invalid channel key %q", s)
	}
	return ch, nil
}

// Validate enforces the documented range and type constraints, returning
// every violation joined into a single error.
func (c Config) Validate() error {
	var errs []string

	if c.TickIntervalMs <= 0 {
		errs = append(errs, "tick_interval_ms must be positive")
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, "max_connections must be positive")
	}
	if c.PerObserverBandwidthBytesPerS <= 0 {
		errs = append(errs, "per_observer_bandwidth_bytes_per_s must be positive")
	}
	if c.CompressionThresholdBytes < 0 {
		errs = append(errs, "compression_threshold_bytes must be non-negative")
	}
	if c.HysteresisEpsilon < 0 || c.HysteresisEpsilon > 0.5 {
		errs = append(errs, "hysteresis_epsilon must be in [0, 0.5]")
	}
	switch c.AbiTagPolicy {
	case AbiTagPolicyStrict, AbiTagPolicyWarn:
	default:
		errs = append(errs, fmt.Sprintf("abi_tag_policy must be %q or %q, got %q", AbiTagPolicyStrict, AbiTagPolicyWarn, c.AbiTagPolicy))
	}
	for ch := range c.ChannelFrequencies {
		if ch < 0 || ch > 3 {
			errs = append(errs, fmt.Sprintf("channel_frequencies key %d out of range 0..=3", ch))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "config: invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%s", msg)
}
