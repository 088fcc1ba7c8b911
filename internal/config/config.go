// Package config manages the jool-go daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// -------------------------------------------------------------------------
// FArgs bitmap (original_source/config_proto.c, config_proto.h parity)
// -------------------------------------------------------------------------

// FArgs is the per-direction "which fields distinguish one session from
// another" bitmap, carried from the original implementation's f-args
// option (spec.md §6; SPEC_FULL.md §7's "config_proto.c / global.c
// parity" supplement). It is a NAT64-only knob: internal/nat64's Store
// masks a session's five-tuple key by the equivalent nat64.FilterArgs
// value before using it to look up or create a session, so clearing a
// bit collapses every value of that field onto one session (RFC 6146's
// filtering-and-updating behavior).
type FArgs uint8

const (
	// FArgsSrcAddr includes the source address in whatever lookup or
	// filtering decision is being made.
	FArgsSrcAddr FArgs = 1 << iota
	// FArgsSrcPort includes the source port/ICMP identifier.
	FArgsSrcPort
	// FArgsDstAddr includes the destination address.
	FArgsDstAddr
	// FArgsDstPort includes the destination port.
	FArgsDstPort
)

// defaultFArgs matches the original implementation's default of
// considering all four fields.
const defaultFArgs = FArgsSrcAddr | FArgsSrcPort | FArgsDstAddr | FArgsDstPort

// Has reports whether every bit set in want is also set in f.
func (f FArgs) Has(want FArgs) bool {
	return f&want == want
}

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete jool-go daemon configuration: ambient
// concerns (logging, metrics endpoint) plus zero or more translator
// instance definitions.
type Config struct {
	Metrics   MetricsConfig    `koanf:"metrics" yaml:"metrics"`
	Log       LogConfig        `koanf:"log" yaml:"log"`
	Instances []InstanceConfig `koanf:"instances" yaml:"instances"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr" yaml:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path" yaml:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level" yaml:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format" yaml:"format"`
}

// EAMEntryConfig is one Explicit Address Mapping table row (spec.md §3).
type EAMEntryConfig struct {
	IPv4Prefix string `koanf:"ipv4_prefix" yaml:"ipv4_prefix"`
	IPv6Prefix string `koanf:"ipv6_prefix" yaml:"ipv6_prefix"`
}

// Pool4EntryConfig is one pool4 (protocol, address, port range) triple
// (spec.md §3).
type Pool4EntryConfig struct {
	// Protocol is "tcp", "udp", or "icmp".
	Protocol string `koanf:"protocol" yaml:"protocol"`
	Addr     string `koanf:"addr" yaml:"addr"`
	PortMin  uint16  `koanf:"port_min" yaml:"port_min"`
	PortMax  uint16  `koanf:"port_max" yaml:"port_max"`
}

// TimeoutsConfig holds the per-protocol BIB/session lifetimes, in
// milliseconds (spec.md §6: "UDP/ICMP/TCP-EST/TCP-TRANS timeouts in
// milliseconds with per-protocol minima").
type TimeoutsConfig struct {
	UDPMillis      uint64 `koanf:"udp_ms" yaml:"udp_ms"`
	ICMPMillis     uint64 `koanf:"icmp_ms" yaml:"icmp_ms"`
	TCPEstMillis   uint64 `koanf:"tcp_est_ms" yaml:"tcp_est_ms"`
	TCPTransMillis uint64 `koanf:"tcp_trans_ms" yaml:"tcp_trans_ms"`
}

// Durations converts the millisecond fields to time.Duration for
// internal/nat64.Timeouts.
func (t TimeoutsConfig) Durations() (udp, icmp, tcpEst, tcpTrans time.Duration) {
	return time.Duration(t.UDPMillis) * time.Millisecond,
		time.Duration(t.ICMPMillis) * time.Millisecond,
		time.Duration(t.TCPEstMillis) * time.Millisecond,
		time.Duration(t.TCPTransMillis) * time.Millisecond
}

// SessionSyncConfig is the out-of-scope joold transport's local knobs
// (spec.md §6's "session-sync" group; the wire serialization itself is
// out of scope per spec.md §6's "Persisted state" note, but the local
// buffering knobs still shape instance behavior).
type SessionSyncConfig struct {
	Enabled        bool   `koanf:"enabled" yaml:"enabled"`
	FlushASAP      bool   `koanf:"flush_asap" yaml:"flush_asap"`
	FlushDeadlineMs uint32 `koanf:"flush_deadline_ms" yaml:"flush_deadline_ms"`
	Capacity       uint32 `koanf:"capacity" yaml:"capacity"`
	MaxPayload     uint32 `koanf:"max_payload" yaml:"max_payload"`
}

// InstanceConfig is one named translator instance's full option set
// (spec.md §6's configuration surface, carried verbatim as a struct).
type InstanceConfig struct {
	Name   string `koanf:"name" yaml:"name"`
	Enable bool   `koanf:"enable" yaml:"enable"`

	// Device is the TUN interface name this instance reads packets from
	// and writes translated packets to. Empty means use Name.
	Device string `koanf:"device" yaml:"device,omitempty"`

	// Mode is "siit" or "nat64".
	Mode string `koanf:"mode" yaml:"mode"`

	// Pool6 is the RFC 6052 prefix (length must be one of
	// {32,40,48,56,64,96}); empty means unset.
	Pool6 string `koanf:"pool6" yaml:"pool6,omitempty"`

	EAM        []EAMEntryConfig   `koanf:"eam" yaml:"eam,omitempty"`
	Pool4      []Pool4EntryConfig `koanf:"pool4" yaml:"pool4,omitempty"`
	Blacklist4 []string           `koanf:"blacklist4" yaml:"blacklist4,omitempty"`
	Blacklist6 []string           `koanf:"blacklist6" yaml:"blacklist6,omitempty"`

	RFC6791Pool4     []string `koanf:"rfc6791_pool4" yaml:"rfc6791_pool4,omitempty"`
	RFC6791Pool6     string   `koanf:"rfc6791_pool6" yaml:"rfc6791_pool6,omitempty"`
	RandomizeRFC6791 bool     `koanf:"randomize_rfc6791" yaml:"randomize_rfc6791,omitempty"`

	ResetTOS          bool   `koanf:"reset_tos" yaml:"reset_tos,omitempty"`
	NewTOS            uint8  `koanf:"new_tos" yaml:"new_tos,omitempty"`
	ResetTrafficClass bool   `koanf:"reset_traffic_class" yaml:"reset_traffic_class,omitempty"`
	NewTrafficClass   uint8  `koanf:"new_traffic_class" yaml:"new_traffic_class,omitempty"`

	// MTUPlateaus must be descending, deduplicated, and nonzero
	// (spec.md §6).
	MTUPlateaus []uint32 `koanf:"mtu_plateaus" yaml:"mtu_plateaus,omitempty"`

	BuildIPv4ID         bool `koanf:"build_ipv4_id" yaml:"build_ipv4_id,omitempty"`
	DFAlwaysOn          bool `koanf:"df_always_on" yaml:"df_always_on,omitempty"`
	ComputeUDPCsumZero  bool `koanf:"compute_udp_csum_zero" yaml:"compute_udp_csum_zero,omitempty"`

	// EAMHairpinMode is "off", "simple", or "intrinsic".
	EAMHairpinMode string `koanf:"eam_hairpin_mode" yaml:"eam_hairpin_mode,omitempty"`

	DropByAddr            bool `koanf:"drop_by_addr" yaml:"drop_by_addr,omitempty"`
	DropICMP6Info         bool `koanf:"drop_icmp6_info" yaml:"drop_icmp6_info,omitempty"`
	DropExternalTCP       bool `koanf:"drop_external_tcp" yaml:"drop_external_tcp,omitempty"`
	SrcICMP6ErrsBetter    bool `koanf:"src_icmp6errs_better" yaml:"src_icmp6errs_better,omitempty"`
	HandleRSTDuringFINRcv bool `koanf:"handle_rst_during_fin_rcv" yaml:"handle_rst_during_fin_rcv,omitempty"`

	// FArgs defaults to defaultFArgs (all four fields) when zero and
	// not explicitly set to 0 via FArgsExplicitZero.
	FArgs             FArgs `koanf:"f_args" yaml:"f_args,omitempty"`
	FArgsExplicitZero bool  `koanf:"f_args_explicit_zero" yaml:"f_args_explicit_zero,omitempty"`

	Timeouts TimeoutsConfig `koanf:"timeouts" yaml:"timeouts,omitempty"`

	LogBIBs       bool   `koanf:"log_bibs" yaml:"log_bibs,omitempty"`
	LogSessions   bool   `koanf:"log_sessions" yaml:"log_sessions,omitempty"`
	MaxStoredPkts uint32 `koanf:"max_stored_pkts" yaml:"max_stored_pkts,omitempty"`

	SessionSync SessionSyncConfig `koanf:"session_sync" yaml:"session_sync,omitempty"`
}

// DeviceName returns the TUN interface this instance binds to: Device
// when set, otherwise Name.
func (cfg InstanceConfig) DeviceName() string {
	if cfg.Device != "" {
		return cfg.Device
	}
	return cfg.Name
}

// EffectiveFArgs returns cfg's f-args bitmap, applying the
// defaultFArgs fallback unless the instance explicitly configured all
// bits off.
func (cfg InstanceConfig) EffectiveFArgs() FArgs {
	if cfg.FArgs == 0 && !cfg.FArgsExplicitZero {
		return defaultFArgs
	}
	return cfg.FArgs
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults: a
// metrics/log ambient section and no instances (instances are always
// explicit, since an instance with no pool6/EAM/pool4 configured would
// translate nothing).
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultInstanceConfig returns the default option set for an instance
// named name. Load does not call it, so an instance read from a file does
// not start from this set.
func DefaultInstanceConfig(name string) InstanceConfig {
	return InstanceConfig{
		Name:           name,
		Enable:         true,
		Mode:           "siit",
		MTUPlateaus:    []uint32{1500, 1400, 1300, 1200, 1000, 900, 800, 576, 508, 296, 68},
		EAMHairpinMode: "intrinsic",
		FArgs:          defaultFArgs,
		Timeouts: TimeoutsConfig{
			UDPMillis:      5 * 60 * 1000,
			ICMPMillis:     60 * 1000,
			TCPEstMillis:   2 * 60 * 60 * 1000,
			TCPTransMillis: 4 * 1000,
		},
		MaxStoredPkts: 10,
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for jool-go configuration.
// Variables are named JOOL_<section>_<key>, e.g., JOOL_METRICS_ADDR.
const envPrefix = "JOOL_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (JOOL_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// Save marshals cfg as YAML and writes it to path, overwriting any
// existing file. Used by joolctl's config-mutating commands (eam/pool4
// add/remove) to persist changes back to the file Load reads from.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("validate config before save: %w", err)
	}

	out, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config to %s: %w", path, err)
	}
	return nil
}

// envKeyMapper transforms JOOL_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"log.level":    defaults.Log.Level,
		"log.format":   defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrInvalidInstanceName = errors.New("instance name must not be empty")
	ErrDuplicateInstance   = errors.New("duplicate instance name")
	ErrInvalidMode         = errors.New("instance mode must be siit or nat64")
	ErrInvalidPool6Length  = errors.New("pool6 prefix length must be one of 32,40,48,56,64,96")
	ErrInvalidMTUPlateaus  = errors.New("mtu_plateaus must be descending, deduplicated, and nonzero")
	ErrInvalidHairpinMode  = errors.New("eam_hairpin_mode must be off, simple, or intrinsic")
	ErrInvalidPortRange    = errors.New("pool4 entry port_min must be <= port_max")
	ErrTimeoutBelowMinimum = errors.New("timeout is below its protocol minimum")
)

// Per-protocol minimum timeouts (spec.md §6: "per-protocol minima").
// 2 seconds is the floor original_source/ uses for every stateful
// timeout to keep a misconfigured instance from thrashing the BIB table.
const minTimeoutMillis = 2000

// ValidModes lists the recognized instance mode strings.
var ValidModes = map[string]bool{"siit": true, "nat64": true}

// ValidHairpinModes lists the recognized eam_hairpin_mode strings.
var ValidHairpinModes = map[string]bool{"off": true, "simple": true, "intrinsic": true}

// validPool6Lengths are the only prefix lengths RFC 6052 defines.
var validPool6Lengths = map[int]bool{32: true, 40: true, 48: true, 56: true, 64: true, 96: true}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Instances))
	for i, ic := range cfg.Instances {
		if ic.Name == "" {
			return fmt.Errorf("instances[%d]: %w", i, ErrInvalidInstanceName)
		}
		if _, dup := seen[ic.Name]; dup {
			return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrDuplicateInstance)
		}
		seen[ic.Name] = struct{}{}

		if err := validateInstance(i, ic); err != nil {
			return err
		}
	}
	return nil
}

func validateInstance(i int, ic InstanceConfig) error {
	if !ValidModes[ic.Mode] {
		return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrInvalidMode)
	}

	if ic.Pool6 != "" {
		prefix, err := netip.ParsePrefix(ic.Pool6)
		if err != nil {
			return fmt.Errorf("instances[%d] %q pool6: %w", i, ic.Name, err)
		}
		if !validPool6Lengths[prefix.Bits()] {
			return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrInvalidPool6Length)
		}
	}

	if err := validateMTUPlateaus(ic.MTUPlateaus); err != nil {
		return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, err)
	}

	if ic.EAMHairpinMode != "" && !ValidHairpinModes[ic.EAMHairpinMode] {
		return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrInvalidHairpinMode)
	}

	for j, p4 := range ic.Pool4 {
		if p4.PortMin > p4.PortMax {
			return fmt.Errorf("instances[%d] %q pool4[%d]: %w", i, ic.Name, j, ErrInvalidPortRange)
		}
	}

	if ic.Mode == "nat64" {
		if err := validateTimeouts(ic.Timeouts); err != nil {
			return fmt.Errorf("instances[%d] %q: %w", i, ic.Name, err)
		}
	}

	return nil
}

func validateMTUPlateaus(plateaus []uint32) error {
	for idx, p := range plateaus {
		if p == 0 {
			return ErrInvalidMTUPlateaus
		}
		if idx > 0 {
			if p >= plateaus[idx-1] {
				return ErrInvalidMTUPlateaus
			}
		}
	}
	return nil
}

func validateTimeouts(t TimeoutsConfig) error {
	for _, ms := range []uint64{t.UDPMillis, t.ICMPMillis, t.TCPEstMillis, t.TCPTransMillis} {
		if ms != 0 && ms < minTimeoutMillis {
			return ErrTimeoutBelowMinimum
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
