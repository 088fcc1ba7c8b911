package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jool-go/jool/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, config.Validate(cfg))
}

func TestDefaultInstanceConfigValidates(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Instances = []config.InstanceConfig{
		config.DefaultInstanceConfig("default"),
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() on default instance: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
instances:
  - name: main
    enable: true
    mode: siit
    pool6: "64:ff9b::/96"
    eam:
      - ipv4_prefix: "203.0.113.0/24"
        ipv6_prefix: "2001:db8:9::/120"
    mtu_plateaus: [1500, 1280, 576]
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Instances, 1)
	inst := cfg.Instances[0]
	assert.Equal(t, "main", inst.Name)
	assert.Equal(t, "siit", inst.Mode)
	assert.Equal(t, "64:ff9b::/96", inst.Pool6)
	require.Len(t, inst.EAM, 1)
	assert.Equal(t, "203.0.113.0/24", inst.EAM[0].IPv4Prefix)
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "warn"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty instance name",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "", Mode: "siit"}}
			},
			wantErr: config.ErrInvalidInstanceName,
		},
		{
			name: "duplicate instance name",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "siit"},
					{Name: "a", Mode: "siit"},
				}
			},
			wantErr: config.ErrDuplicateInstance,
		},
		{
			name: "invalid mode",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "a", Mode: "bogus"}}
			},
			wantErr: config.ErrInvalidMode,
		},
		{
			name: "invalid pool6 length",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "siit", Pool6: "64:ff9b::/97"},
				}
			},
			wantErr: config.ErrInvalidPool6Length,
		},
		{
			name: "mtu plateaus not descending",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "siit", MTUPlateaus: []uint32{576, 1500}},
				}
			},
			wantErr: config.ErrInvalidMTUPlateaus,
		},
		{
			name: "mtu plateaus zero",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "siit", MTUPlateaus: []uint32{1500, 0}},
				}
			},
			wantErr: config.ErrInvalidMTUPlateaus,
		},
		{
			name: "invalid hairpin mode",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "siit", EAMHairpinMode: "bogus"},
				}
			},
			wantErr: config.ErrInvalidHairpinMode,
		},
		{
			name: "invalid pool4 port range",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "nat64", Pool4: []config.Pool4EntryConfig{
						{Protocol: "udp", Addr: "198.51.100.1", PortMin: 2000, PortMax: 1000},
					}},
				}
			},
			wantErr: config.ErrInvalidPortRange,
		},
		{
			name: "timeout below minimum",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{
					{Name: "a", Mode: "nat64", Timeouts: config.TimeoutsConfig{UDPMillis: 10}},
				}
			},
			wantErr: config.ErrTimeoutBelowMinimum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEffectiveFArgsDefaultsToAllFields(t *testing.T) {
	t.Parallel()

	ic := config.InstanceConfig{}
	want := config.FArgsSrcAddr | config.FArgsSrcPort | config.FArgsDstAddr | config.FArgsDstPort
	assert.Equal(t, want, ic.EffectiveFArgs())
}

func TestEffectiveFArgsExplicitZero(t *testing.T) {
	t.Parallel()

	ic := config.InstanceConfig{FArgsExplicitZero: true}
	assert.Zero(t, ic.EffectiveFArgs())
}

func TestDeviceNameDefaultsToInstanceName(t *testing.T) {
	t.Parallel()

	ic := config.InstanceConfig{Name: "eth0"}
	if got := ic.DeviceName(); got != "eth0" {
		t.Errorf("DeviceName() = %q, want %q", got, "eth0")
	}
}

func TestDeviceNameExplicitOverride(t *testing.T) {
	t.Parallel()

	ic := config.InstanceConfig{Name: "inst0", Device: "tun7"}
	if got := ic.DeviceName(); got != "tun7" {
		t.Errorf("DeviceName() = %q, want %q", got, "tun7")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Instances = []config.InstanceConfig{
		config.DefaultInstanceConfig("main"),
	}
	cfg.Instances[0].Mode = "siit"
	cfg.Instances[0].Pool6 = "64:ff9b::/96"
	cfg.Instances[0].EAM = []config.EAMEntryConfig{
		{IPv4Prefix: "203.0.113.0/24", IPv6Prefix: "2001:db8:9::/120"},
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "jool.yml")

	require.NoError(t, config.Save(cfg, path))

	got, err := config.Load(path)
	require.NoError(t, err)

	require.Len(t, got.Instances, 1)
	inst := got.Instances[0]
	assert.Equal(t, "main", inst.Name)
	assert.Equal(t, "siit", inst.Mode)
	assert.Equal(t, "64:ff9b::/96", inst.Pool6)
	require.Len(t, inst.EAM, 1)
	assert.Equal(t, "203.0.113.0/24", inst.EAM[0].IPv4Prefix)
	assert.Equal(t, "2001:db8:9::/120", inst.EAM[0].IPv6Prefix)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Instances = []config.InstanceConfig{{Name: "", Mode: "siit"}}

	dir := t.TempDir()
	path := filepath.Join(dir, "jool.yml")

	require.Error(t, config.Save(cfg, path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "Save() wrote a file despite validation failure")
}

func TestFArgsHas(t *testing.T) {
	t.Parallel()

	f := config.FArgsSrcAddr | config.FArgsDstPort
	assert.True(t, f.Has(config.FArgsSrcAddr))
	assert.False(t, f.Has(config.FArgsSrcPort))
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("JOOL_LOG_LEVEL", "debug")
	t.Setenv("JOOL_METRICS_ADDR", ":9200")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "jool.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
