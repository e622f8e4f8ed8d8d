// Package config manages tetherd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and (for tests) an in-memory
// afero filesystem.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete tetherd configuration.
type Config struct {
	GRPC     GRPCConfig     `koanf:"grpc"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Tether   TetherConfig   `koanf:"tether"`
	Platform PlatformConfig `koanf:"platform"`
}

// GRPCConfig holds the ConnectRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// PlatformConfig names the hook scripts internal/platform's
// Hook{USB,Wifi,Bluetooth}Manager invoke to drive each subsystem. An empty
// path disables that subsystem: calls to it always fail.
type PlatformConfig struct {
	USBHookPath       string `koanf:"usb_hook_path"`
	WifiHookPath      string `koanf:"wifi_hook_path"`
	BluetoothHookPath string `koanf:"bluetooth_hook_path"`
}

// TetherConfig is the file/env representation of tether.TetheringConfig.
// Upstream types and DNS servers are kept as strings here since koanf
// unmarshals into plain scalars; ToTetheringConfig parses them.
type TetherConfig struct {
	USBRegexs       []string `koanf:"usb_regexs"`
	WifiRegexs      []string `koanf:"wifi_regexs"`
	BluetoothRegexs []string `koanf:"bluetooth_regexs"`

	// PreferredUpstreamTypes orders upstream candidate types, earlier
	// entries tried first. Recognized values: "ethernet", "wifi",
	// "bluetooth", "mobile_hipri", "mobile_dun".
	PreferredUpstreamTypes []string `koanf:"preferred_upstream_types"`

	// DHCPRanges is an even-length list of start/end address string pairs.
	DHCPRanges []string `koanf:"dhcp_ranges"`

	DunRequired    bool     `koanf:"dun_required"`
	DefaultIPv4DNS []string `koanf:"default_ipv4_dns"`

	// ProvisioningApp names a two-element [package, class] pair identifying
	// the carrier-entitlement checking app. Empty disables provisioning.
	ProvisioningApp          []string `koanf:"provisioning_app"`
	EntitlementCheckRequired bool     `koanf:"entitlement_check_required"`
}

// upstreamTypeNames maps configuration strings to tether.UpstreamType.
var upstreamTypeNames = map[string]tether.UpstreamType{
	"ethernet":     tether.UpstreamEthernet,
	"wifi":         tether.UpstreamWifi,
	"bluetooth":    tether.UpstreamBluetooth,
	"mobile_hipri": tether.UpstreamMobileHIPRI,
	"mobile_dun":   tether.UpstreamMobileDUN,
}

// ToTetheringConfig converts the file/env representation into the core's
// immutable snapshot type, parsing DNS addresses and upstream type names.
func (tc TetherConfig) ToTetheringConfig() (tether.TetheringConfig, error) {
	preferred := make([]tether.UpstreamType, 0, len(tc.PreferredUpstreamTypes))
	for _, name := range tc.PreferredUpstreamTypes {
		ut, ok := upstreamTypeNames[strings.ToLower(name)]
		if !ok {
			return tether.TetheringConfig{}, fmt.Errorf("tether.preferred_upstream_types: %w: %q", ErrInvalidUpstreamType, name)
		}
		preferred = append(preferred, ut)
	}

	dns := make([]netip.Addr, 0, len(tc.DefaultIPv4DNS))
	for _, s := range tc.DefaultIPv4DNS {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return tether.TetheringConfig{}, fmt.Errorf("tether.default_ipv4_dns: parse %q: %w", s, err)
		}
		dns = append(dns, addr)
	}

	return tether.TetheringConfig{
		TetherableUSBRegexs:       tc.USBRegexs,
		TetherableWifiRegexs:      tc.WifiRegexs,
		TetherableBluetoothRegexs: tc.BluetoothRegexs,
		PreferredUpstreamTypes:    preferred,
		DHCPRanges:                tc.DHCPRanges,
		IsDunRequired:             tc.DunRequired,
		DefaultIPv4DNS:            dns,
		ProvisioningApp:           tc.ProvisioningApp,
		EntitlementCheckRequired:  tc.EntitlementCheckRequired,
	}, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tether: TetherConfig{
			USBRegexs:              []string{`^rndis\d+$`},
			WifiRegexs:             []string{`^ap\d+$`},
			BluetoothRegexs:        []string{`^bt-pan\d+$`},
			PreferredUpstreamTypes: []string{"ethernet", "wifi", "mobile_hipri"},
			DHCPRanges:             []string{"192.168.42.2", "192.168.42.254"},
			DefaultIPv4DNS:         []string{"8.8.8.8", "8.8.4.4"},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for tetherd configuration.
// Variables are named TETHERD_<section>_<key>, e.g., TETHERD_GRPC_ADDR.
const envPrefix = "TETHERD_"

// Load reads configuration from a YAML file at path on the real filesystem,
// overlays environment variable overrides (TETHERD_ prefix), and merges on
// top of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	TETHERD_GRPC_ADDR     -> grpc.addr
//	TETHERD_METRICS_ADDR  -> metrics.addr
//	TETHERD_METRICS_PATH  -> metrics.path
//	TETHERD_LOG_LEVEL     -> log.level
//	TETHERD_LOG_FORMAT    -> log.format
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	return finish(k, path)
}

// LoadFS is Load but reads path from fs instead of the real filesystem,
// for tests that want an in-memory afero.MemMapFs rather than touching disk.
func LoadFS(fs afero.Fs, path string) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	parsed, err := yaml.Parser().Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse config from %s: %w", path, err)
	}

	if err := k.Load(confmap.Provider(parsed, "."), nil); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	return finish(k, path)
}

// finish overlays environment variable overrides, unmarshals, and validates.
func finish(k *koanf.Koanf, path string) (*Config, error) {
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

// envKeyMapper transforms TETHERD_GRPC_ADDR -> grpc.addr.
// Strips the TETHERD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals DefaultConfig into koanf as the base layer.
func loadDefaults(k *koanf.Koanf) error {
	defaults := DefaultConfig()
	defaultMap := map[string]any{
		"grpc.addr":                           defaults.GRPC.Addr,
		"metrics.addr":                        defaults.Metrics.Addr,
		"metrics.path":                        defaults.Metrics.Path,
		"log.level":                           defaults.Log.Level,
		"log.format":                          defaults.Log.Format,
		"tether.usb_regexs":                   defaults.Tether.USBRegexs,
		"tether.wifi_regexs":                  defaults.Tether.WifiRegexs,
		"tether.bluetooth_regexs":             defaults.Tether.BluetoothRegexs,
		"tether.preferred_upstream_types":     defaults.Tether.PreferredUpstreamTypes,
		"tether.dhcp_ranges":                  defaults.Tether.DHCPRanges,
		"tether.default_ipv4_dns":             defaults.Tether.DefaultIPv4DNS,
		"tether.dun_required":                 defaults.Tether.DunRequired,
		"tether.entitlement_check_required":   defaults.Tether.EntitlementCheckRequired,
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
	// ErrEmptyGRPCAddr indicates the gRPC listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidUpstreamType indicates an unrecognized upstream type name.
	ErrInvalidUpstreamType = errors.New("unrecognized upstream type")

	// ErrOddDHCPRanges indicates tether.dhcp_ranges has an odd element count.
	ErrOddDHCPRanges = errors.New("tether.dhcp_ranges must have an even number of entries")

	// ErrInvalidProvisioningApp indicates provisioning_app has neither zero
	// nor exactly two entries.
	ErrInvalidProvisioningApp = errors.New("tether.provisioning_app must be empty or exactly [package, class]")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if len(cfg.Tether.DHCPRanges)%2 != 0 {
		return ErrOddDHCPRanges
	}

	if n := len(cfg.Tether.ProvisioningApp); n != 0 && n != 2 {
		return ErrInvalidProvisioningApp
	}

	if _, err := cfg.Tether.ToTetheringConfig(); err != nil {
		return err
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
