// Package daemonconfig provides YAML configuration loading with
// validation and environment variable substitution for the credential
// hot-reload daemon.
package daemonconfig

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Debounce DebounceConfig `yaml:"debounce" json:"debounce"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
	Stores   []StoreConfig  `yaml:"stores" json:"stores"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// DebounceConfig controls the coalescing window applied to raw
// filesystem events before a store reload is attempted.
type DebounceConfig struct {
	WindowMs int `yaml:"window_ms" json:"window_ms"` // default: 1000
}

// Window returns the debounce window as a time.Duration.
func (d DebounceConfig) Window() time.Duration {
	return time.Duration(d.WindowMs) * time.Millisecond
}

// MetricsConfig holds Prometheus metrics endpoint settings. Enabled
// defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// AdminConfig holds the reload-trigger HTTP endpoint's settings: its
// bind address, the bearer JWT secret that guards it, and the single
// token-bucket rate limit shared by all callers.
type AdminConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"` // default: false
	ListenAddr        string  `yaml:"listen_addr" json:"listen_addr"`
	JWTSecret         string  `yaml:"jwt_secret" json:"jwt_secret"`
	JWTIssuer         string  `yaml:"jwt_issuer" json:"jwt_issuer"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// StoreConfig names one credential store to watch: where its spec text
// file lives (the descriptor ParseSpec reads, pointing at the real
// data/password files) and a human-readable name used in logs, metrics,
// and the admin API's store listing.
type StoreConfig struct {
	Name     string `yaml:"name" json:"name"`
	SpecPath string `yaml:"spec_path" json:"spec_path"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level
// state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for
// testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Debounce.WindowMs == 0 {
		cfg.Debounce.WindowMs = 1000
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = "127.0.0.1:9443"
	}
	if cfg.Admin.RequestsPerSecond == 0 {
		cfg.Admin.RequestsPerSecond = 1
	}
	if cfg.Admin.BurstSize == 0 {
		cfg.Admin.BurstSize = 3
	}
}

func validate(cfg *Config) error {
	if cfg.Debounce.WindowMs < 0 {
		return fmt.Errorf("debounce.window_ms must be non-negative")
	}

	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.JWTSecret == "" {
			return fmt.Errorf("admin.jwt_secret is required when admin is enabled")
		}
		if cfg.Admin.JWTIssuer == "" {
			return fmt.Errorf("admin.jwt_issuer is required when admin is enabled")
		}
		if cfg.Admin.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin.requests_per_second must be positive")
		}
		if cfg.Admin.BurstSize <= 0 {
			return fmt.Errorf("admin.burst_size must be positive")
		}
	}

	if len(cfg.Stores) == 0 {
		return fmt.Errorf("at least one store must be configured")
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Stores {
		if s.Name == "" {
			return fmt.Errorf("stores[%d].name is required", i)
		}
		if s.SpecPath == "" {
			return fmt.Errorf("stores[%d].spec_path is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate store name: %s", s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Admin.Enabled && strings.Contains(cfg.Admin.JWTSecret, "${") {
		warnings = append(warnings, "admin.jwt_secret contains unresolved environment variable")
	}
	return warnings
}
