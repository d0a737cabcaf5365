package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/taskdeck/internal/otel"
)

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	BindAddr string `yaml:"bind_addr"`
	// AuthToken, when set, requires Bearer auth on every API route.
	AuthToken string `yaml:"auth_token"`
	// AllowOrigins lists Origin headers accepted for browser clients.
	// Empty means local-only.
	AllowOrigins []string `yaml:"allow_origins"`
	// RateLimitPerMinute caps commands per agent. 0 disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateBurst          int `yaml:"rate_burst"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	ExpiryMinutes      int `yaml:"expiry_minutes"`
	SweepEveryMinutes  int `yaml:"sweep_every_minutes"`
	RetainExpiredHours int `yaml:"retain_expired_hours"`
}

// BatchConfig bounds batch execution.
type BatchConfig struct {
	MaxSize        int `yaml:"max_size"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	// Production strips stack traces from error envelopes.
	Production bool `yaml:"production"`
	// AllowAnonymous routes unresolved agents to the read-only
	// anonymous agent instead of denying outright.
	AllowAnonymous bool `yaml:"allow_anonymous"`
	// PolicyPath locates the permission rules file. Relative paths
	// resolve against HomeDir.
	PolicyPath string `yaml:"policy_path"`
	// DBPath locates the sqlite database. Empty uses HomeDir/taskdeck.db.
	DBPath string `yaml:"db_path"`

	Gateway  GatewayConfig `yaml:"gateway"`
	Sessions SessionConfig `yaml:"sessions"`
	Batch    BatchConfig   `yaml:"batch"`
	OTel     otel.Config   `yaml:"otel"`
}

// Fingerprint returns a stable hash of the active config, logged at
// startup so operators can tell which settings a process is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|prod=%t|anon=%t|rate=%d|expiry=%d|origins=%v",
		c.Gateway.BindAddr, c.LogLevel, c.Production, c.AllowAnonymous,
		c.Gateway.RateLimitPerMinute, c.Sessions.ExpiryMinutes, c.Gateway.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ResolvedPolicyPath returns the absolute policy file path.
func (c Config) ResolvedPolicyPath() string {
	p := c.PolicyPath
	if p == "" {
		p = "policy.yaml"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

// ResolvedDBPath returns the absolute sqlite database path.
func (c Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		if filepath.IsAbs(c.DBPath) {
			return c.DBPath
		}
		return filepath.Join(c.HomeDir, c.DBPath)
	}
	return filepath.Join(c.HomeDir, "taskdeck.db")
}

func defaultConfig() Config {
	return Config{
		LogLevel:   "info",
		PolicyPath: "policy.yaml",
		Gateway: GatewayConfig{
			BindAddr:           "127.0.0.1:18790",
			RateLimitPerMinute: 120,
			RateBurst:          20,
		},
		Sessions: SessionConfig{
			ExpiryMinutes:      30,
			SweepEveryMinutes:  5,
			RetainExpiredHours: 24,
		},
		Batch: BatchConfig{
			MaxSize:        50,
			MaxConcurrency: 5,
		},
		OTel: otel.Config{Exporter: "none"},
	}
}

// HomeDir returns the taskdeck home directory, honoring TASKDECK_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskdeck")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the taskdeck home, applies env overrides,
// and normalizes defaults. A missing file yields pure defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskdeck home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Gateway.BindAddr == "" {
		cfg.Gateway.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.PolicyPath) == "" {
		cfg.PolicyPath = "policy.yaml"
	}
	if cfg.Sessions.ExpiryMinutes <= 0 {
		cfg.Sessions.ExpiryMinutes = 30
	}
	if cfg.Sessions.SweepEveryMinutes <= 0 {
		cfg.Sessions.SweepEveryMinutes = 5
	}
	if cfg.Sessions.RetainExpiredHours <= 0 {
		cfg.Sessions.RetainExpiredHours = 24
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = 50
	}
	if cfg.Batch.MaxConcurrency <= 0 {
		cfg.Batch.MaxConcurrency = 5
	}
	if cfg.Gateway.RateBurst <= 0 {
		cfg.Gateway.RateBurst = 20
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "none"
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn, or error", cfg.LogLevel)
	}
	if cfg.Gateway.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must be >= 0, got %d", cfg.Gateway.RateLimitPerMinute)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKDECK_BIND_ADDR"); raw != "" {
		cfg.Gateway.BindAddr = raw
	}
	if raw := os.Getenv("TASKDECK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKDECK_AUTH_TOKEN"); raw != "" {
		cfg.Gateway.AuthToken = raw
	}
	if raw := os.Getenv("TASKDECK_POLICY_PATH"); raw != "" {
		cfg.PolicyPath = raw
	}
	if raw := os.Getenv("TASKDECK_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TASKDECK_PRODUCTION"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Production = v
		}
	}
	if raw := os.Getenv("TASKDECK_ALLOW_ANONYMOUS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.AllowAnonymous = v
		}
	}
	if raw := os.Getenv("TASKDECK_RATE_LIMIT_PER_MINUTE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Gateway.RateLimitPerMinute = v
		}
	}
	if raw := os.Getenv("TASKDECK_SESSION_EXPIRY_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Sessions.ExpiryMinutes = v
		}
	}
}
