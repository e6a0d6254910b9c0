// Package config loads the global ~/.agent-island/config.yaml document:
// endpoint overrides, debug log retention, and the analytics opt-out,
// layering environment variables over the file over built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DebugConfig controls JSON debug-file logging.
type DebugConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retentionDays"`
}

// GlobalConfig holds the settings read from ~/.agent-island/config.yaml.
type GlobalConfig struct {
	TokenURL         string      `yaml:"tokenURL"`
	UsageURL         string      `yaml:"usageURL"`
	SecurityBin      string      `yaml:"securityBin"`
	AnalyticsEnabled bool        `yaml:"analyticsEnabled"`
	Debug            DebugConfig `yaml:"debug"`
}

// DefaultGlobalConfig returns the built-in defaults applied before the file
// and environment are consulted.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		AnalyticsEnabled: true,
		Debug: DebugConfig{
			RetentionDays: 7,
		},
	}
}

// LoadGlobal reads configDir/config.yaml (best-effort — a missing or
// malformed file falls back to defaults) and then applies environment
// overrides, which always win over the file.
func LoadGlobal(configDir string) *GlobalConfig {
	cfg := DefaultGlobalConfig()

	configPath := filepath.Join(configDir, "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		_ = yaml.Unmarshal(data, cfg)
	}

	if v := os.Getenv("CLAUDE_CODE_TOKEN_URL"); v != "" {
		cfg.TokenURL = v
	}
	if v := os.Getenv("CLAUDE_CODE_USAGE_URL"); v != "" {
		cfg.UsageURL = v
	}
	if v := os.Getenv("CAUTH_SECURITY_BIN"); v != "" {
		cfg.SecurityBin = v
	}
	if v := os.Getenv("CAUTH_ANALYTICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.AnalyticsEnabled = enabled
		}
	}

	return cfg
}

// Dir returns ~/.agent-island, the root of this core's owned state.
func Dir(home string) string {
	return filepath.Join(home, ".agent-island")
}

// LegacyDir returns the pre-migration ~/.claude-island layout.
func LegacyDir(home string) string {
	return filepath.Join(home, ".claude-island")
}
