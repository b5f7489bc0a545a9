package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds global gantry settings from ~/.gantry/config.yaml.
type GlobalConfig struct {
	Recovery RecoveryConfig `yaml:"recovery"`
	Debug    DebugConfig    `yaml:"debug"`
}

// RecoveryConfig holds safety-net reconciliation settings.
type RecoveryConfig struct {
	// IntervalSeconds is how often the periodic recovery pass runs.
	IntervalSeconds int `yaml:"interval_seconds"`
	// MaxConcurrent bounds how many tasks one pass reconciles in parallel.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DebugConfig holds debug log file settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Recovery: RecoveryConfig{
			IntervalSeconds: 30,
			MaxConcurrent:   4,
		},
		Debug: DebugConfig{
			RetentionDays: 7,
		},
	}
}

// LoadGlobal reads ~/.gantry/config.yaml and applies environment overrides.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".gantry", "config.yaml")
		if data, err := os.ReadFile(configPath); err == nil {
			_ = yaml.Unmarshal(data, cfg) // Ignore unmarshal errors, use defaults
		}
	}

	if s := os.Getenv("GANTRY_RECOVERY_INTERVAL"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			cfg.Recovery.IntervalSeconds = v
		}
	}

	return cfg, nil
}

// GlobalConfigDir returns the path to ~/.gantry.
func GlobalConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".gantry")
	}
	return filepath.Join(homeDir, ".gantry")
}
