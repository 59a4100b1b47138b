// Package common provides shared utilities for libweave: configuration,
// logging, version info, and the startup banner.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the libweave device process.
type Config struct {
	Environment string         `toml:"environment"`
	Security    SecurityConfig `toml:"security"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

// SecurityConfig configures the pairing, token, and revocation subsystem.
// Field names and defaults mirror the constants the C++ original hard-coded
// in src/privet/security_manager.cc (kSessionExpirationTimeMinutes,
// kMaxAllowedPairingAttemts, kPairingBlockingTimeMinutes).
type SecurityConfig struct {
	// PairingModes lists the enabled PairingType values, by name
	// ("pinCode", "embeddedCode").
	PairingModes []string `toml:"pairing_modes"`
	// EmbeddedCode is the factory-burned pairing secret. Must be non-empty
	// iff "embeddedCode" is present in PairingModes.
	EmbeddedCode string `toml:"embedded_code"`
	// DisableSecurity permits the CryptoType "none" backdoor exchanger and
	// turns IsValidPairingCode/ThrottleGuard into no-ops. Never set in
	// production builds.
	DisableSecurity bool `toml:"disable_security"`

	RevocationCapacity int `toml:"revocation_capacity"`

	PairingExpiry string `toml:"pairing_expiry"` // duration string, default "5m"
	SessionExpiry string `toml:"session_expiry"` // duration string, default "5m"

	MaxPairingAttempts   int    `toml:"max_pairing_attempts"`
	PairingBlockDuration string `toml:"pairing_block_duration"` // default "1m"
}

// GetPairingExpiry parses and returns the pending-session TTL.
func (c *SecurityConfig) GetPairingExpiry() time.Duration {
	return parseDurationOr(c.PairingExpiry, 5*time.Minute)
}

// GetSessionExpiry parses and returns the confirmed-session TTL.
func (c *SecurityConfig) GetSessionExpiry() time.Duration {
	return parseDurationOr(c.SessionExpiry, 5*time.Minute)
}

// GetPairingBlockDuration parses and returns the throttle lockout duration.
func (c *SecurityConfig) GetPairingBlockDuration() time.Duration {
	return parseDurationOr(c.PairingBlockDuration, time.Minute)
}

// GetMaxPairingAttempts returns the configured attempt ceiling, defaulting
// to 3 (the original's kMaxAllowedPairingAttemts) when unset.
func (c *SecurityConfig) GetMaxPairingAttempts() int {
	if c.MaxPairingAttempts <= 0 {
		return 3
	}
	return c.MaxPairingAttempts
}

// GetRevocationCapacity returns the configured blacklist capacity,
// defaulting to 10 when unset.
func (c *SecurityConfig) GetRevocationCapacity() int {
	if c.RevocationCapacity <= 0 {
		return 10
	}
	return c.RevocationCapacity
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// StorageConfig holds the on-disk directory for the device's persisted
// settings (revocation blacklist, HMAC keys) and its identity certificate.
type StorageConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Security: SecurityConfig{
			PairingModes:         []string{"pinCode"},
			DisableSecurity:      false,
			RevocationCapacity:   10,
			PairingExpiry:        "5m",
			SessionExpiry:        "5m",
			MaxPairingAttempts:   3,
			PairingBlockDuration: "1m",
		},
		Storage: StorageConfig{
			Path: "data/weave",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later paths override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WEAVE_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("WEAVE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("WEAVE_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}
	if v := os.Getenv("WEAVE_EMBEDDED_CODE"); v != "" {
		config.Security.EmbeddedCode = v
	}
	if v := os.Getenv("WEAVE_DISABLE_SECURITY"); v != "" {
		config.Security.DisableSecurity = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("WEAVE_REVOCATION_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Security.RevocationCapacity = n
		}
	}
}

// Validate checks cross-field invariants the original enforced with
// CHECK_EQ in SecurityManager's constructor: EmbeddedCode must be non-empty
// iff the "embeddedCode" pairing mode is enabled.
func (c *Config) Validate() error {
	hasEmbeddedMode := false
	for _, m := range c.Security.PairingModes {
		if m == "embeddedCode" {
			hasEmbeddedMode = true
			break
		}
	}
	if hasEmbeddedMode == (c.Security.EmbeddedCode == "") {
		return fmt.Errorf("security config: embedded_code must be set if and only if \"embeddedCode\" is in pairing_modes")
	}
	return nil
}
