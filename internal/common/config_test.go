package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 10, cfg.Security.GetRevocationCapacity())
	assert.Equal(t, 3, cfg.Security.GetMaxPairingAttempts())
	assert.Equal(t, 5*time.Minute, cfg.Security.GetPairingExpiry())
	assert.Equal(t, 5*time.Minute, cfg.Security.GetSessionExpiry())
	assert.Equal(t, time.Minute, cfg.Security.GetPairingBlockDuration())
}

func TestConfig_GetPairingExpiry_InvalidFallsBack(t *testing.T) {
	cfg := &SecurityConfig{PairingExpiry: "not-a-duration"}
	assert.Equal(t, 5*time.Minute, cfg.GetPairingExpiry())
}

func TestConfig_RevocationCapacityEnvOverride(t *testing.T) {
	t.Setenv("WEAVE_REVOCATION_CAPACITY", "25")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	assert.Equal(t, 25, cfg.Security.RevocationCapacity)
}

func TestConfig_DisableSecurityEnvOverride(t *testing.T) {
	t.Setenv("WEAVE_DISABLE_SECURITY", "true")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	assert.True(t, cfg.Security.DisableSecurity)
}

func TestConfig_Validate_EmbeddedCodeRequiredWithMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.PairingModes = []string{"embeddedCode"}
	cfg.Security.EmbeddedCode = ""
	assert.Error(t, cfg.Validate())

	cfg.Security.EmbeddedCode = "1234"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_EmbeddedCodeRejectedWithoutMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.PairingModes = []string{"pinCode"}
	cfg.Security.EmbeddedCode = "1234"
	assert.Error(t, cfg.Validate())
}

func TestConfig_LoadConfig_MissingFileSkipped(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/weave.toml")
	assert.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
}
