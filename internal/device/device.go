// Package device wires the security core's components together into one
// running process, the way vire/internal/app.App wires its services,
// clients, and storage for the device process.
package device

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/weave-iot/libweave/internal/certprovider"
	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/configstore"
	"github.com/weave-iot/libweave/internal/interfaces"
	"github.com/weave-iot/libweave/internal/security"
	"github.com/weave-iot/libweave/internal/taskrunner"
)

const (
	authKeySettingsKey        = "auth_key"
	certificateKeySettingsKey = "certificate_key"
	keyLength                 = 32
)

// Device holds every initialized component of the running security core.
type Device struct {
	Config *common.Config
	Logger *common.Logger

	Store       *configstore.Store
	Runner      *taskrunner.Runner
	Certs       *certprovider.Provider
	Auth        *security.AuthManager
	Throttle    *security.ThrottleGuard
	Pairing     *security.PairingEngine
	Revocations *security.RevocationStore

	cancel context.CancelFunc
}

// New loads configuration (checking configPath, then WEAVE_CONFIG, then
// falling back to config/weave.toml for local development) and initializes
// every security component against it.
func New(configPath string) (*Device, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	if configPath == "" {
		configPath = resolveConfigPath()
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("device: load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	store, err := configstore.New(config.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("device: init config store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	runner := taskrunner.New(logger)
	runner.Start(ctx)

	certs, err := certprovider.Load(config.Storage.Path, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: load certificate: %w", err)
	}

	authKey, err := loadOrGenerateKey(ctx, store, authKeySettingsKey)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: load auth key: %w", err)
	}
	certificateKey, err := loadOrGenerateKey(ctx, store, certificateKeySettingsKey)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: load certificate key: %w", err)
	}

	auth, err := security.NewAuthManager(authKey, certificateKey, certs, interfaces.SystemClock{}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: init auth manager: %w", err)
	}

	throttle := security.NewThrottleGuard(
		interfaces.SystemClock{},
		config.Security.GetMaxPairingAttempts(),
		config.Security.GetPairingBlockDuration(),
		config.Security.DisableSecurity,
	)

	registry := security.NewSessionRegistry(runner, interfaces.SystemClock{}, logger)

	pairing, err := security.NewPairingEngine(security.PairingEngineConfig{
		PairingModes:    parsePairingModes(config.Security.PairingModes),
		EmbeddedCode:    config.Security.EmbeddedCode,
		DisableSecurity: config.Security.DisableSecurity,
		PairingExpiry:   config.Security.GetPairingExpiry(),
		SessionExpiry:   config.Security.GetSessionExpiry(),
	}, registry, throttle, auth, interfaces.SystemClock{}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: init pairing engine: %w", err)
	}

	revocations, err := security.NewRevocationStore(ctx, store, interfaces.SystemClock{}, config.Security.GetRevocationCapacity(), logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("device: init revocation store: %w", err)
	}

	d := &Device{
		Config:      config,
		Logger:      logger,
		Store:       store,
		Runner:      runner,
		Certs:       certs,
		Auth:        auth,
		Throttle:    throttle,
		Pairing:     pairing,
		Revocations: revocations,
		cancel:      cancel,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("device initialized")
	return d, nil
}

// Close drains pending pairing sessions and stops the task runner.
func (d *Device) Close() {
	if d.Pairing != nil {
		d.Pairing.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.Runner != nil {
		d.Runner.Stop()
	}
}

func resolveConfigPath() string {
	if p := os.Getenv("WEAVE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join("config", "weave.toml")
}

func parsePairingModes(names []string) []security.PairingType {
	modes := make([]security.PairingType, 0, len(names))
	for _, name := range names {
		modes = append(modes, security.PairingType(name))
	}
	return modes
}

// loadOrGenerateKey returns the 32-byte secret stored under key, generating
// and persisting a fresh random one on first run. Key material is never
// logged.
func loadOrGenerateKey(ctx context.Context, store interfaces.ConfigStore, key string) ([]byte, error) {
	raw, err := store.LoadSettings(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("stored %s is not valid base64: %w", key, err)
		}
		if len(decoded) == keyLength {
			return decoded, nil
		}
	}

	fresh := make([]byte, keyLength)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generate %s: %w", key, err)
	}

	saveErr := make(chan error, 1)
	store.SaveSettings(ctx, key, base64.StdEncoding.EncodeToString(fresh), func(err error) {
		saveErr <- err
	})
	if err := <-saveErr; err != nil {
		return nil, fmt.Errorf("persist %s: %w", key, err)
	}
	return fresh, nil
}
