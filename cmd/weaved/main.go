package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/device"
	"github.com/weave-iot/libweave/internal/security"
)

func main() {
	configPath := os.Getenv("WEAVE_CONFIG")

	d, err := device.New(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize device: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(d.Config, d.Logger)

	d.Pairing.OnStart(func(sessionID string, mode security.PairingType, code []byte) {
		d.Logger.Info().
			Str("session_id", sessionID).
			Str("mode", string(mode)).
			Msg("pairing code ready")
	})
	d.Pairing.OnEnd(func(sessionID string) {
		d.Logger.Debug().Str("session_id", sessionID).Msg("pairing session ended")
	})

	d.Logger.Info().
		Strs("pairing_types", pairingTypeStrings(d.Pairing.PairingTypes())).
		Int("revoked", d.Revocations.Size()).
		Msg("device ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	d.Logger.Info().Msg("shutdown signal received")

	common.PrintShutdownBanner(d.Logger)
	d.Close()
}

func pairingTypeStrings(types []security.PairingType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
