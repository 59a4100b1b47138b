package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/interfaces"
)

// PairingEngineConfig configures the modes and backdoors a PairingEngine
// permits. It is the security-relevant slice of common.SecurityConfig,
// passed in rather than taking the whole Config so the engine doesn't
// depend on the config package.
type PairingEngineConfig struct {
	PairingModes    []PairingType
	EmbeddedCode    string
	DisableSecurity bool
	PairingExpiry   time.Duration
	SessionExpiry   time.Duration
}

// PairingEngine drives the pairing state machine: StartPairing,
// ConfirmPairing, IsValidPairingCode, CancelPairing.
type PairingEngine struct {
	registry *SessionRegistry
	throttle *ThrottleGuard
	auth     *AuthManager
	clock    interfaces.Clock
	logger   *common.Logger

	pairingModes    map[PairingType]bool
	embeddedCode    string
	disableSecurity bool
	pairingExpiry   time.Duration
	sessionExpiry   time.Duration
}

// NewPairingEngine constructs a PairingEngine. cfg.EmbeddedCode must be
// non-empty iff PairingTypeEmbeddedCode is among cfg.PairingModes — the
// same cross-field invariant common.Config.Validate enforces at the
// configuration layer; the engine re-checks it at construction so a
// caller wiring it directly can't skip that check.
func NewPairingEngine(cfg PairingEngineConfig, registry *SessionRegistry, throttle *ThrottleGuard, auth *AuthManager, clock interfaces.Clock, logger *common.Logger) (*PairingEngine, error) {
	modes := make(map[PairingType]bool, len(cfg.PairingModes))
	for _, m := range cfg.PairingModes {
		modes[m] = true
	}
	if modes[PairingTypeEmbeddedCode] != (cfg.EmbeddedCode != "") {
		return nil, fmt.Errorf("security: embedded_code must be set if and only if embeddedCode pairing mode is enabled")
	}

	pairingExpiry := cfg.PairingExpiry
	if pairingExpiry <= 0 {
		pairingExpiry = 5 * time.Minute
	}
	sessionExpiry := cfg.SessionExpiry
	if sessionExpiry <= 0 {
		sessionExpiry = 5 * time.Minute
	}

	return &PairingEngine{
		registry:        registry,
		throttle:        throttle,
		auth:            auth,
		clock:           clock,
		logger:          logger,
		pairingModes:    modes,
		embeddedCode:    cfg.EmbeddedCode,
		disableSecurity: cfg.DisableSecurity,
		pairingExpiry:   pairingExpiry,
		sessionExpiry:   sessionExpiry,
	}, nil
}

// OnStart registers an observer fired on every successful StartPairing
// with the live pairing code, so a local UI may display it.
func (e *PairingEngine) OnStart(fn func(sessionID string, mode PairingType, code []byte)) {
	e.registry.OnSessionStarted(fn)
}

// OnEnd registers an observer fired whenever a pending session closes.
func (e *PairingEngine) OnEnd(fn func(sessionID string)) {
	e.registry.OnSessionEnded(fn)
}

// StartPairing begins a new pairing attempt. Returns the session id and
// the Base64 of the device's first protocol message.
func (e *PairingEngine) StartPairing(mode PairingType, crypto CryptoType) (sessionID, commitmentB64 string, err error) {
	if err := e.throttle.Check(); err != nil {
		return "", "", err
	}

	if !e.pairingModes[mode] {
		return "", "", newError(ErrInvalidParams, "pairing mode %q is not configured", mode)
	}

	code, err := e.materializeCode(mode)
	if err != nil {
		return "", "", err
	}

	exchanger, err := e.selectExchanger(crypto, code)
	if err != nil {
		return "", "", err
	}

	session := e.registry.StartPending(mode, exchanger, []byte(code), e.pairingExpiry)
	if e.logger != nil {
		e.logger.Debug().Str("session_id", session.ID).Str("mode", string(mode)).Msg("pairing session started")
	}
	return session.ID, base64.StdEncoding.EncodeToString(exchanger.FirstMessage()), nil
}

func (e *PairingEngine) materializeCode(mode PairingType) (string, error) {
	switch mode {
	case PairingTypeEmbeddedCode:
		if e.embeddedCode == "" {
			return "", newError(ErrInvalidParams, "embedded code is not configured")
		}
		return e.embeddedCode, nil
	case PairingTypePinCode:
		return generatePin()
	default:
		return "", newError(ErrInvalidParams, "pairing mode %q is not configured", mode)
	}
}

func (e *PairingEngine) selectExchanger(crypto CryptoType, code string) (KeyExchanger, error) {
	switch crypto {
	case CryptoTypeSpakeP224:
		return newSpakeP224Exchanger(code), nil
	case CryptoTypeNone:
		if !e.disableSecurity {
			return nil, newError(ErrInvalidParams, "crypto type %q requires security to be disabled", crypto)
		}
		return newInsecureExchanger(code), nil
	default:
		return nil, newError(ErrInvalidParams, "crypto type %q is not supported", crypto)
	}
}

// generatePin samples a uniformly random 4-decimal-digit string,
// zero-padded, using crypto/rand rather than math/rand since it seeds a
// security-relevant secret.
func generatePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("security: generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// ConfirmPairing feeds the peer's commitment to the pending session's
// exchanger. On success it signs the device certificate fingerprint with
// the derived key and promotes the session to confirmed.
func (e *PairingEngine) ConfirmPairing(sessionID, clientCommitmentB64 string) (fingerprintB64, signatureB64 string, err error) {
	session, ok := e.registry.GetPending(sessionID)
	if !ok {
		return "", "", newError(ErrUnknownSession, "no pending session %q", sessionID)
	}

	clientCommitment, err := base64.StdEncoding.DecodeString(clientCommitmentB64)
	if err != nil {
		e.registry.CancelPending(sessionID)
		return "", "", wrapError(ErrInvalidFormat, err, "client commitment is not valid base64")
	}

	if status := session.Exchanger.ProcessPeerMessage(clientCommitment); status != ExchangeOK {
		e.registry.CancelPending(sessionID)
		cause := newError(ErrInvalidClientCommitment, "peer commitment rejected by key exchange")
		return "", "", wrapError(ErrCommitmentMismatch, cause, "pairing code or crypto implementation mismatch")
	}

	key := session.Exchanger.DerivedKey()
	fingerprint := e.auth.GetCertificateFingerprint()
	if e.logger != nil {
		e.logger.Debug().Str("session_id", sessionID).Str("key", hex.EncodeToString(key)).Msg("negotiated pairing session key")
	}
	signature := SignWithDerivedKey(key, fingerprint)

	e.registry.Promote(sessionID, e.sessionExpiry)

	return base64.StdEncoding.EncodeToString(fingerprint), base64.StdEncoding.EncodeToString(signature), nil
}

// IsValidPairingCode checks macB64 against every confirmed session's
// HMAC_SHA256(key, session_id). On any match it resets the throttle state
// and returns true. It does not remove the matched session: repeated
// calls with the same MAC keep succeeding until the session's own TTL
// expires it, per the source's documented behavior.
func (e *PairingEngine) IsValidPairingCode(macB64 string) bool {
	if e.disableSecurity {
		return true
	}

	mac, err := base64.StdEncoding.DecodeString(macB64)
	if err != nil {
		return false
	}

	for _, session := range e.registry.ConfirmedSessions() {
		want := hmacSHA256(session.Exchanger.DerivedKey(), []byte(session.ID))
		if hmac.Equal(mac, want) {
			e.throttle.Reset()
			return true
		}
	}
	return false
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// CancelPairing removes session_id from whichever map holds it. Cancelling
// a pending session also decrements the throttle counter: an attempt that
// never reached confirmation or timeout was not a genuine failed guess.
func (e *PairingEngine) CancelPairing(sessionID string) error {
	if e.registry.CancelPending(sessionID) {
		e.throttle.Decrement()
		return nil
	}
	if e.registry.CancelConfirmed(sessionID) {
		return nil
	}
	return newError(ErrUnknownSession, "no session %q", sessionID)
}

// Close drains all pending sessions, firing on_end for each — called from
// process shutdown.
func (e *PairingEngine) Close() {
	e.registry.Close()
}

// PairingTypes returns the configured pairing modes, for introspection
// (the original exposes the equivalent via GetPairingTypes).
func (e *PairingEngine) PairingTypes() []PairingType {
	out := make([]PairingType, 0, len(e.pairingModes))
	for m := range e.pairingModes {
		out = append(out, m)
	}
	return out
}

// CryptoTypes returns the crypto types currently permitted: Spake_p224
// always, plus None only when security is disabled (the original's
// GetCryptoTypes, gated the same way).
func (e *PairingEngine) CryptoTypes() []CryptoType {
	out := []CryptoType{CryptoTypeSpakeP224}
	if e.disableSecurity {
		out = append(out, CryptoTypeNone)
	}
	return out
}
