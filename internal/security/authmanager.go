package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/interfaces"
)

const macSize = sha256.Size // 32 bytes

// AuthManager holds the device's two HMAC secrets and mints/verifies
// access tokens. It is the one component that touches K_auth directly;
// every other component that needs to check identity goes through
// ParseAccessToken.
type AuthManager struct {
	authKey        []byte // K_auth
	certificateKey []byte // K_certificate

	certs  interfaces.CertificateProvider
	clock  interfaces.Clock
	logger *common.Logger

	delegationCertificate string
}

// NewAuthManager constructs an AuthManager. authKey and certificateKey
// must each be 32 bytes; callers normally generate them once at
// first-run and persist them outside the security core (key storage
// hardware integration is explicitly out of scope).
func NewAuthManager(authKey, certificateKey []byte, certs interfaces.CertificateProvider, clock interfaces.Clock, logger *common.Logger) (*AuthManager, error) {
	if len(authKey) != macSize {
		return nil, fmt.Errorf("security: auth key must be %d bytes, got %d", macSize, len(authKey))
	}
	if len(certificateKey) != macSize {
		return nil, fmt.Errorf("security: certificate key must be %d bytes, got %d", macSize, len(certificateKey))
	}
	return &AuthManager{
		authKey:        authKey,
		certificateKey: certificateKey,
		certs:          certs,
		clock:          clock,
		logger:         logger,
	}, nil
}

// CreateAccessToken builds the unencoded AccessToken blob:
// HMAC_SHA256(K_auth, payload) ‖ payload, where payload is the ASCII
// "scope:user_id:issued_at_seconds" string. issuedAt is supplied by the
// caller (normally the injected clock) so tests stay deterministic.
func (a *AuthManager) CreateAccessToken(user UserInfo, issuedAtUnixSeconds int64) []byte {
	payload := tokenPayload(user, issuedAtUnixSeconds)
	mac := hmac.New(sha256.New, a.authKey)
	mac.Write(payload)
	sum := mac.Sum(nil)
	return append(sum, payload...)
}

// ParseAccessToken splits raw into MAC and payload, verifies the MAC in
// constant time, and decodes the three colon-separated fields. Any
// failure — too short, bad MAC, malformed or out-of-range fields —
// returns the sentinel NoIdentity and ok=false; the caller must treat
// that exactly as "no identity," never as a partial one.
func (a *AuthManager) ParseAccessToken(raw []byte) (user UserInfo, issuedAtUnixSeconds int64, ok bool) {
	if len(raw) < macSize {
		return NoIdentity, 0, false
	}
	gotMAC := raw[:macSize]
	payload := raw[macSize:]

	mac := hmac.New(sha256.New, a.authKey)
	mac.Write(payload)
	wantMAC := mac.Sum(nil)
	if !hmac.Equal(gotMAC, wantMAC) {
		return NoIdentity, 0, false
	}

	fields := strings.Split(string(payload), ":")
	if len(fields) != 3 {
		return NoIdentity, 0, false
	}

	scopeVal, err := strconv.Atoi(fields[0])
	if err != nil {
		return NoIdentity, 0, false
	}
	scope, valid := ParseScope(scopeVal)
	if !valid {
		return NoIdentity, 0, false
	}

	userID, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return NoIdentity, 0, false
	}

	issuedAt, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return NoIdentity, 0, false
	}

	return UserInfo{Scope: scope, UserID: userID}, issuedAt, true
}

// EncodeToken renders a token blob for the wire: Base64 of the MAC+payload
// bytes CreateAccessToken produced.
func EncodeToken(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeToken reverses EncodeToken. A Base64 decode failure is reported to
// the caller rather than folded into ParseAccessToken's NoIdentity
// sentinel, since it's a transport-layer error, not an identity one.
func DecodeToken(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, wrapError(ErrInvalidFormat, err, "access token is not valid base64")
	}
	return raw, nil
}

func tokenPayload(user UserInfo, issuedAtUnixSeconds int64) []byte {
	return []byte(fmt.Sprintf("%d:%d:%d", int(user.Scope), user.UserID, issuedAtUnixSeconds))
}

// GetCertificateFingerprint returns the SHA-256 digest of the device's TLS
// certificate, via the injected CertificateProvider. This is the value
// signed during ConfirmPairing to prove possession of the derived key.
func (a *AuthManager) GetCertificateFingerprint() []byte {
	return a.certs.CertificateFingerprint()
}

// SignWithDerivedKey computes HMAC_SHA256(key, fingerprint), the signature
// ConfirmPairing returns to the peer.
func SignWithDerivedKey(key, fingerprint []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(fingerprint)
	return mac.Sum(nil)
}

// SetDelegationCertificate records the device's optional cloud-issued
// delegation certificate. In practice this is a JWT issued by the cloud
// pairing service; the device holds no verification key for it, so it is
// parsed unverified purely to surface issuer/expiry in diagnostics. It
// plays no role in local pairing or token verification.
func (a *AuthManager) SetDelegationCertificate(token string) {
	a.delegationCertificate = token
	if a.logger == nil || token == "" {
		return
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		a.logger.Debug().Err(err).Msg("delegation certificate is not a parseable JWT")
		return
	}

	event := a.logger.Debug()
	if iss, ok := claims["iss"].(string); ok {
		event = event.Str("issuer", iss)
	}
	if exp, ok := claims["exp"].(float64); ok {
		event = event.Int64("expires_at", int64(exp))
	}
	event.Msg("recorded delegation certificate")
}

// DelegationCertificate returns the opaque certificate string set by
// SetDelegationCertificate, or "" if none has been set.
func (a *AuthManager) DelegationCertificate() string {
	return a.delegationCertificate
}
