// Package security implements libweave's device-side security core: pairing
// key exchange, access-token mint/verify, a persisted revocation blacklist,
// and pairing brute-force throttling. It is grounded on
// vire/internal/server/handlers_auth.go and middleware.go for HMAC/JWT/uuid
// idiom, and on src/privet/security_manager.cc (and the other
// access_revocation_manager_impl*.cc files under original_source) for the
// algorithms themselves.
package security

import "fmt"

// Scope is the privilege level of a local user on the device, ordered by
// privilege: None < Viewer < User < Manager < Owner.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeViewer
	ScopeUser
	ScopeManager
	ScopeOwner
)

// String returns the scope's name ("None", "Viewer", ...). The token wire
// format does not use it; tokens carry the scope's integer value.
func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "None"
	case ScopeViewer:
		return "Viewer"
	case ScopeUser:
		return "User"
	case ScopeManager:
		return "Manager"
	case ScopeOwner:
		return "Owner"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ParseScope decodes the integer value used in the token wire format.
// Any value outside [ScopeNone, ScopeOwner] is rejected.
func ParseScope(v int) (Scope, bool) {
	if v < int(ScopeNone) || v > int(ScopeOwner) {
		return ScopeNone, false
	}
	return Scope(v), true
}

// UserInfo identifies a local user: a privilege scope and an opaque 64-bit
// user id. user_id 0 means anonymous. UserInfo is an immutable value.
type UserInfo struct {
	Scope  Scope
	UserID uint64
}

// NoIdentity is the sentinel UserInfo returned whenever an access token
// fails to parse or verify: ParseAccessToken never returns a partially
// trusted identity.
var NoIdentity = UserInfo{Scope: ScopeNone, UserID: 0}

// PairingType names a supported pairing mode. The original recognizes
// "pinCode" and "embeddedCode"; libweave keeps the same names.
type PairingType string

const (
	PairingTypePinCode      PairingType = "pinCode"
	PairingTypeEmbeddedCode PairingType = "embeddedCode"
)

// CryptoType names a KeyExchanger variant.
type CryptoType string

const (
	CryptoTypeSpakeP224 CryptoType = "Spake_p224"
	CryptoTypeNone      CryptoType = "None"
)

// SessionState is the lifecycle state of a PairingSession.
type SessionState int

const (
	SessionPending SessionState = iota
	SessionConfirmed
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "Pending"
	case SessionConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}
