package security

import (
	"time"

	"github.com/weave-iot/libweave/internal/interfaces"
)

const (
	defaultMaxAttempts   = 3
	defaultBlockDuration = time.Minute
)

// ThrottleGuard counts failed-pairing attempts and imposes a temporary
// lockout after too many. Preserve-as-is per the source's documented
// ambiguity: the counter increments before the threshold check, so the
// attempt that trips the threshold still succeeds — the lockout only
// takes effect starting with the next call.
type ThrottleGuard struct {
	clock    interfaces.Clock
	disabled bool

	maxAttempts   int
	blockDuration time.Duration

	attempts   int
	blockUntil time.Time
}

// NewThrottleGuard constructs a guard with the given ceiling/lockout
// duration. maxAttempts <= 0 falls back to 3; blockDuration <= 0 falls
// back to one minute, matching the constants the original hard-codes
// (kMaxAllowedPairingAttemts, kPairingBlockingTimeMinutes).
func NewThrottleGuard(clock interfaces.Clock, maxAttempts int, blockDuration time.Duration, disabled bool) *ThrottleGuard {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if blockDuration <= 0 {
		blockDuration = defaultBlockDuration
	}
	return &ThrottleGuard{
		clock:         clock,
		disabled:      disabled,
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
	}
}

// Check reports whether a new pairing attempt may proceed. With security
// disabled it is a permanent no-op success. Otherwise: if currently
// blocked, returns deviceBusy without touching the counter. Else,
// increments the counter and, if that increment reached the ceiling, arms
// the block for the next call — but still returns success for this one.
func (g *ThrottleGuard) Check() error {
	if g.disabled {
		return nil
	}

	now := g.clock.Now()
	if now.Before(g.blockUntil) {
		return newError(ErrDeviceBusy, "pairing blocked until %s", g.blockUntil.Format(time.RFC3339))
	}

	g.attempts++
	if g.attempts >= g.maxAttempts {
		g.blockUntil = now.Add(g.blockDuration)
	}
	return nil
}

// Reset zeroes the attempt counter and lifts any active block, called
// after a pairing code is successfully used.
func (g *ThrottleGuard) Reset() {
	g.attempts = 0
	g.blockUntil = time.Time{}
}

// Decrement reduces the attempt counter by one without resetting the
// block, used when CancelPairing unwinds a pending session that was
// counted but never actually consumed. The counter never goes below zero.
func (g *ThrottleGuard) Decrement() {
	if g.attempts > 0 {
		g.attempts--
	}
}

// Attempts returns the current attempt count, for tests and diagnostics.
func (g *ThrottleGuard) Attempts() int {
	return g.attempts
}

// BlockedUntil returns the current block deadline, zero if not blocked.
func (g *ThrottleGuard) BlockedUntil() time.Time {
	return g.blockUntil
}
