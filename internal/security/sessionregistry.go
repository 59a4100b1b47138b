package security

import (
	"time"

	"github.com/google/uuid"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/interfaces"
)

// PairingSession is one in-flight or confirmed pairing attempt. Its
// KeyExchanger owns all cryptographic state and is mutated only by the
// component driving the state machine (PairingEngine); SessionRegistry
// only tracks its lifetime.
type PairingSession struct {
	ID        string
	Mode      PairingType
	Exchanger KeyExchanger
	State     SessionState
	ExpiresAt time.Time

	// Code is the plaintext pairing code the session was started with,
	// handed to on_session_started listeners so a local UI can display it.
	Code []byte
}

// SessionRegistry owns the pending/confirmed session maps and their
// expiry timers. At most one pending session exists at any instant:
// starting a new one closes whatever pending session preceded it.
//
// It follows the single-threaded cooperative model of the security core:
// it holds no internal lock, and every method call and expiry callback is
// assumed to be serialized by the TaskRunner.
type SessionRegistry struct {
	runner interfaces.TaskRunner
	clock  interfaces.Clock
	logger *common.Logger

	pending   map[string]*PairingSession
	confirmed map[string]*PairingSession

	onStarted []func(id string, mode PairingType, code []byte)
	onEnded   []func(id string)
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(runner interfaces.TaskRunner, clock interfaces.Clock, logger *common.Logger) *SessionRegistry {
	return &SessionRegistry{
		runner:    runner,
		clock:     clock,
		logger:    logger,
		pending:   make(map[string]*PairingSession),
		confirmed: make(map[string]*PairingSession),
	}
}

// OnSessionStarted registers an observer fired synchronously at the end of
// every successful StartPending call.
func (r *SessionRegistry) OnSessionStarted(fn func(id string, mode PairingType, code []byte)) {
	r.onStarted = append(r.onStarted, fn)
}

// OnSessionEnded registers an observer fired whenever a pending session is
// actually removed — never for a callback that finds the session already
// gone.
func (r *SessionRegistry) OnSessionEnded(fn func(id string)) {
	r.onEnded = append(r.onEnded, fn)
}

// StartPending closes any existing pending session, allocates a fresh
// session id, stores the new session, schedules its expiry, and fires
// on_session_started.
func (r *SessionRegistry) StartPending(mode PairingType, exchanger KeyExchanger, code []byte, ttl time.Duration) *PairingSession {
	for id := range r.pending {
		r.closePending(id)
	}

	id := r.newSessionID()
	session := &PairingSession{
		ID:        id,
		Mode:      mode,
		Exchanger: exchanger,
		State:     SessionPending,
		ExpiresAt: r.clock.Now().Add(ttl),
		Code:      code,
	}
	r.pending[id] = session
	r.scheduleExpiry(id, SessionPending, ttl)

	for _, fn := range r.onStarted {
		fn(id, mode, code)
	}
	return session
}

// newSessionID draws a fresh GUID, resampling on the practically
// impossible event of a collision with either map.
func (r *SessionRegistry) newSessionID() string {
	for {
		id := uuid.NewString()
		if _, exists := r.pending[id]; exists {
			continue
		}
		if _, exists := r.confirmed[id]; exists {
			continue
		}
		return id
	}
}

func (r *SessionRegistry) scheduleExpiry(id string, state SessionState, ttl time.Duration) {
	r.runner.PostDelayedTask(ttl, func() {
		r.expire(id, state)
	})
}

// expire is the delayed-close callback for a session scheduled in state.
// It looks the session up by id, not by a captured pointer, and only in
// the map for that state, so it is a silent no-op if the session is already
// gone from it — it may have been cancelled, promoted, or already expired.
func (r *SessionRegistry) expire(id string, state SessionState) {
	if state == SessionPending {
		if _, ok := r.pending[id]; ok {
			if r.logger != nil {
				r.logger.Debug().Str("session_id", id).Msg("pending session expired")
			}
			r.closePending(id)
		}
		return
	}
	if _, ok := r.confirmed[id]; ok {
		if r.logger != nil {
			r.logger.Debug().Str("session_id", id).Msg("confirmed session expired")
		}
		r.closeConfirmed(id)
	}
}

// GetPending returns the pending session for id, if any.
func (r *SessionRegistry) GetPending(id string) (*PairingSession, bool) {
	s, ok := r.pending[id]
	return s, ok
}

// GetConfirmed returns the confirmed session for id, if any.
func (r *SessionRegistry) GetConfirmed(id string) (*PairingSession, bool) {
	s, ok := r.confirmed[id]
	return s, ok
}

// ConfirmedSessions returns a snapshot slice of all confirmed sessions,
// for IsValidPairingCode to scan.
func (r *SessionRegistry) ConfirmedSessions() []*PairingSession {
	out := make([]*PairingSession, 0, len(r.confirmed))
	for _, s := range r.confirmed {
		out = append(out, s)
	}
	return out
}

// Promote moves a pending session to confirmed and reschedules its
// expiry timer for ttl from now.
func (r *SessionRegistry) Promote(id string, ttl time.Duration) (*PairingSession, bool) {
	session, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	session.State = SessionConfirmed
	session.ExpiresAt = r.clock.Now().Add(ttl)
	r.confirmed[id] = session
	r.scheduleExpiry(id, SessionConfirmed, ttl)
	return session, true
}

// CancelPending removes a pending session by id, reporting whether one
// was present. Fires on_session_ended if removed.
func (r *SessionRegistry) CancelPending(id string) bool {
	if _, ok := r.pending[id]; !ok {
		return false
	}
	r.closePending(id)
	return true
}

// CancelConfirmed removes a confirmed session by id, reporting whether
// one was present.
func (r *SessionRegistry) CancelConfirmed(id string) bool {
	if _, ok := r.confirmed[id]; !ok {
		return false
	}
	r.closeConfirmed(id)
	return true
}

func (r *SessionRegistry) closePending(id string) {
	if _, ok := r.pending[id]; !ok {
		return
	}
	delete(r.pending, id)
	for _, fn := range r.onEnded {
		fn(id)
	}
}

func (r *SessionRegistry) closeConfirmed(id string) {
	if _, ok := r.confirmed[id]; !ok {
		return
	}
	delete(r.confirmed, id)
}

// Close drains every pending session, firing on_session_ended for each —
// the Go equivalent of the original destructor's pending_sessions_ drain.
// Confirmed sessions are left to their own timers, matching the original
// (only pending sessions are drained on shutdown).
func (r *SessionRegistry) Close() {
	for id := range r.pending {
		r.closePending(id)
	}
}
