package security

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"

	"github.com/weave-iot/libweave/internal/common"
	"github.com/weave-iot/libweave/internal/interfaces"
)

const revocationListKey = "black_list"

// RevocationEntry is one blacklist record. Identifier fields are raw byte
// sequences of arbitrary length; a nil or empty field is a wildcard that
// matches any id. RevocationTime must be <= ExpirationTime.
type RevocationEntry struct {
	UserID         []byte
	AppID          []byte
	RevocationTime int64
	ExpirationTime int64
}

type revocationEntryJSON struct {
	User       string `json:"user"`
	App        string `json:"app"`
	Expiration int64  `json:"expiration"`
	Revocation int64  `json:"revocation"`
}

func (e RevocationEntry) toJSON() revocationEntryJSON {
	return revocationEntryJSON{
		User:       base64.StdEncoding.EncodeToString(e.UserID),
		App:        base64.StdEncoding.EncodeToString(e.AppID),
		Expiration: e.ExpirationTime,
		Revocation: e.RevocationTime,
	}
}

func (j revocationEntryJSON) toEntry() (RevocationEntry, error) {
	user, err := base64.StdEncoding.DecodeString(j.User)
	if err != nil {
		return RevocationEntry{}, err
	}
	app, err := base64.StdEncoding.DecodeString(j.App)
	if err != nil {
		return RevocationEntry{}, err
	}
	return RevocationEntry{
		UserID:         user,
		AppID:          app,
		RevocationTime: j.Revocation,
		ExpirationTime: j.Expiration,
	}, nil
}

// RevocationStore is the persisted, capacity-bounded access-revocation
// blacklist. It runs on the same single-threaded cooperative model as the
// rest of the security core (see sessionregistry.go) and so, like
// PairingEngine and SessionRegistry, holds no internal locks: every
// mutation is assumed externally serialized by the TaskRunner.
type RevocationStore struct {
	store    interfaces.ConfigStore
	clock    interfaces.Clock
	logger   *common.Logger
	capacity int

	// entries is kept in first-seen (insertion) order, which both backs
	// the capacity eviction tie-break and is incidental to everything else.
	entries []RevocationEntry

	// everEvicted becomes true the first time capacity forces an entry
	// out. From that point on, the store can no longer prove a given id
	// wasn't covered by something it has since forgotten, so it widens
	// IsBlocked into a global cutoff — see IsBlocked.
	everEvicted bool

	onEntryAdded []func(RevocationEntry)
}

// NewRevocationStore constructs a store, synchronously loading and
// pruning the persisted blacklist from ConfigStore under "black_list".
// If pruning discarded anything, the trimmed list is written back before
// this returns.
func NewRevocationStore(ctx context.Context, store interfaces.ConfigStore, clock interfaces.Clock, capacity int, logger *common.Logger) (*RevocationStore, error) {
	if capacity <= 0 {
		capacity = 10
	}
	s := &RevocationStore{
		store:    store,
		clock:    clock,
		logger:   logger,
		capacity: capacity,
	}

	raw, err := store.LoadSettings(ctx, revocationListKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return s, nil
	}

	entries, malformed := decodeRevocationList(raw, logger)
	now := clock.Now().Unix()

	kept := make([]RevocationEntry, 0, len(entries))
	discarded := false
	for _, e := range entries {
		if e.ExpirationTime <= now {
			discarded = true
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept

	if discarded || malformed {
		s.persist(ctx, nil)
	}

	return s, nil
}

// decodeRevocationList parses the persisted JSON array. A malformed
// top-level structure is tolerated: it yields an empty list. The second
// result reports whether anything was malformed, in which case
// NewRevocationStore writes the cleaned list back immediately, replacing
// the corrupt blob.
func decodeRevocationList(raw string, logger *common.Logger) ([]RevocationEntry, bool) {
	var decoded []revocationEntryJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Msg("persisted revocation list is malformed; starting empty")
		}
		return nil, true
	}

	entries := make([]RevocationEntry, 0, len(decoded))
	malformed := false
	for _, d := range decoded {
		entry, err := d.toEntry()
		if err != nil {
			malformed = true
			continue
		}
		entries = append(entries, entry)
	}
	return entries, malformed
}

// Block adds or replaces a revocation entry. entry.ExpirationTime must be
// strictly in the future; otherwise Block fails synchronously with
// already_expired and touches no state. On success, the full entry set is
// persisted and done is invoked once persistence completes — which may
// happen inline, before Block returns, so callers must not touch Block's
// own state afterward (Block doesn't, but this mirrors the reentrancy
// constraint the caller must honor).
func (s *RevocationStore) Block(ctx context.Context, entry RevocationEntry, done interfaces.DoneFunc) error {
	now := s.clock.Now().Unix()
	if entry.ExpirationTime <= now {
		return newError(ErrAlreadyExpired, "revocation entry expiration %d is not after now (%d)", entry.ExpirationTime, now)
	}

	s.purgeExpired(now)

	if idx := s.indexOf(entry.UserID, entry.AppID); idx >= 0 {
		s.entries[idx] = entry
	} else {
		if len(s.entries) >= s.capacity {
			s.evictOne()
		}
		s.entries = append(s.entries, entry)
	}

	s.persist(ctx, func(err error) {
		if err == nil {
			for _, fn := range s.onEntryAdded {
				fn(entry)
			}
		}
		if done != nil {
			done(err)
		}
	})
	return nil
}

// purgeExpired drops every entry whose ExpirationTime is no longer in the
// future, maintaining the invariant that every stored entry satisfies
// expiration_time > now, re-checked on every mutation as well as on load.
func (s *RevocationStore) purgeExpired(now int64) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ExpirationTime > now {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func (s *RevocationStore) indexOf(userID, appID []byte) int {
	for i, e := range s.entries {
		if bytes.Equal(e.UserID, userID) && bytes.Equal(e.AppID, appID) {
			return i
		}
	}
	return -1
}

// evictOne removes the entry with the smallest ExpirationTime, tie-broken
// by smallest RevocationTime, then by first-seen order (the stable order
// s.entries is already kept in).
func (s *RevocationStore) evictOne() {
	victim := 0
	for i := 1; i < len(s.entries); i++ {
		if isEvictionPriority(s.entries[i], s.entries[victim]) {
			victim = i
		}
	}
	s.entries = append(s.entries[:victim], s.entries[victim+1:]...)
	s.everEvicted = true
}

// isEvictionPriority reports whether candidate should be evicted before
// current under the smallest-expiration, then smallest-revocation
// tie-break. First-seen order falls out of only replacing the victim on a
// strict improvement, never on a tie, since candidate is always seen
// after current in the iteration.
func isEvictionPriority(candidate, current RevocationEntry) bool {
	if candidate.ExpirationTime != current.ExpirationTime {
		return candidate.ExpirationTime < current.ExpirationTime
	}
	return candidate.RevocationTime < current.RevocationTime
}

// IsBlocked reports whether any stored entry matches both ids (wildcard if
// empty) and was revoked strictly after delegationTime (delegationTime <
// RevocationTime). Once the store has
// ever evicted an entry for capacity, it additionally blocks anything at
// or before the oldest still-resident revocation time, regardless of id:
// the evicted entry's own block effect is gone, but the store can no
// longer tell a legitimately-unlisted id apart from one whose revocation
// record it lost, so it has to treat that whole time window as unsafe.
func (s *RevocationStore) IsBlocked(userID, appID []byte, delegationTime int64) bool {
	if s.everEvicted {
		if floor, ok := s.oldestResidentRevocationTime(); ok && delegationTime <= floor {
			return true
		}
	}

	for _, e := range s.entries {
		if len(e.UserID) > 0 && !bytes.Equal(e.UserID, userID) {
			continue
		}
		if len(e.AppID) > 0 && !bytes.Equal(e.AppID, appID) {
			continue
		}
		if delegationTime < e.RevocationTime {
			return true
		}
	}
	return false
}

func (s *RevocationStore) oldestResidentRevocationTime() (int64, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	oldest := s.entries[0].RevocationTime
	for _, e := range s.entries[1:] {
		if e.RevocationTime < oldest {
			oldest = e.RevocationTime
		}
	}
	return oldest, true
}

// Size returns the number of entries currently held.
func (s *RevocationStore) Size() int {
	return len(s.entries)
}

// OnEntryAdded registers an observer fired after each Block whose
// persistence completed successfully.
func (s *RevocationStore) OnEntryAdded(fn func(RevocationEntry)) {
	s.onEntryAdded = append(s.onEntryAdded, fn)
}

// persist writes the full entry set back to ConfigStore as JSON.
func (s *RevocationStore) persist(ctx context.Context, done interfaces.DoneFunc) {
	encoded := make([]revocationEntryJSON, len(s.entries))
	for i, e := range s.entries {
		encoded[i] = e.toJSON()
	}
	// sort is cosmetic only — doesn't affect eviction or matching, both of
	// which operate on s.entries directly — but keeps the persisted blob's
	// entry order stable for diffing across runs.
	sort.SliceStable(encoded, func(i, j int) bool {
		return encoded[i].Revocation < encoded[j].Revocation
	})

	data, err := json.Marshal(encoded)
	if err != nil {
		if done != nil {
			done(err)
		}
		return
	}

	s.store.SaveSettings(ctx, revocationListKey, string(data), done)
}
