package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevocationStore_LoadAndPrune(t *testing.T) {
	store := newFakeConfigStore()
	store.values[revocationListKey] = `[
		{"user":"BQID","app":"BwQF","expiration":1400000000,"revocation":1300000000},
		{"user":"AQID","app":"AwQF","expiration":1500000000,"revocation":1419997999}
	]`

	clock := newFakeClock(time.Unix(1412121212, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Size())
	assert.Equal(t, 1, store.SaveCalls())
}

func TestRevocationStore_LoadEmptyIsNoOp(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(fixedTestTime)
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Size())
	assert.Equal(t, 0, store.SaveCalls())
}

func TestRevocationStore_MalformedPersistedBlobYieldsEmpty(t *testing.T) {
	store := newFakeConfigStore()
	store.values[revocationListKey] = `not json at all`
	clock := newFakeClock(fixedTestTime)
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Size())
}

func TestRevocationStore_WildcardBlock(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	r := int64(1419980000)
	err = rs.Block(context.Background(), RevocationEntry{
		ExpirationTime: 1419990000,
		RevocationTime: r,
	}, nil)
	require.NoError(t, err)

	assert.True(t, rs.IsBlocked([]byte{1, 2, 3}, []byte{4, 5, 6}, r-1))
	assert.False(t, rs.IsBlocked([]byte{1, 2, 3}, []byte{4, 5, 6}, r))
	assert.False(t, rs.IsBlocked([]byte{1, 2, 3}, []byte{4, 5, 6}, r+1))
}

func TestRevocationStore_Block_AlreadyExpiredFails(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	err = rs.Block(context.Background(), RevocationEntry{
		ExpirationTime: 1300000000,
		RevocationTime: 1200000000,
	}, nil)
	require.Error(t, err)
	code, ok := Code(err)
	require.True(t, ok)
	assert.Equal(t, ErrAlreadyExpired, code)
	assert.Equal(t, 0, rs.Size())
}

func TestRevocationStore_Block_ReplacesExistingDuplicateID(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	user, app := []byte{1}, []byte{2}
	require.NoError(t, rs.Block(context.Background(), RevocationEntry{
		UserID: user, AppID: app, ExpirationTime: 1419990000, RevocationTime: 1419980000,
	}, nil))
	require.NoError(t, rs.Block(context.Background(), RevocationEntry{
		UserID: user, AppID: app, ExpirationTime: 1419995000, RevocationTime: 1419985000,
	}, nil))

	assert.Equal(t, 1, rs.Size())
	// the first Block's revocation time (1419980000) no longer governs: a
	// delegation at exactly that instant is now covered by the replacement's
	// later revocation time (1419985000).
	assert.True(t, rs.IsBlocked(user, app, 1419980000))
	assert.False(t, rs.IsBlocked(user, app, 1419985000))
}

func TestRevocationStore_OnEntryAddedFiresAfterSuccessfulPersist(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	var fired RevocationEntry
	rs.OnEntryAdded(func(e RevocationEntry) { fired = e })

	entry := RevocationEntry{UserID: []byte{9}, AppID: []byte{9}, ExpirationTime: 1419990000, RevocationTime: 1419980000}
	require.NoError(t, rs.Block(context.Background(), entry, nil))
	assert.Equal(t, entry.RevocationTime, fired.RevocationTime)
}

func TestRevocationStore_CapacityOverflowGlobalCutoff(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	for i := int64(0); i < 13; i++ {
		err := rs.Block(context.Background(), RevocationEntry{
			UserID:         []byte{99, byte(i)},
			AppID:          []byte{8, 8, 8},
			RevocationTime: 1419970000 + i,
			ExpirationTime: 1419990000,
		}, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 10, rs.Size())
	assert.True(t, rs.IsBlocked([]byte{1}, []byte{2}, 1419970003))
	assert.False(t, rs.IsBlocked([]byte{1}, []byte{2}, 1419970004))

	// The entry that filled the 10th slot (i=12) survived the eviction
	// round and must still block on its own RevocationTime, independent
	// of the everEvicted floor above.
	assert.True(t, rs.IsBlocked([]byte{99, 12}, []byte{8, 8, 8}, 1419970011))
	assert.False(t, rs.IsBlocked([]byte{99, 12}, []byte{8, 8, 8}, 1419970012))
}

func TestRevocationStore_NoGlobalCutoffBeforeAnyEviction(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	require.NoError(t, rs.Block(context.Background(), RevocationEntry{
		UserID: []byte{1}, AppID: []byte{2}, RevocationTime: 1419980000, ExpirationTime: 1419990000,
	}, nil))

	assert.False(t, rs.IsBlocked([]byte{5}, []byte{6}, 1))
}

func TestRevocationStore_IsBlockedIdsDoNotMatch(t *testing.T) {
	store := newFakeConfigStore()
	clock := newFakeClock(time.Unix(1400000000, 0))
	rs, err := NewRevocationStore(context.Background(), store, clock, 10, nil)
	require.NoError(t, err)

	require.NoError(t, rs.Block(context.Background(), RevocationEntry{
		UserID: []byte{1, 2, 3}, AppID: []byte{3, 4, 5}, RevocationTime: 1419997999, ExpirationTime: 1419999999,
	}, nil))

	assert.False(t, rs.IsBlocked([]byte{7, 7, 7}, []byte{8, 8, 8}, 0))
}
