package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthManager(t *testing.T) *AuthManager {
	t.Helper()
	authKey := bytes.Repeat([]byte{0x42}, macSize)
	certKey := bytes.Repeat([]byte{0x24}, macSize)
	certs := &fakeCertificateProvider{fingerprint: bytes.Repeat([]byte{0xAB}, macSize)}
	am, err := NewAuthManager(authKey, certKey, certs, newFakeClock(fixedTestTime), nil)
	require.NoError(t, err)
	return am
}

func TestAuthManager_TokenRoundTrip(t *testing.T) {
	am := testAuthManager(t)
	user := UserInfo{Scope: ScopeManager, UserID: 7}
	issuedAt := int64(1450000000)

	raw := am.CreateAccessToken(user, issuedAt)
	assert.Len(t, raw, macSize+len("3:7:1450000000"))

	gotUser, gotIssuedAt, ok := am.ParseAccessToken(raw)
	require.True(t, ok)
	assert.Equal(t, user, gotUser)
	assert.Equal(t, issuedAt, gotIssuedAt)
}

func TestAuthManager_ParseAccessToken_FlippedMACByteFails(t *testing.T) {
	am := testAuthManager(t)
	raw := am.CreateAccessToken(UserInfo{Scope: ScopeUser, UserID: 1}, 100)
	raw[0] ^= 0xFF

	user, issuedAt, ok := am.ParseAccessToken(raw)
	assert.False(t, ok)
	assert.Equal(t, NoIdentity, user)
	assert.Equal(t, int64(0), issuedAt)
}

func TestAuthManager_ParseAccessToken_TooShortFails(t *testing.T) {
	am := testAuthManager(t)
	user, _, ok := am.ParseAccessToken([]byte("short"))
	assert.False(t, ok)
	assert.Equal(t, NoIdentity, user)
}

func TestAuthManager_ParseAccessToken_GarbagePayloadFails(t *testing.T) {
	am := testAuthManager(t)
	// a buffer of the right total length but with a MAC that doesn't match
	// whatever garbage follows it.
	garbage := bytes.Repeat([]byte{0x00}, macSize+10)
	user, _, ok := am.ParseAccessToken(garbage)
	assert.False(t, ok)
	assert.Equal(t, NoIdentity, user)
}

func TestAuthManager_ParseAccessToken_RejectsForeignKey(t *testing.T) {
	am := testAuthManager(t)
	other := testAuthManager(t)
	other.authKey = bytes.Repeat([]byte{0x99}, macSize)

	raw := other.CreateAccessToken(UserInfo{Scope: ScopeOwner, UserID: 42}, 200)
	user, _, ok := am.ParseAccessToken(raw)
	assert.False(t, ok)
	assert.Equal(t, NoIdentity, user)
}

func TestAuthManager_EncodeDecodeToken(t *testing.T) {
	am := testAuthManager(t)
	raw := am.CreateAccessToken(UserInfo{Scope: ScopeViewer, UserID: 1}, 1450000000)

	encoded := EncodeToken(raw)
	decoded, err := DecodeToken(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestAuthManager_DecodeToken_InvalidBase64(t *testing.T) {
	_, err := DecodeToken("not base64!!!")
	require.Error(t, err)
	code, ok := Code(err)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidFormat, code)
}

func TestAuthManager_GetCertificateFingerprint(t *testing.T) {
	am := testAuthManager(t)
	fp := am.GetCertificateFingerprint()
	assert.Len(t, fp, macSize)
}

func TestAuthManager_SignWithDerivedKey(t *testing.T) {
	key := []byte("a shared key")
	fingerprint := []byte("device certificate fingerprint")
	sig1 := SignWithDerivedKey(key, fingerprint)
	sig2 := SignWithDerivedKey(key, fingerprint)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, macSize)
}

func TestAuthManager_SetDelegationCertificate_StoresOpaqueValue(t *testing.T) {
	am := testAuthManager(t)
	am.SetDelegationCertificate("opaque-token-value")
	assert.Equal(t, "opaque-token-value", am.DelegationCertificate())
}
