// ABOUTME: Tests for session token decoding
// ABOUTME: Covers verified and unverified parsing, expiry, missing claims and derived values

package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-that-is-long-enough")

func testClaims() Claims {
	return Claims{
		UserID:           1234,
		ClientID:         "CLI-0042",
		LastName:         "Kone",
		FirstName:        "Awa",
		CertifiedAccount: true,
		LLMUUID:          "c3a1f7a2-llm",
		Subscriptions: []Subscription{
			{Reference: "ABN-1", Label: "Compteur principal"},
		},
	}
}

func TestDecoder_Verified(t *testing.T) {
	raw, err := Sign(testSecret, testClaims(), time.Hour)
	require.NoError(t, err)

	sess, err := NewDecoder(testSecret).Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(1234), sess.UserID)
	assert.Equal(t, "CLI-0042", sess.ClientID)
	assert.True(t, sess.CertifiedAccount)
	require.Len(t, sess.Subscriptions, 1)
	assert.Equal(t, "ABN-1", sess.Subscriptions[0].Reference)
	assert.Equal(t, raw, sess.Raw)
}

func TestDecoder_DerivedValues(t *testing.T) {
	raw, err := Sign(testSecret, testClaims(), time.Hour)
	require.NoError(t, err)

	sess, err := NewDecoder(nil).Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "user-1234-messages", sess.Topic())
	assert.Equal(t, "Bearer "+raw, sess.BearerHeader())
	assert.Equal(t, "1234", sess.From())
	assert.Equal(t, "Awa Kone", sess.DisplayName())
}

func TestDecoder_UnverifiedAcceptsForeignSignature(t *testing.T) {
	raw, err := Sign([]byte("issuer-secret-we-do-not-know"), testClaims(), time.Hour)
	require.NoError(t, err)

	sess, err := NewDecoder(nil).Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), sess.UserID)
}

func TestDecoder_WrongSecret(t *testing.T) {
	raw, err := Sign([]byte("another-secret-entirely-here"), testClaims(), time.Hour)
	require.NoError(t, err)

	_, err = NewDecoder(testSecret).Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecoder_Expired(t *testing.T) {
	claims := testClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = NewDecoder(testSecret).Decode(raw)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = NewDecoder(nil).Decode(raw)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestDecoder_MissingUserID(t *testing.T) {
	claims := testClaims()
	claims.UserID = 0
	raw, err := Sign(testSecret, claims, time.Hour)
	require.NoError(t, err)

	_, err = NewDecoder(testSecret).Decode(raw)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestDecoder_Garbage(t *testing.T) {
	_, err := NewDecoder(nil).Decode("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_DisplayNameFallbacks(t *testing.T) {
	s := &Session{Claims: Claims{ClientID: "CLI-1"}}
	assert.Equal(t, "CLI-1", s.DisplayName())

	s.LastName = "Diallo"
	assert.Equal(t, "Diallo", s.DisplayName())
}
