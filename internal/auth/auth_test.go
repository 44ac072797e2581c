package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fundwatch/internal/errors"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Issue("u1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret")

	expired, err := v.Issue("u1", -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewVerifier("other").Issue("u1", time.Hour)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"expired":   expired,
		"wrong key": otherKey,
		"no user":   noUser,
		"no expiry": noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	token, err := NewVerifier("s3cret").Issue("u1", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("").Verify(token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestAdminKeyMatches(t *testing.T) {
	assert.True(t, AdminKeyMatches("k", "k"))
	assert.False(t, AdminKeyMatches("k", "x"))
	assert.False(t, AdminKeyMatches("", ""))
}
