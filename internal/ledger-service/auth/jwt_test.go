package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	tk := NewTokens("secret")
	s, err := tk.Sign("user-1", "alice", time.Hour)
	require.NoError(t, err)

	claims, err := tk.Verify(s)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerify_Rejects(t *testing.T) {
	tk := NewTokens("secret")

	other, err := NewTokens("other").Sign("user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = tk.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := tk.Sign("user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = tk.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tk.Verify(noSub)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tk.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens("").Sign("u", "", time.Hour)
	assert.Error(t, err)
}
