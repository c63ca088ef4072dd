package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager("secret", "walletauth", time.Hour)

	signed, exp, err := m.Generate(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "walletauth", claims.Issuer)
}

func TestManager_Expired(t *testing.T) {
	m := NewManager("secret", "walletauth", -time.Minute)

	signed, _, err := m.Generate(1, "bob")
	require.NoError(t, err)

	_, err = m.Parse(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_WrongSecret(t *testing.T) {
	signed, _, err := NewManager("a", "walletauth", time.Hour).Generate(1, "bob")
	require.NoError(t, err)

	_, err = NewManager("b", "walletauth", time.Hour).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Garbage(t *testing.T) {
	m := NewManager("secret", "walletauth", time.Hour)
	for _, s := range []string{"", "abc", "a.b.c"} {
		_, err := m.Parse(s)
		assert.ErrorIs(t, err, ErrInvalidToken, s)
	}
}

func TestManager_RejectsOtherAlgorithms(t *testing.T) {
	m := NewManager("secret", "walletauth", time.Hour)

	claims := Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
