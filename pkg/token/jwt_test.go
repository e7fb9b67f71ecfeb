package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 1, 7)

	tok, err := manager.GenerateToken(42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := manager.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", 1, 7)
	other := NewJWTManager("other-secret", 1, 7)

	tok, err := manager.GenerateToken(1, "bob")
	require.NoError(t, err)

	_, err = other.VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	manager := NewJWTManager("test-secret", 1, 7)
	_, err := manager.VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestGenerateRandomStringHex(t *testing.T) {
	a := GenerateRandomString(16)
	b := GenerateRandomString(16)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
