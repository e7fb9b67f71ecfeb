package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hashed, err := HashPassword("secret-password")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-password", hashed)

	assert.True(t, CheckPassword("secret-password", hashed))
	assert.False(t, CheckPassword("wrong-password", hashed))
	assert.False(t, CheckPassword("secret-password", "not-a-hash"))
}
