package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	hash, err := Hash("client-secret-1")
	require.NoError(t, err)
	assert.NotEqual(t, "client-secret-1", hash)
	assert.Equal(t, "$2a$", hash[:4])

	other, err := Hash("client-secret-1")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "each hash carries its own salt")
}

func TestHashRejectsEmptyAndLong(t *testing.T) {
	_, err := Hash("")
	assert.Error(t, err)

	_, err = Hash(strings.Repeat("x", MaxSecretLength+1))
	assert.ErrorIs(t, err, ErrSecretTooLong)
}

func TestMatches(t *testing.T) {
	hash, err := Hash("correct-secret")
	require.NoError(t, err)

	assert.True(t, Matches("correct-secret", hash))
	assert.False(t, Matches("wrong-secret", hash))
	assert.False(t, Matches("", hash))
	assert.False(t, Matches("correct-secret", ""))
}

func TestMatchesMalformedHash(t *testing.T) {
	assert.False(t, Matches("secret", "not-a-bcrypt-hash"))
	assert.False(t, Matches("secret", "$2a$10$short"))
	assert.False(t, Matches(strings.Repeat("y", 200), "$2a$10$uejoNCSLZ9YkKOZriLlSGeg0pm/nuGVS3nRuSPyYuk/Z7HJHKBhGO"))
}

func TestGenerate(t *testing.T) {
	s1, err := Generate()
	require.NoError(t, err)
	s2, err := Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s1, "cs_"))
	assert.Len(t, s1, 3+43)
	assert.NotEqual(t, s1, s2)
	assert.LessOrEqual(t, len(s1), MaxSecretLength)
}
