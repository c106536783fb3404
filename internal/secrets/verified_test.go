package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifiedCacheRemembersOnlyMatches(t *testing.T) {
	hash, err := Hash("correct-secret")
	require.NoError(t, err)
	cache := NewVerifiedCache(16, time.Minute)

	assert.False(t, cache.Matches("wrong-secret", hash))
	assert.Zero(t, cache.Len())

	assert.True(t, cache.Matches("correct-secret", hash))
	assert.True(t, cache.Matches("correct-secret", hash))
	assert.Equal(t, 1, cache.Len())

	assert.False(t, cache.Matches("", hash))
	assert.False(t, cache.Matches("correct-secret", ""))
}

func TestVerifiedCacheMissesAfterRehash(t *testing.T) {
	cache := NewVerifiedCache(16, time.Minute)
	oldHash, err := Hash("s1")
	require.NoError(t, err)
	require.True(t, cache.Matches("s1", oldHash))

	newHash, err := Hash("s2")
	require.NoError(t, err)
	assert.False(t, cache.Matches("s1", newHash))
	assert.True(t, cache.Matches("s2", newHash))
}

func TestVerifiedCacheExpires(t *testing.T) {
	hash, err := Hash("correct-secret")
	require.NoError(t, err)
	cache := NewVerifiedCache(16, 20*time.Millisecond)

	require.True(t, cache.Matches("correct-secret", hash))
	assert.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNilVerifiedCacheFallsBackToMatches(t *testing.T) {
	hash, err := Hash("correct-secret")
	require.NoError(t, err)

	var cache *VerifiedCache
	assert.True(t, cache.Matches("correct-secret", hash))
	assert.False(t, cache.Matches("wrong-secret", hash))
	assert.Zero(t, cache.Len())
}
