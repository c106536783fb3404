package secrets

import (
	"crypto/sha256"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultVerifiedCacheSize = 10000
	DefaultVerifiedCacheTTL  = 5 * time.Minute
)

// VerifiedCache remembers secrets that recently matched a stored hash, so a
// client heartbeating every few seconds pays for one bcrypt comparison per
// TTL instead of one per request. Entries are keyed by a digest of the stored
// hash and the presented secret: rotating a secret changes the stored hash and
// misses every old entry. Mismatches are never cached.
//
// A nil *VerifiedCache verifies every call with Matches.
type VerifiedCache struct {
	entries *expirable.LRU[[sha256.Size]byte, struct{}]
}

func NewVerifiedCache(size int, ttl time.Duration) *VerifiedCache {
	if size <= 0 {
		size = DefaultVerifiedCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultVerifiedCacheTTL
	}
	return &VerifiedCache{entries: expirable.NewLRU[[sha256.Size]byte, struct{}](size, nil, ttl)}
}

func verifiedKey(presented, storedHash string) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(storedHash))
	h.Write([]byte{0})
	h.Write([]byte(presented))
	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Matches behaves like the package-level Matches.
func (c *VerifiedCache) Matches(presented, storedHash string) bool {
	if c == nil {
		return Matches(presented, storedHash)
	}
	if presented == "" || storedHash == "" {
		return false
	}
	key := verifiedKey(presented, storedHash)
	if _, ok := c.entries.Get(key); ok {
		return true
	}
	if !Matches(presented, storedHash) {
		return false
	}
	c.entries.Add(key, struct{}{})
	return true
}

func (c *VerifiedCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
