package cache

import (
	"time"
)

// LookupEntry is the cached outcome of one single-record lookup.
type LookupEntry struct {
	// RequestNumber is the looked-up key.
	RequestNumber string `json:"request_number"`

	// Status is the raw status text shown by the registry. Empty when
	// the record was not found.
	Status string `json:"status"`

	// Found is false when the registry had no detail page for the key.
	Found bool `json:"found"`

	// Expires is when the entry stops being trusted.
	Expires time.Time `json:"expires"`

	// CachedAt is when the lookup was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *LookupEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *LookupEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
