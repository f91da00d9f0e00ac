package cache

import (
	"strings"
)

// LookupKey identifies a cached lookup.
type LookupKey struct {
	Country       string
	// Run scopes the entry to one sync run, so a later run never reuses
	// a status observed by an earlier one.
	Run           string
	RequestNumber string
}

// String generates a deterministic Redis key. Slashes in request numbers
// are replaced so keys stay readable in redis-cli.
func (k LookupKey) String() string {
	parts := []string{"trademark", "lookup"}
	if country := strings.ToUpper(strings.TrimSpace(k.Country)); country != "" {
		parts = append(parts, country)
	}
	if run := strings.TrimSpace(k.Run); run != "" {
		parts = append(parts, run)
	}
	parts = append(parts, strings.ReplaceAll(strings.TrimSpace(k.RequestNumber), "/", "_"))
	return strings.Join(parts, ":")
}
