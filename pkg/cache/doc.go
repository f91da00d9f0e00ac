// Package cache keeps single-record lookup results in Redis so that an
// interrupted drift correction run can resume without asking the registry
// again for keys it already resolved.
//
// Entries are keyed per country and request number:
//
//	trademark:lookup:COLOMBIA:SD2020_0001
//
// Each entry expires after its TTL; expired entries read as misses.
package cache
