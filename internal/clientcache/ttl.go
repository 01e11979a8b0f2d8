package clientcache

import "time"

// TTL constants for the sqlite-backed cache tier.
const (
	TTLAlias        = 30 * 24 * time.Hour // resolved surface-symbol-to-security-id mappings rarely change
	TTLFetchResponse = time.Hour           // recent raw fetch responses, short-lived
)
