// Package cache provides Redis-based caching for the realtime collaboration server.
//
// This file defines standardized cache key naming conventions and patterns.
//
// Purpose:
// - Provide consistent cache key naming across all cache operations
// - Enable efficient cache invalidation via pattern matching
// - Organize cache keys by resource type
//
// Key Naming Convention:
//   - Format: {prefix}:{resource}:{identifier}
//   - Example: cospace:status:0b7e6c2a94cf4f0b8f0a2f4f6f6d5e4c
//   - Example: cospace:node:0b7e6c2a94cf4f0b8f0a2f4f6f6d5e4c
//
// Key Patterns for Invalidation:
//   - cospace:* - Everything mirrored for all cospaces
//   - cospace:status:* - Every status mirror entry
//
// Implementation Details:
// - Keys use colon (:) as separator for Redis best practices
// - Prefixes prevent key collisions across resource types
// - Cospace identifiers use the hyphenless UUID form, matching the
//   form the HTTP boundary hands to clients
package cache

import "fmt"

// Key prefixes for different resource types
const (
	PrefixCospace = "cospace"
	PrefixStats   = "stats"
)

// CospaceStatusKey names the mirrored lifecycle status of one cospace
// (HOSTED, SCHEDULED, FAILED), keyed by hyphenless uuid.
func CospaceStatusKey(cospaceID string) string {
	return fmt.Sprintf("%s:status:%s", PrefixCospace, cospaceID)
}

// CospaceNodeKey names the node id currently hosting one cospace.
func CospaceNodeKey(cospaceID string) string {
	return fmt.Sprintf("%s:node:%s", PrefixCospace, cospaceID)
}

// CospaceModelRootKey names the model-root a cospace is bound to.
func CospaceModelRootKey(cospaceID string) string {
	return fmt.Sprintf("%s:root:%s", PrefixCospace, cospaceID)
}

// HostedCountKey names the instance-wide hosted-cospace gauge.
func HostedCountKey() string {
	return fmt.Sprintf("%s:hosted:count", PrefixStats)
}

// Cache invalidation patterns

// CospacePattern matches everything mirrored for every cospace.
func CospacePattern() string {
	return fmt.Sprintf("%s:*", PrefixCospace)
}

// CospaceEntryPattern matches everything mirrored for one cospace.
func CospaceEntryPattern(cospaceID string) string {
	return fmt.Sprintf("%s:*:%s", PrefixCospace, cospaceID)
}
