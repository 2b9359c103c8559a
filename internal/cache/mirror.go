package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/registry"
)

// mirrorTTL bounds how stale a mirrored status may get if the owning
// instance dies without cleaning up: entries self-expire and the next
// lookup falls through to NOT_FOUND.
const mirrorTTL = 24 * time.Hour

// RegistryMirror reflects hosted-cospace lifecycle transitions into
// Redis so a status lookup landing on a replica that doesn't own the
// cospace can still answer. With caching disabled every operation is a
// no-op and lookups report a miss, which callers treat as "consult the
// local registry only".
type RegistryMirror struct {
	cache *Cache
	log   zerolog.Logger
}

// NewRegistryMirror wraps an already-initialized Cache.
func NewRegistryMirror(c *Cache, log zerolog.Logger) *RegistryMirror {
	return &RegistryMirror{cache: c, log: log}
}

// Enabled reports whether the mirror has a live Redis behind it.
func (m *RegistryMirror) Enabled() bool {
	return m != nil && m.cache != nil && m.cache.IsEnabled()
}

// Update writes the cospace's current status. Failures are logged and
// dropped; the local registry remains the source of truth.
func (m *RegistryMirror) Update(ctx context.Context, id ids.CospaceID, status registry.Status) {
	if !m.Enabled() {
		return
	}
	key := CospaceStatusKey(id.Hyphenless())
	if err := m.cache.Set(ctx, key, status.String(), mirrorTTL); err != nil {
		m.log.Warn().Err(err).Str("cospace", id.String()).Msg("status_mirror_write_failed")
	}
}

// Remove drops every mirrored key for a terminated cospace.
func (m *RegistryMirror) Remove(ctx context.Context, id ids.CospaceID) {
	if !m.Enabled() {
		return
	}
	if err := m.cache.DeletePattern(ctx, CospaceEntryPattern(id.Hyphenless())); err != nil {
		m.log.Warn().Err(err).Str("cospace", id.String()).Msg("status_mirror_remove_failed")
	}
}

// Lookup fetches the mirrored status. found is false on a miss, a
// disabled mirror, or any Redis error; the caller then answers from its
// local registry alone.
func (m *RegistryMirror) Lookup(ctx context.Context, id ids.CospaceID) (registry.Status, bool) {
	if !m.Enabled() {
		return registry.NotFound, false
	}
	var s string
	if err := m.cache.Get(ctx, CospaceStatusKey(id.Hyphenless()), &s); err != nil {
		return registry.NotFound, false
	}
	switch s {
	case "SCHEDULED":
		return registry.Scheduled, true
	case "HOSTED":
		return registry.Hosted, true
	case "FAILED":
		return registry.Failed, true
	default:
		return registry.NotFound, false
	}
}
