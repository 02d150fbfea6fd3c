// Package cache deduplicates generation work behind a parameter-aware
// fingerprint. Supports an in-memory backend for single-instance deployments
// and Redis for multi-instance deployments.
package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"pocketllm/internal/core"
)

// Fingerprint derives the deterministic cache key for a set of inputs. The
// prompt is normalized (surrounding whitespace stripped) so that two
// requests differing only in padding collide; any difference in generation
// parameters yields a different key.
func Fingerprint(key core.CacheKey) string {
	var b strings.Builder
	b.WriteString(key.UserID)
	b.WriteByte('\x00')
	b.WriteString(key.SessionID)
	b.WriteByte('\x00')
	b.WriteString(strings.TrimSpace(key.Prompt))
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "%d\x00%g", key.MaxTokens, key.Temperature)
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}
