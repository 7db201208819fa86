// Package cache is a content-addressed, TTL-bound store for structured
// analysis results. It is strictly best-effort: no lookup or store
// failure may ever fail the surrounding request, so the interface has
// no error returns and implementations degrade to a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/serenomind/sereno/internal/extract"
)

const keySeparator = "\x00"

// Store is the result cache. scopeID (e.g. a patient id) partitions
// entries so Invalidate can drop everything for one subject.
type Store interface {
	Get(ctx context.Context, key string) (*extract.Result, bool)
	Put(ctx context.Context, key, scopeID string, value *extract.Result)
	Invalidate(ctx context.Context, scopeID string)
}

// Key derives the deterministic cache key from the request's defining
// bytes plus an optional scope identifier. Identical (bytes, scope)
// inputs always produce the same key.
func Key(defining []byte, scopeID string) string {
	h := sha256.New()
	h.Write(defining)
	if scopeID != "" {
		h.Write([]byte(keySeparator))
		h.Write([]byte(scopeID))
	}
	return hex.EncodeToString(h.Sum(nil))
}
