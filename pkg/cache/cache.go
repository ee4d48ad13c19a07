// Package cache provides the key-value facade used by the job registry and
// the analysis pipeline. Values are serialized once at the facade; backends
// only move opaque strings keyed by a prefixed md5 fingerprint.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/trailtag/trailtag/pkg/metrics"
)

// DefaultPrefix namespaces fingerprints so several deployments can share one
// Redis instance.
const DefaultPrefix = "trailtag:"

// Store is the persistence contract behind the facade. Get receives both the
// caller's key and its fingerprint: the record store matches either, Redis
// only the fingerprint. A zero ttl means the backend's default retention.
type Store interface {
	Get(ctx context.Context, key, fingerprint string) (content string, ok bool)
	Set(ctx context.Context, key, fingerprint, content string, ttl time.Duration) bool
	Delete(ctx context.Context, fingerprint string) bool
}

// Cache wraps a Store with fingerprinting and value (de)serialization.
type Cache struct {
	prefix string
	store  Store
}

// New creates a cache facade over the given backend. An empty prefix falls
// back to DefaultPrefix.
func New(store Store, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{prefix: prefix, store: store}
}

// Fingerprint derives the backend key for a lookup: the configured prefix
// plus the md5 of the key concatenated with the JSON form of params. Map keys
// marshal sorted, so equivalent param sets fingerprint identically.
func (c *Cache) Fingerprint(key string, params map[string]any) string {
	raw := key
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			raw += string(b)
		}
	}
	sum := md5.Sum([]byte(raw))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the decoded value for key, or ok=false when the key is absent,
// tombstoned or expired. JSON content decodes to maps/slices/primitives;
// anything else comes back as the raw string.
func (c *Cache) Get(ctx context.Context, key string, params map[string]any) (any, bool) {
	content, ok := c.store.Get(ctx, key, c.Fingerprint(key, params))
	metrics.RecordCacheOperation("get", ok)
	if !ok {
		return nil, false
	}
	return decodeContent(content), true
}

// Set stores value under key. Strings are stored verbatim, everything else is
// JSON-encoded. A ttl of zero leaves expiry to the backend default.
func (c *Cache) Set(ctx context.Context, key string, value any, params map[string]any, ttl time.Duration) bool {
	content, err := encodeValue(value)
	if err != nil {
		slog.Error("Cache value not serializable", "key", key, "error", err)
		return false
	}
	ok := c.store.Set(ctx, key, c.Fingerprint(key, params), content, ttl)
	metrics.RecordCacheOperation("set", ok)
	return ok
}

// Exists reports whether Get would return a value for key.
func (c *Cache) Exists(ctx context.Context, key string, params map[string]any) bool {
	_, ok := c.Get(ctx, key, params)
	return ok
}

// Delete hides key from future Gets. Backends decide between a tombstone
// record and a hard delete; either way prior values stop resolving.
func (c *Cache) Delete(ctx context.Context, key string, params map[string]any) bool {
	ok := c.store.Delete(ctx, c.Fingerprint(key, params))
	metrics.RecordCacheOperation("delete", ok)
	return ok
}

// Clear is a no-op kept for contract compatibility. Bulk removal goes through
// the retention sweeper, never through the request path.
func (c *Cache) Clear(context.Context) {
	slog.Warn("Cache clear requested but not supported, use the retention sweeper instead")
}

// IsDegraded always reports false; the field survives in responses for
// clients that still check it.
func (c *Cache) IsDegraded() bool {
	return false
}

func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeContent(content string) any {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return content
	}
	return v
}

// Expired reports whether a cache record's TTL elapsed more than grace ago.
// Records without a positive ttl never expire. The retention sweeper passes a
// non-zero grace so entries stay readable briefly past their deadline.
func Expired(metadata map[string]any, now time.Time, grace time.Duration) bool {
	ttl, ok := metadataSeconds(metadata, "ttl")
	if !ok || ttl <= 0 {
		return false
	}
	stored, ok := metadataSeconds(metadata, "stored_at")
	if !ok {
		return false
	}
	deadline := epochToTime(stored).Add(secondsToDuration(ttl) + grace)
	return now.After(deadline)
}

func metadataSeconds(metadata map[string]any, field string) (float64, bool) {
	if metadata == nil {
		return 0, false
	}
	switch v := metadata[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func epochToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
