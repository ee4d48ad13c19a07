package cache

import (
	"context"
	"time"

	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/storage"
)

// tombstoneContent marks soft-deleted records in the store; the metadata
// deleted flag is what the read path actually checks.
const tombstoneContent = "DELETED"

// MemoryStore persists cache entries as records in the shared storage layer.
// Every write appends; the newest record matching a key decides the outcome
// of a read, so tombstones and rewrites mask older records without touching
// them. Compaction of the masked history is the retention sweeper's job.
type MemoryStore struct {
	store *storage.Store
}

// NewMemoryStore creates a cache backend over the given record store.
func NewMemoryStore(store *storage.Store) *MemoryStore {
	return &MemoryStore{store: store}
}

// Get scans records newest-first for one matching the caller's key (via
// original_query) or its fingerprint. The newest match decides: a tombstone
// or an expired record means the key is gone, not that an older value is
// live again.
func (m *MemoryStore) Get(_ context.Context, key, fingerprint string) (string, bool) {
	entries := m.store.Entries()
	now := time.Now()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != models.MemoryTypeCache || e.Metadata == nil {
			continue
		}
		original, _ := e.Metadata["original_query"].(string)
		recordKey, _ := e.Metadata["key"].(string)
		if original != key && recordKey != fingerprint {
			continue
		}
		if storage.IsDeleted(e) || Expired(e.Metadata, now, 0) {
			return "", false
		}
		return e.Content, true
	}
	return "", false
}

// Set appends a live cache record. The ttl is recorded in seconds and
// enforced on Get; zero means the record never expires on its own.
func (m *MemoryStore) Set(_ context.Context, key, fingerprint, content string, ttl time.Duration) bool {
	var ttlSeconds any
	if ttl > 0 {
		ttlSeconds = ttl.Seconds()
	}
	metadata := map[string]any{
		"type":           string(models.MemoryTypeCache),
		"key":            fingerprint,
		"original_query": key,
		"ttl":            ttlSeconds,
		"stored_at":      epochSeconds(time.Now()),
	}
	return m.store.Save(content, metadata, "") != ""
}

// Delete appends a tombstone record for the fingerprint. Prior records stay
// in the store but stop resolving.
func (m *MemoryStore) Delete(_ context.Context, fingerprint string) bool {
	metadata := map[string]any{
		"type":       string(models.MemoryTypeCache),
		"key":        fingerprint,
		"deleted":    true,
		"deleted_at": epochSeconds(time.Now()),
	}
	return m.store.Save(tombstoneContent, metadata, "") != ""
}
