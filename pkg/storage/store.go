// Package storage provides the append-only JSON record store backing the
// memory and cache layers.
package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailtag/trailtag/pkg/models"
)

const snapshotFile = "memories.json"

// Store is a record store with an in-memory index and a JSON file snapshot.
// Records are never updated in place; newer entries mask older ones at the
// semantic layer (metadata key plus soft-delete markers). The in-memory state
// is authoritative; snapshot writes are best-effort.
type Store struct {
	dir string

	mu      sync.Mutex
	entries []*models.MemoryEntry
	byID    map[string]*models.MemoryEntry

	queryCount   int64
	queryTotalMS float64
}

// NewStore opens the store rooted at dir, loading an existing snapshot when
// present. A corrupt snapshot is logged and skipped; the store starts empty.
func NewStore(dir string) *Store {
	s := &Store{
		dir:  dir,
		byID: make(map[string]*models.MemoryEntry),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Failed to create storage directory", "dir", dir, "error", err)
	}
	s.load()
	return s
}

// Save appends a new record and rewrites the snapshot. The record type is
// taken from metadata["type"] when it names a known memory type, short_term
// otherwise. Filesystem errors are logged, never returned; the id of the
// in-memory record is always valid.
func (s *Store) Save(value string, metadata map[string]any, agentRole string) string {
	now := time.Now().UTC()
	entry := &models.MemoryEntry{
		ID:        uuid.New().String(),
		Type:      models.MemoryTypeShortTerm,
		Content:   value,
		Metadata:  metadata,
		AgentRole: agentRole,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if metadata != nil {
		if t, ok := metadata["type"].(string); ok && models.MemoryType(t).IsValid() {
			entry.Type = models.MemoryType(t)
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry
	s.writeSnapshotLocked()
	s.mu.Unlock()

	return entry.ID
}

// Search scans undeleted records scoring each by the fraction of query tokens
// found as substrings of the content over the content token count. Results at
// or above threshold are returned best-first, capped at limit. Search never
// fails; internal problems yield an empty slice.
func (s *Store) Search(query string, limit int, scoreThreshold float64) []models.SearchResult {
	start := time.Now()

	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	defer func() {
		s.queryCount++
		s.queryTotalMS += float64(time.Since(start).Microseconds()) / 1000.0
		s.mu.Unlock()
	}()

	var results []models.SearchResult
	for _, entry := range s.entries {
		if IsDeleted(entry) {
			continue
		}
		content := strings.ToLower(entry.Content)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(content, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		contentTokens := len(strings.Fields(content))
		if contentTokens == 0 {
			contentTokens = 1
		}
		score := float64(hits) / float64(contentTokens)
		if score < scoreThreshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:        entry.ID,
			Content:   entry.Content,
			Metadata:  entry.Metadata,
			Score:     score,
			AgentRole: entry.AgentRole,
			CreatedAt: entry.CreatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Get returns the record with the given id, or nil
func (s *Store) Get(id string) *models.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// Entries returns the records in insertion order. The returned slice is a
// copy; the records themselves are shared and must be treated as immutable.
func (s *Store) Entries() []*models.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.MemoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Count returns the number of records, including masked and tombstoned ones
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CountByType returns the number of records of the given type
func (s *Store) CountByType(t models.MemoryType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

// AvgQueryTimeMS returns the mean Search latency since startup
func (s *Store) AvgQueryTimeMS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryCount == 0 {
		return 0
	}
	return s.queryTotalMS / float64(s.queryCount)
}

// Reset clears all records and removes the snapshot file
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byID = make(map[string]*models.MemoryEntry)
	if err := os.Remove(s.snapshotPath()); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove storage snapshot", "path", s.snapshotPath(), "error", err)
	}
}

// Replace swaps the full record set and rewrites the snapshot. Used by the
// retention sweeper; callers own the ordering of the new set.
func (s *Store) Replace(entries []*models.MemoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.byID = make(map[string]*models.MemoryEntry, len(entries))
	for _, e := range entries {
		s.byID[e.ID] = e
	}
	s.writeSnapshotLocked()
}

// SizeBytes returns the current snapshot file size, zero when absent
func (s *Store) SizeBytes() int64 {
	info, err := os.Stat(s.snapshotPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.dir, snapshotFile)
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read storage snapshot", "path", s.snapshotPath(), "error", err)
		}
		return
	}

	var entries []*models.MemoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("Storage snapshot is corrupt, starting empty", "path", s.snapshotPath(), "error", err)
		return
	}

	s.entries = entries
	for _, e := range entries {
		s.byID[e.ID] = e
	}
	slog.Info("Loaded storage snapshot", "path", s.snapshotPath(), "entries", len(entries))
}

// writeSnapshotLocked rewrites the full snapshot atomically via a temp file
// and rename. Callers must hold s.mu.
func (s *Store) writeSnapshotLocked() {
	data := []byte("[]")
	if len(s.entries) > 0 {
		var err error
		data, err = json.MarshalIndent(s.entries, "", "  ")
		if err != nil {
			slog.Error("Failed to encode storage snapshot", "error", err)
			return
		}
	}

	tmp := s.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Error("Failed to write storage snapshot", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.snapshotPath()); err != nil {
		slog.Error("Failed to replace storage snapshot", "path", s.snapshotPath(), "error", err)
	}
}

// IsDeleted reports whether the record carries a soft-delete marker
func IsDeleted(e *models.MemoryEntry) bool {
	if e.Metadata == nil {
		return false
	}
	deleted, ok := e.Metadata["deleted"].(bool)
	return ok && deleted
}
