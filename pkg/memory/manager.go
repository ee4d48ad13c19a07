// Package memory persists job progress, analysis results and agent memories
// as JSON snapshots under a single storage root.
package memory

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/storage"
)

const (
	jobMemoriesFile     = "job_memories.json"
	analysisResultsFile = "analysis_results.json"
	agentMemoriesFile   = "agent_memories.json"
	crewMemoryDir       = "crew_memory"
)

// Reset scopes accepted by ResetMemories. Any other value clears everything.
const (
	ResetJob      = "job"
	ResetAnalysis = "analysis"
	ResetAgent    = "agent"
	ResetCrew     = "crew"
	ResetAll      = "all"
)

// Manager owns the per-job, per-video and per-agent memory families and the
// crew record store. All families are held in memory and rewritten to disk in
// full on every save; disk errors are logged, never returned.
type Manager struct {
	root  string
	store *storage.Store

	mu       sync.Mutex
	jobs     []*models.JobProgressEntry
	analyses []*models.AnalysisResultEntry
	agents   map[string][]*models.AgentMemoryEntry
}

// NewManager opens the memory layer rooted at dir, loading any existing
// snapshots. Unreadable snapshots are logged and skipped per family.
func NewManager(root string) *Manager {
	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Warn("Failed to create memory root", "dir", root, "error", err)
	}
	m := &Manager{
		root:   root,
		store:  storage.NewStore(filepath.Join(root, crewMemoryDir)),
		agents: make(map[string][]*models.AgentMemoryEntry),
	}
	m.loadAll()
	return m
}

// Store exposes the crew record store shared with the cache layer
func (m *Manager) Store() *storage.Store {
	return m.store
}

// SaveJobProgress upserts the progress record for jobID and rewrites the job
// snapshot. Extra fields are merged over any previous extras.
func (m *Manager) SaveJobProgress(jobID, videoID string, status models.ExecutionStatus, phase models.JobPhase, progress int, extra map[string]any) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.jobs {
		if e.JobID == jobID {
			e.Status = status
			e.Phase = phase
			e.Progress = progress
			e.UpdatedAt = now
			if videoID != "" {
				e.VideoID = videoID
			}
			if extra != nil {
				if e.Extra == nil {
					e.Extra = make(map[string]any, len(extra))
				}
				for k, v := range extra {
					e.Extra[k] = v
				}
			}
			m.persistJobsLocked()
			return
		}
	}

	m.jobs = append(m.jobs, &models.JobProgressEntry{
		JobID:     jobID,
		VideoID:   videoID,
		Status:    status,
		Phase:     phase,
		Progress:  progress,
		CreatedAt: now,
		UpdatedAt: now,
		Extra:     extra,
	})
	m.persistJobsLocked()
}

// GetJobProgress returns a copy of the progress record for jobID, or nil
func (m *Manager) GetJobProgress(jobID string) *models.JobProgressEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.jobs {
		if e.JobID == jobID {
			cp := *e
			return &cp
		}
	}
	return nil
}

// SaveAnalysisResult stores the finished analysis for videoID. Saving the
// same video again replaces the previous record.
func (m *Manager) SaveAnalysisResult(videoID string, metadata map[string]any, topicSummary map[string]any, mapViz *models.MapVisualization, processingTime float64, cached bool) {
	entry := &models.AnalysisResultEntry{
		VideoID:          videoID,
		Metadata:         metadata,
		TopicSummary:     topicSummary,
		MapVisualization: mapViz,
		ProcessingTime:   processingTime,
		CreatedAt:        time.Now().UTC(),
		Cached:           cached,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.analyses {
		if e.VideoID == videoID {
			m.analyses[i] = entry
			m.persistAnalysesLocked()
			return
		}
	}
	m.analyses = append(m.analyses, entry)
	m.persistAnalysesLocked()
}

// GetAnalysisResult returns the stored analysis for videoID, or nil
func (m *Manager) GetAnalysisResult(videoID string) *models.AnalysisResultEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.analyses {
		if e.VideoID == videoID {
			cp := *e
			return &cp
		}
	}
	return nil
}

// SaveAgentMemory appends a memory for entry.AgentRole and returns its id,
// formed from the role and the new length of that role's list. A zero
// confidence is treated as full confidence; an empty memory type defaults to
// long_term.
func (m *Manager) SaveAgentMemory(entry models.AgentMemoryEntry) string {
	if entry.MemoryType == "" {
		entry.MemoryType = models.MemoryTypeLongTerm
	}
	if entry.Confidence == 0 {
		entry.Confidence = 1.0
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.agents[entry.AgentRole] = append(m.agents[entry.AgentRole], &entry)
	m.persistAgentsLocked()
	return entry.AgentRole + "_" + strconv.Itoa(len(m.agents[entry.AgentRole]))
}

// QueryAgentMemories returns the newest memories for agentRole whose context
// contains the query, case-insensitively. An empty query matches everything.
func (m *Manager) QueryAgentMemories(agentRole, contextQuery string, limit int) []models.AgentMemoryEntry {
	needle := strings.ToLower(contextQuery)

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.AgentMemoryEntry
	for _, e := range m.agents[agentRole] {
		if needle == "" || strings.Contains(strings.ToLower(e.Context), needle) {
			matched = append(matched, *e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Save writes a record to the crew store
func (m *Manager) Save(value string, metadata map[string]any, agentRole string) string {
	return m.store.Save(value, metadata, agentRole)
}

// Search queries the crew store. When filterMetadata is non-nil only results
// whose metadata contains every given key with an equal value are returned.
func (m *Manager) Search(query string, limit int, scoreThreshold float64, filterMetadata map[string]any) []models.SearchResult {
	results := m.store.Search(query, limit, scoreThreshold)
	if filterMetadata == nil {
		return results
	}
	filtered := results[:0]
	for _, r := range results {
		if metadataMatches(r.Metadata, filterMetadata) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// ResetMemories clears the named memory scope. Job, analysis and agent scopes
// drop their family and snapshot file; crew resets the record store; any
// other value clears everything under the storage root.
func (m *Manager) ResetMemories(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch scope {
	case ResetJob:
		m.jobs = nil
		m.removeSnapshot(jobMemoriesFile)
	case ResetAnalysis:
		m.analyses = nil
		m.removeSnapshot(analysisResultsFile)
	case ResetAgent:
		m.agents = make(map[string][]*models.AgentMemoryEntry)
		m.removeSnapshot(agentMemoriesFile)
	case ResetCrew:
		m.store.Reset()
	default:
		m.jobs = nil
		m.analyses = nil
		m.agents = make(map[string][]*models.AgentMemoryEntry)
		m.store.Reset()
		if err := os.RemoveAll(m.root); err != nil {
			slog.Warn("Failed to clear storage root", "dir", m.root, "error", err)
		}
		if err := os.MkdirAll(filepath.Join(m.root, crewMemoryDir), 0o755); err != nil {
			slog.Warn("Failed to recreate storage root", "dir", m.root, "error", err)
		}
	}
	slog.Info("Memory reset", "scope", scope)
}

// GetMemoryStats summarizes the memory layer. Total entries cover the crew
// store plus the job and analysis families; agent memories are reported
// through the storage size only.
func (m *Manager) GetMemoryStats() models.MemoryStats {
	m.mu.Lock()
	jobCount := len(m.jobs)
	analysisCount := len(m.analyses)
	m.mu.Unlock()

	return models.MemoryStats{
		TotalEntries:   m.store.Count() + jobCount + analysisCount,
		ShortTermCount: m.store.CountByType(models.MemoryTypeShortTerm),
		LongTermCount:  m.store.CountByType(models.MemoryTypeLongTerm),
		EntityCount:    m.store.CountByType(models.MemoryTypeEntity),
		KnowledgeCount: m.store.CountByType(models.MemoryTypeKnowledge),
		StorageSizeMB:  m.storageSizeMB(),
		AvgQueryTimeMS: m.store.AvgQueryTimeMS(),
	}
}

func (m *Manager) storageSizeMB() float64 {
	var total int64
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, statErr := d.Info(); statErr == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		slog.Warn("Failed to measure storage size", "dir", m.root, "error", err)
	}
	return float64(total) / (1024 * 1024)
}

func (m *Manager) loadAll() {
	loadSnapshot(filepath.Join(m.root, jobMemoriesFile), &m.jobs)
	loadSnapshot(filepath.Join(m.root, analysisResultsFile), &m.analyses)
	loadSnapshot(filepath.Join(m.root, agentMemoriesFile), &m.agents)
	if m.agents == nil {
		m.agents = make(map[string][]*models.AgentMemoryEntry)
	}
}

func loadSnapshot(path string, target any) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read memory snapshot", "path", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(raw, target); err != nil {
		slog.Warn("Memory snapshot is corrupt, skipping", "path", path, "error", err)
	}
}

func (m *Manager) persistJobsLocked() {
	m.writeSnapshot(jobMemoriesFile, m.jobs)
}

func (m *Manager) persistAnalysesLocked() {
	m.writeSnapshot(analysisResultsFile, m.analyses)
}

func (m *Manager) persistAgentsLocked() {
	m.writeSnapshot(agentMemoriesFile, m.agents)
}

// writeSnapshot rewrites one family file atomically via temp file and rename
func (m *Manager) writeSnapshot(name string, value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		slog.Error("Failed to encode memory snapshot", "file", name, "error", err)
		return
	}

	path := filepath.Join(m.root, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Error("Failed to write memory snapshot", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Error("Failed to replace memory snapshot", "path", path, "error", err)
	}
}

func (m *Manager) removeSnapshot(name string) {
	path := filepath.Join(m.root, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove memory snapshot", "path", path, "error", err)
	}
}

func metadataMatches(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
