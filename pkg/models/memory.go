package models

import "time"

// MemoryType classifies entries in the shared record store
type MemoryType string

const (
	MemoryTypeShortTerm MemoryType = "short_term"
	MemoryTypeLongTerm  MemoryType = "long_term"
	MemoryTypeEntity    MemoryType = "entity"
	MemoryTypeKnowledge MemoryType = "knowledge"
	MemoryTypeCache     MemoryType = "cache"
)

// IsValid checks if the memory type is valid
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryTypeShortTerm, MemoryTypeLongTerm, MemoryTypeEntity, MemoryTypeKnowledge, MemoryTypeCache:
		return true
	default:
		return false
	}
}

// MemoryEntry is one record in the append-only store. Cache entries carry
// their fingerprint key, original query, TTL and soft-delete marker in
// Metadata; the store itself never interprets them.
type MemoryEntry struct {
	ID        string         `json:"id"`
	Type      MemoryType     `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	AgentRole string         `json:"agent_role,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// SearchResult is a scored hit returned by the record store
type SearchResult struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score"`
	AgentRole string         `json:"agent_role,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobProgressEntry is the memory-layer projection of a job, persisted
// separately from the cache record so progress survives restarts.
type JobProgressEntry struct {
	JobID     string          `json:"job_id"`
	VideoID   string          `json:"video_id"`
	Status    ExecutionStatus `json:"status"`
	Phase     JobPhase        `json:"phase"`
	Progress  int             `json:"progress"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

// AnalysisResultEntry is the persisted terminal artifact plus provenance
type AnalysisResultEntry struct {
	VideoID          string            `json:"video_id"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	TopicSummary     map[string]any    `json:"topic_summary,omitempty"`
	MapVisualization *MapVisualization `json:"map_visualization"`
	ProcessingTime   float64           `json:"processing_time"`
	CreatedAt        time.Time         `json:"created_at"`
	Cached           bool              `json:"cached"`
}

// AgentMemoryEntry captures what an agent learned while working a task
type AgentMemoryEntry struct {
	AgentRole     string           `json:"agent_role"`
	MemoryType    MemoryType       `json:"memory_type"`
	Context       string           `json:"context"`
	Entities      []map[string]any `json:"entities,omitempty"`
	Relationships []map[string]any `json:"relationships,omitempty"`
	Insights      []string         `json:"insights,omitempty"`
	Confidence    float64          `json:"confidence"`
	SourceTaskID  string           `json:"source_task_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// MemoryStats summarizes the record store for diagnostics
type MemoryStats struct {
	TotalEntries   int     `json:"total_entries"`
	ShortTermCount int     `json:"short_term_count"`
	LongTermCount  int     `json:"long_term_count"`
	EntityCount    int     `json:"entity_count"`
	KnowledgeCount int     `json:"knowledge_count"`
	StorageSizeMB  float64 `json:"storage_size_mb"`
	AvgQueryTimeMS float64 `json:"avg_query_time_ms"`
}
