package models

import (
	"encoding/json"
	"time"
)

// JobStatus defines the externally visible lifecycle states of an analysis job
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCanceled
}

// ExecutionStatus defines the executor-level vocabulary persisted by the runner
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution status admits no further transitions
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// JobStatus maps the executor vocabulary onto the externally visible one
func (s ExecutionStatus) JobStatus() JobStatus {
	switch s {
	case ExecutionStatusPending:
		return JobStatusQueued
	case ExecutionStatusCompleted:
		return JobStatusDone
	case ExecutionStatusCancelled:
		return JobStatusCanceled
	case ExecutionStatusFailed:
		return JobStatusFailed
	default:
		return JobStatusRunning
	}
}

// JobPhase identifies an analysis pipeline phase. Records may also carry
// transient runner phases ("initializing", "starting") outside this set;
// consumers pass those through untouched.
type JobPhase string

const (
	PhaseMetadata   JobPhase = "metadata"
	PhaseSummary    JobPhase = "summary"
	PhaseGeocode    JobPhase = "geocode"
	PhaseProcessing JobPhase = "processing"
)

// IsValid checks if the phase is one of the pipeline phases
func (p JobPhase) IsValid() bool {
	switch p {
	case PhaseMetadata, PhaseSummary, PhaseGeocode, PhaseProcessing:
		return true
	default:
		return false
	}
}

// Ordinal returns the pipeline position of the phase; unknown phases sort first
func (p JobPhase) Ordinal() int {
	switch p {
	case PhaseMetadata:
		return 1
	case PhaseSummary:
		return 2
	case PhaseGeocode:
		return 3
	default:
		return 0
	}
}

// JobError describes a terminal failure attached to a job record
type JobError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts both the structured form and the bare string the
// executor persists on failed records.
func (e *JobError) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		e.Type = "exception"
		e.Message = msg
		return nil
	}
	type plain JobError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = JobError(p)
	return nil
}

// Job is the job:{job_id} record backing status queries and the event stream
type Job struct {
	JobID                string            `json:"job_id"`
	VideoID              string            `json:"video_id,omitempty"`
	Status               JobStatus         `json:"status"`
	Phase                *JobPhase         `json:"phase"`
	Progress             int               `json:"progress"`
	Cached               bool              `json:"cached"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Result               *MapVisualization `json:"result,omitempty"`
	Error                *JobError         `json:"error,omitempty"`
	SubtitleAvailability *SubtitleStatus   `json:"subtitle_availability,omitempty"`
}

// JobStatusResponse is the wire form of a job returned by the status endpoints
type JobStatusResponse struct {
	JobID                string          `json:"job_id"`
	VideoID              string          `json:"video_id,omitempty"`
	Status               JobStatus       `json:"status"`
	Phase                *JobPhase       `json:"phase"`
	Progress             int             `json:"progress"`
	Cached               bool            `json:"cached"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Error                *JobError       `json:"error,omitempty"`
	SubtitleAvailability *SubtitleStatus `json:"subtitle_availability,omitempty"`
}

// Response projects the job record into its wire form, dropping the embedded result
func (j *Job) Response() JobStatusResponse {
	return JobStatusResponse{
		JobID:                j.JobID,
		VideoID:              j.VideoID,
		Status:               j.Status,
		Phase:                j.Phase,
		Progress:             j.Progress,
		Cached:               j.Cached,
		CreatedAt:            j.CreatedAt,
		UpdatedAt:            j.UpdatedAt,
		Error:                j.Error,
		SubtitleAvailability: j.SubtitleAvailability,
	}
}

// DecodeJob rebuilds a Job from a cached value. The executor persists records
// under the same key using its own status vocabulary; those are normalized to
// the external one here.
func DecodeJob(v any) (*Job, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, err
	}
	if !j.Status.IsValid() {
		j.Status = ExecutionStatus(j.Status).JobStatus()
	}
	return &j, nil
}
