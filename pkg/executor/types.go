// Package executor runs analysis workflows on a bounded worker pool and
// tracks their lifecycle records.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trailtag/trailtag/pkg/models"
)

// Sentinel errors for executor operations.
var (
	// ErrJobExists indicates a submission reused a job id that is still active.
	ErrJobExists = errors.New("job already exists")

	// ErrAtCapacity indicates the dispatch queue is full.
	ErrAtCapacity = errors.New("executor at capacity")

	// ErrShuttingDown indicates the executor no longer accepts submissions.
	ErrShuttingDown = errors.New("executor shutting down")
)

// ProgressFunc reports workflow progress as a percentage and a phase label.
type ProgressFunc func(progress float64, phase string)

// ProgressCallback receives job lifecycle and progress updates from the
// executor. Callbacks run on worker goroutines; panics are recovered and
// logged, never propagated into the run.
type ProgressCallback func(jobID string, progress float64, phase string)

// Workflow is the unit of work the executor runs.
//
// The workflow owns the ENTIRE analysis internally: it executes its phases
// sequentially, writes intermediate results progressively during the run, and
// reports milestones through the supplied ProgressFunc. The executor only
// handles dispatch, lifecycle transitions, terminal persistence and
// cancellation.
type Workflow interface {
	// Name identifies the workflow kind on job records.
	Name() string
	// Run executes the workflow. It must observe ctx cancellation at its
	// suspension points and return promptly once cancelled.
	Run(ctx context.Context, inputs map[string]any, report ProgressFunc) (any, error)
}

// ExecutionJob is the executor's own bookkeeping record, persisted under the
// job's cache key alongside the API-shaped record. Readers of that key
// normalize between the two shapes.
type ExecutionJob struct {
	JobID       string                 `json:"job_id"`
	CrewName    string                 `json:"crew_name"`
	Inputs      map[string]any         `json:"inputs"`
	Status      models.ExecutionStatus `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Progress    float64                `json:"progress"`
	Phase       string                 `json:"phase"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       any                    `json:"error,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

// snapshot returns a shallow copy safe to hand to persistence while workers
// keep mutating the original under the executor lock.
func (j *ExecutionJob) snapshot() *ExecutionJob {
	cp := *j
	return &cp
}

// extractResult normalizes a workflow's output into a JSON object. Structured
// values marshal through JSON, plain maps pass through, raw strings are
// parsed as JSON when possible and wrapped otherwise.
func extractResult(output any) map[string]any {
	switch v := output.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
		return map[string]any{"output": v}
	}
	if b, err := json.Marshal(output); err == nil {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err == nil {
			return m
		}
	}
	return map[string]any{"output": fmt.Sprint(output)}
}

// errorPayload shapes a failure for the persisted record. Errors that carry a
// classification keep it as a structured {type, message} object; everything
// else is stored as the bare message.
func errorPayload(err error) any {
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		return map[string]any{"type": typed.ErrorType(), "message": err.Error()}
	}
	return err.Error()
}
