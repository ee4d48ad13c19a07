// Package workflow drives the three-phase video analysis: metadata
// extraction, topic summarization and geocoding. The driver adapts a
// pipeline to the executor's workflow contract and owns all job record
// writes made during a run.
package workflow

import (
	"context"

	"github.com/trailtag/trailtag/pkg/models"
)

// Inputs identifies one analysis run.
type Inputs struct {
	JobID         string
	VideoID       string
	SearchSubject string
}

// ProgressSink receives milestones as the pipeline advances. Progress is a
// percentage; the phase names which stage of the pipeline is running.
type ProgressSink func(progress int, phase models.JobPhase)

// Result carries everything a pipeline run produced. Visualization is the
// structured artifact; Raw holds the final output verbatim when the pipeline
// could not shape it.
type Result struct {
	Metadata      *models.VideoMetadata
	TopicSummary  map[string]any
	Visualization *models.MapVisualization
	Raw           string
}

// Pipeline executes the analysis phases in order, reporting entry milestones
// through the sink. Implementations must observe ctx between phases and
// return promptly once it is cancelled.
type Pipeline interface {
	Run(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error)
}
