package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailtag/trailtag/pkg/executor"
	"github.com/trailtag/trailtag/pkg/memory"
	"github.com/trailtag/trailtag/pkg/metrics"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
	"github.com/trailtag/trailtag/pkg/webhook"
)

// terminalTTL ages the driver's terminal job writes out of status reads.
const terminalTTL = 60 * time.Second

// phaseStarting is the transient phase written before the pipeline begins.
const phaseStarting = models.JobPhase("starting")

// Driver adapts a Pipeline to the executor's workflow contract. It owns
// every job record write made during a run: milestone updates while phases
// advance, the terminal record, the stored analysis artifact, the memory
// mirror, the mapping cleanup and the outcome webhooks. Terminal writes for
// cancelled runs are left to the executor so the driver never races it.
type Driver struct {
	registry *services.JobRegistry
	memory   *memory.Manager
	pipeline Pipeline
	hooks    *webhook.Notifier
	logger   *slog.Logger
}

// NewDriver creates the workflow driver. hooks may be nil when no webhooks
// are configured.
func NewDriver(registry *services.JobRegistry, mem *memory.Manager, pipeline Pipeline, hooks *webhook.Notifier) *Driver {
	if registry == nil {
		panic("NewDriver: registry must not be nil")
	}
	if mem == nil {
		panic("NewDriver: memory manager must not be nil")
	}
	if pipeline == nil {
		panic("NewDriver: pipeline must not be nil")
	}
	return &Driver{
		registry: registry,
		memory:   mem,
		pipeline: pipeline,
		hooks:    hooks,
		logger:   slog.Default().With("component", "workflow_driver"),
	}
}

// Name identifies the workflow kind on executor records.
func (d *Driver) Name() string {
	return "Trailtag"
}

// Run executes the pipeline for one job and settles its outcome.
func (d *Driver) Run(ctx context.Context, inputs map[string]any, report executor.ProgressFunc) (any, error) {
	in, err := parseInputs(inputs)
	if err != nil {
		return nil, err
	}
	log := d.logger.With("job_id", in.JobID, "video_id", in.VideoID)
	started := time.Now()

	d.milestone(in, 5, phaseStarting, report)

	var lastPhase models.JobPhase
	lastAt := time.Now()
	sink := func(progress int, phase models.JobPhase) {
		if phase != lastPhase {
			if lastPhase != "" {
				metrics.RecordPhaseDuration(string(lastPhase), time.Since(lastAt))
			}
			lastPhase = phase
			lastAt = time.Now()
		}
		d.milestone(in, progress, phase, report)
	}

	result, err := d.pipeline.Run(ctx, in, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, d.finishCancelled(in, err, log)
		}
		return nil, d.finishFailed(in, err, log)
	}
	if lastPhase != "" {
		metrics.RecordPhaseDuration(string(lastPhase), time.Since(lastAt))
	}
	return d.finishDone(in, result, time.Since(started), log), nil
}

// milestone records one step of forward progress everywhere it is observed:
// the job record, the progress memory and the executor's report function.
// Record writes use a background context; a milestone that raced
// cancellation must still land so status reads never go backwards.
func (d *Driver) milestone(in Inputs, progress int, phase models.JobPhase, report executor.ProgressFunc) {
	ctx := context.Background()
	d.registry.UpdateJob(ctx, in.JobID, 0, func(j *models.Job) {
		p := phase
		j.VideoID = in.VideoID
		j.Status = models.JobStatusRunning
		j.Phase = &p
		j.Progress = progress
		j.Cached = false
	})
	d.memory.SaveJobProgress(in.JobID, in.VideoID, models.ExecutionStatusRunning, mirrorPhase(phase), progress, nil)
	report(float64(progress), string(phase))
}

// finishDone persists the terminal record and the analysis artifact, mirrors
// both memories, releases the mapping and announces completion.
func (d *Driver) finishDone(in Inputs, result *Result, elapsed time.Duration, log *slog.Logger) any {
	ctx := context.Background()
	artifact, vis := d.extractArtifact(in, result, log)

	phase := models.PhaseGeocode
	d.registry.UpdateJob(ctx, in.JobID, terminalTTL, func(j *models.Job) {
		j.VideoID = in.VideoID
		j.Status = models.JobStatusDone
		j.Phase = &phase
		j.Progress = 100
		j.Cached = false
	})
	d.registry.SaveAnalysis(ctx, in.VideoID, artifact)
	d.memory.SaveJobProgress(in.JobID, in.VideoID, models.ExecutionStatusCompleted, models.PhaseGeocode, 100, nil)
	d.memory.SaveAnalysisResult(in.VideoID, toMap(result.Metadata), result.TopicSummary, vis, elapsed.Seconds(), false)
	d.registry.DeleteMapping(ctx, in.VideoID)

	routes := 0
	if vis != nil {
		routes = len(vis.Routes)
	}
	d.hooks.Trigger(webhook.EventJobCompleted, map[string]any{
		"processing_time_seconds": elapsed.Seconds(),
	}, in.JobID, in.VideoID)
	d.hooks.Trigger(webhook.EventAnalysisReady, map[string]any{
		"routes_count": routes,
	}, in.JobID, in.VideoID)

	log.Info("Analysis completed", "routes", routes, "elapsed", elapsed)
	return artifact
}

// finishFailed persists the failed record, releases the mapping and returns
// a classified error so the executor's own terminal write keeps the type.
func (d *Driver) finishFailed(in Inputs, cause error, log *slog.Logger) error {
	kind, msg := classify(cause)
	ctx := context.Background()

	phase := models.PhaseGeocode
	d.registry.UpdateJob(ctx, in.JobID, terminalTTL, func(j *models.Job) {
		j.VideoID = in.VideoID
		j.Status = models.JobStatusFailed
		j.Phase = &phase
		j.Progress = 0
		j.Error = &models.JobError{Type: kind, Message: msg}
	})
	d.memory.SaveJobProgress(in.JobID, in.VideoID, models.ExecutionStatusFailed, models.PhaseGeocode, 0, map[string]any{"error": msg})
	d.registry.DeleteMapping(ctx, in.VideoID)
	d.hooks.Trigger(webhook.EventJobFailed, map[string]any{
		"error_type": kind,
		"error":      msg,
	}, in.JobID, in.VideoID)

	log.Error("Analysis failed", "error_type", kind, "error", msg)
	return &runFailure{kind: kind, msg: msg}
}

// finishCancelled releases the mapping and announces the cancellation. The
// executor writes the cancelled terminal record.
func (d *Driver) finishCancelled(in Inputs, cause error, log *slog.Logger) error {
	d.registry.DeleteMapping(context.Background(), in.VideoID)
	d.hooks.Trigger(webhook.EventJobCancelled, nil, in.JobID, in.VideoID)
	log.Info("Analysis cancelled")
	return cause
}

// extractArtifact settles what gets stored under analysis:{video_id}. A
// structured visualization wins; otherwise the raw output is parsed as JSON,
// and failing that wrapped verbatim so nothing the pipeline produced is lost.
func (d *Driver) extractArtifact(in Inputs, result *Result, log *slog.Logger) (any, *models.MapVisualization) {
	if result.Visualization != nil {
		vis := result.Visualization
		if vis.VideoID == "" {
			vis.VideoID = in.VideoID
		}
		return vis, vis
	}
	if result.Raw != "" {
		var vis models.MapVisualization
		if err := json.Unmarshal([]byte(result.Raw), &vis); err == nil && len(vis.Routes) > 0 {
			if vis.VideoID == "" {
				vis.VideoID = in.VideoID
			}
			return &vis, &vis
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(result.Raw), &parsed); err == nil {
			return parsed, nil
		}
	}
	log.Warn("Pipeline produced no structured visualization")
	return map[string]any{"video_id": in.VideoID, "raw_output": result.Raw}, nil
}

// classify splits a pipeline failure into the persisted error vocabulary.
// Validation failures keep their bare message; everything else is an
// exception with the full error text.
func classify(err error) (kind, msg string) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return "validation", ve.Message
	}
	return "exception", err.Error()
}

// runFailure is the classified error handed back to the executor.
type runFailure struct {
	kind string
	msg  string
}

func (f *runFailure) Error() string     { return f.msg }
func (f *runFailure) ErrorType() string { return f.kind }

func parseInputs(inputs map[string]any) (Inputs, error) {
	jobID, _ := inputs["job_id"].(string)
	videoID, _ := inputs["video_id"].(string)
	subject, _ := inputs["search_subject"].(string)
	if jobID == "" || videoID == "" {
		return Inputs{}, fmt.Errorf("workflow inputs missing job_id or video_id")
	}
	return Inputs{JobID: jobID, VideoID: videoID, SearchSubject: subject}, nil
}

// mirrorPhase maps transient driver phases onto the progress memory's
// vocabulary.
func mirrorPhase(phase models.JobPhase) models.JobPhase {
	if phase.IsValid() {
		return phase
	}
	return models.PhaseProcessing
}

func toMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
