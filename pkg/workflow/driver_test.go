package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/memory"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
	"github.com/trailtag/trailtag/pkg/storage"
)

type fakePipeline struct {
	run func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error)
}

func (p *fakePipeline) Run(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
	return p.run(ctx, in, sink)
}

type reportCall struct {
	progress float64
	phase    string
}

func newTestDriver(t *testing.T, p Pipeline) (*Driver, *services.JobRegistry, *memory.Manager) {
	t.Helper()
	c := cache.New(cache.NewMemoryStore(storage.NewStore(t.TempDir())), "")
	reg := services.NewJobRegistry(c)
	mem := memory.NewManager(t.TempDir())
	return NewDriver(reg, mem, p, nil), reg, mem
}

func runInputs() map[string]any {
	return map[string]any{
		"job_id":         "job-1",
		"video_id":       "dQw4w9WgXcQ",
		"search_subject": "找出景點",
	}
}

func sampleVisualization() *models.MapVisualization {
	return &models.MapVisualization{
		VideoID: "dQw4w9WgXcQ",
		Routes: []models.RouteItem{
			{Location: "台北101", Coordinates: []float64{121.5645, 25.0340}},
			{Location: "九份老街", Coordinates: []float64{121.8443, 25.1096}},
		},
	}
}

func TestDriverRunsPhasesAndSettlesSuccess(t *testing.T) {
	ctx := context.Background()
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		sink(10, models.PhaseMetadata)
		sink(30, models.PhaseSummary)
		sink(70, models.PhaseGeocode)
		return &Result{
			Metadata:      &models.VideoMetadata{VideoID: in.VideoID, Title: "環島 Vlog"},
			TopicSummary:  map[string]any{"topics": []any{"台北101"}},
			Visualization: sampleVisualization(),
		}, nil
	}}
	d, reg, mem := newTestDriver(t, pipeline)

	// Seed the record the way a submission would, to prove untouched fields
	// survive the driver's read-modify-writes.
	lang := "zh-TW"
	seed := &models.Job{
		JobID:   "job-1",
		VideoID: "dQw4w9WgXcQ",
		Status:  models.JobStatusQueued,
		SubtitleAvailability: &models.SubtitleStatus{
			Available:       true,
			ManualSubtitles: []string{"zh-TW"},
			AutoCaptions:    []string{},
			SelectedLang:    &lang,
			ConfidenceScore: 0.95,
		},
	}
	require.True(t, reg.SaveJob(ctx, seed, 0))
	reg.SaveMapping(ctx, "dQw4w9WgXcQ", "job-1", 0)

	var calls []reportCall
	report := func(progress float64, phase string) {
		calls = append(calls, reportCall{progress, phase})
	}

	out, err := d.Run(ctx, runInputs(), report)
	require.NoError(t, err)

	vis, ok := out.(*models.MapVisualization)
	require.True(t, ok)
	assert.Len(t, vis.Routes, 2)

	assert.Equal(t, []reportCall{
		{5, "starting"},
		{10, "metadata"},
		{30, "summary"},
		{70, "geocode"},
	}, calls)

	job, err := reg.Job(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Phase)
	assert.Equal(t, models.PhaseGeocode, *job.Phase)
	require.NotNil(t, job.SubtitleAvailability)
	assert.Equal(t, 0.95, job.SubtitleAvailability.ConfidenceScore)

	stored, err := reg.Analysis(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Len(t, stored.Routes, 2)

	entry := mem.GetAnalysisResult("dQw4w9WgXcQ")
	require.NotNil(t, entry)
	assert.Equal(t, "環島 Vlog", entry.Metadata["title"])
	require.NotNil(t, entry.MapVisualization)
	assert.Len(t, entry.MapVisualization.Routes, 2)

	// Terminal transition releases the video→job mapping.
	_, err = reg.ByVideo(ctx, "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, services.ErrVideoJobNotFound)
}

func TestDriverRecordsExceptionFailure(t *testing.T) {
	ctx := context.Background()
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		sink(10, models.PhaseMetadata)
		return nil, errors.New("metadata fetch exploded")
	}}
	d, reg, mem := newTestDriver(t, pipeline)
	reg.SaveMapping(ctx, "dQw4w9WgXcQ", "job-1", 0)

	_, err := d.Run(ctx, runInputs(), func(float64, string) {})
	require.Error(t, err)
	assert.Equal(t, "metadata fetch exploded", err.Error())

	var typed interface{ ErrorType() string }
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "exception", typed.ErrorType())

	job, jerr := reg.Job(ctx, "job-1")
	require.NoError(t, jerr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
	require.NotNil(t, job.Phase)
	assert.Equal(t, models.PhaseGeocode, *job.Phase)
	require.NotNil(t, job.Error)
	assert.Equal(t, "exception", job.Error.Type)
	assert.Equal(t, "metadata fetch exploded", job.Error.Message)

	progress := mem.GetJobProgress("job-1")
	require.NotNil(t, progress)
	assert.Equal(t, models.ExecutionStatusFailed, progress.Status)

	_, verr := reg.ByVideo(ctx, "dQw4w9WgXcQ")
	assert.ErrorIs(t, verr, services.ErrVideoJobNotFound)
}

func TestDriverKeepsValidationClassification(t *testing.T) {
	ctx := context.Background()
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		return nil, services.NewValidationError("subtitles", "欄位 'subtitles' 缺失或為空")
	}}
	d, reg, _ := newTestDriver(t, pipeline)

	_, err := d.Run(ctx, runInputs(), func(float64, string) {})
	require.Error(t, err)

	// The bare guardrail message survives, without the field prefix.
	assert.Equal(t, "欄位 'subtitles' 缺失或為空", err.Error())
	var typed interface{ ErrorType() string }
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "validation", typed.ErrorType())

	job, jerr := reg.Job(ctx, "job-1")
	require.NoError(t, jerr)
	require.NotNil(t, job.Error)
	assert.Equal(t, "validation", job.Error.Type)
	assert.Equal(t, "欄位 'subtitles' 缺失或為空", job.Error.Message)
}

func TestDriverLeavesCancelledTerminalToRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		sink(10, models.PhaseMetadata)
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d, reg, _ := newTestDriver(t, pipeline)
	reg.SaveMapping(context.Background(), "dQw4w9WgXcQ", "job-1", 0)

	_, err := d.Run(ctx, runInputs(), func(float64, string) {})
	require.ErrorIs(t, err, context.Canceled)

	// The record still shows the last milestone; the terminal write belongs
	// to the executor.
	job, jerr := reg.Job(context.Background(), "job-1")
	require.NoError(t, jerr)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 10, job.Progress)

	_, verr := reg.ByVideo(context.Background(), "dQw4w9WgXcQ")
	assert.ErrorIs(t, verr, services.ErrVideoJobNotFound)
}

func TestDriverParsesRawVisualizationOutput(t *testing.T) {
	ctx := context.Background()
	raw := `{"video_id":"dQw4w9WgXcQ","routes":[{"location":"日月潭","coordinates":[120.9160,23.8561]}]}`
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		return &Result{Raw: raw}, nil
	}}
	d, reg, _ := newTestDriver(t, pipeline)

	out, err := d.Run(ctx, runInputs(), func(float64, string) {})
	require.NoError(t, err)

	vis, ok := out.(*models.MapVisualization)
	require.True(t, ok)
	require.Len(t, vis.Routes, 1)
	assert.Equal(t, "日月潭", vis.Routes[0].Location)

	stored, serr := reg.Analysis(ctx, "dQw4w9WgXcQ")
	require.NoError(t, serr)
	assert.Equal(t, "日月潭", stored.Routes[0].Location)
}

func TestDriverWrapsUnparseableOutput(t *testing.T) {
	ctx := context.Background()
	pipeline := &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		return &Result{Raw: "the model replied in prose"}, nil
	}}
	d, _, _ := newTestDriver(t, pipeline)

	out, err := d.Run(ctx, runInputs(), func(float64, string) {})
	require.NoError(t, err)

	wrapped, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "the model replied in prose", wrapped["raw_output"])
	assert.Equal(t, "dQw4w9WgXcQ", wrapped["video_id"])
}

func TestDriverRejectsIncompleteInputs(t *testing.T) {
	d, _, _ := newTestDriver(t, &fakePipeline{run: func(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
		t.Fatal("pipeline must not run")
		return nil, nil
	}})

	_, err := d.Run(context.Background(), map[string]any{"job_id": "job-1"}, func(float64, string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job_id or video_id")
}
