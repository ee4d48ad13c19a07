package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/memory"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/storage"
)

// fakeWorkflow runs the given function as its body.
type fakeWorkflow struct {
	name string
	run  func(ctx context.Context, inputs map[string]any, report ProgressFunc) (any, error)
}

func (f *fakeWorkflow) Name() string { return f.name }

func (f *fakeWorkflow) Run(ctx context.Context, inputs map[string]any, report ProgressFunc) (any, error) {
	return f.run(ctx, inputs, report)
}

func newTestExecutor(t *testing.T, maxConcurrent int) (*Executor, *cache.Cache, *memory.Manager) {
	t.Helper()
	c := cache.New(cache.NewMemoryStore(storage.NewStore(t.TempDir())), "")
	m := memory.NewManager(t.TempDir())
	e := New(c, m, maxConcurrent, 0)
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e, c, m
}

// cachedJob decodes the persisted job record, failing the test on a miss.
func cachedJob(t *testing.T, c *cache.Cache, jobID string) *models.Job {
	t.Helper()
	v, ok := c.Get(context.Background(), "job:"+jobID, nil)
	require.True(t, ok, "job record missing from cache")
	job, err := models.DecodeJob(v)
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, c *cache.Cache, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		v, ok := c.Get(context.Background(), "job:"+jobID, nil)
		if !ok {
			return false
		}
		decoded, err := models.DecodeJob(v)
		if err != nil {
			return false
		}
		job = decoded
		return job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitGeneratesJobIDAndPersistsPending(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	release := make(chan struct{})
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		<-release
		return nil, nil
	}}

	jobID, err := e.Submit(wf, map[string]any{"video_id": "dQw4w9WgXcQ"}, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job := cachedJob(t, c, jobID)
	assert.Equal(t, jobID, job.JobID)
	assert.Contains(t, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}, job.Status)

	close(release)
}

func TestSubmitRejectsDuplicateJobID(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1)

	release := make(chan struct{})
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		<-release
		return nil, nil
	}}

	_, err := e.Submit(wf, nil, "job-1", nil)
	require.NoError(t, err)

	_, err = e.Submit(wf, nil, "job-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobExists)
	assert.Contains(t, err.Error(), "job job-1 already exists")

	close(release)
}

func TestCompletedJobPersistsExtractedResult(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		return map[string]any{
			"video_id": "dQw4w9WgXcQ",
			"routes":   []any{map[string]any{"location": "台北101"}},
		}, nil
	}}

	jobID, err := e.Submit(wf, map[string]any{"video_id": "dQw4w9WgXcQ"}, "", nil)
	require.NoError(t, err)

	job := waitForStatus(t, c, jobID, models.JobStatusDone)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "dQw4w9WgXcQ", job.Result.VideoID)

	// Terminal jobs leave the running table.
	assert.Eventually(t, func() bool {
		_, ok := e.RunningJobs()[jobID]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailedJobPersistsErrorString(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		return nil, errors.New("metadata fetch exploded")
	}}

	jobID, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)

	job := waitForStatus(t, c, jobID, models.JobStatusFailed)
	require.NotNil(t, job.Error)
	assert.Equal(t, "metadata fetch exploded", job.Error.Message)
	assert.Equal(t, "exception", job.Error.Type)
}

type typedFailure struct{ msg string }

func (e *typedFailure) Error() string     { return e.msg }
func (e *typedFailure) ErrorType() string { return "validation" }

func TestFailedJobKeepsErrorClassification(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		return nil, &typedFailure{msg: "欄位 'subtitles' 缺失或為空"}
	}}

	jobID, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)

	job := waitForStatus(t, c, jobID, models.JobStatusFailed)
	require.NotNil(t, job.Error)
	assert.Equal(t, "validation", job.Error.Type)
	assert.Equal(t, "欄位 'subtitles' 缺失或為空", job.Error.Message)
}

func TestCancelRunningJob(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	started := make(chan struct{})
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	jobID, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)
	<-started

	assert.True(t, e.Cancel(jobID))

	job := waitForStatus(t, c, jobID, models.JobStatusCanceled)
	require.NotNil(t, job.Error)
	assert.Equal(t, "Job was cancelled", job.Error.Message)
}

func TestCancelUnknownJobReturnsFalse(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1)
	assert.False(t, e.Cancel("nope"))
}

func TestProgressCallbackReceivesTransitionsAndReports(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1)

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})
	cb := func(jobID string, progress float64, phase string) {
		mu.Lock()
		calls = append(calls, phase)
		if phase == "completed" {
			close(done)
		}
		mu.Unlock()
	}

	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, report ProgressFunc) (any, error) {
		report(30, "metadata")
		report(70, "summary")
		return map[string]any{"ok": true}, nil
	}}

	_, err := e.Submit(wf, nil, "", cb)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never saw the terminal transition")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"starting", "metadata", "summary", "completed"}, calls)
}

func TestPanickyCallbackDoesNotKillWorker(t *testing.T) {
	e, c, _ := newTestExecutor(t, 1)

	cb := func(string, float64, string) { panic("listener bug") }
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		return "all good", nil
	}}

	jobID, err := e.Submit(wf, nil, "", cb)
	require.NoError(t, err)
	waitForStatus(t, c, jobID, models.JobStatusDone)

	// The worker survived and keeps taking jobs.
	jobID2, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)
	waitForStatus(t, c, jobID2, models.JobStatusDone)
}

func TestGetJobStatusChecksRunningTableFirst(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, report ProgressFunc) (any, error) {
		report(42, "summary")
		close(started)
		<-release
		return nil, nil
	}}

	jobID, err := e.Submit(wf, map[string]any{"video_id": "dQw4w9WgXcQ"}, "", nil)
	require.NoError(t, err)
	<-started

	job, ok := e.GetJobStatus(context.Background(), jobID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 42, job.Progress)

	close(release)
}

func TestGetJobStatusFallsBackToCacheThenMemory(t *testing.T) {
	e, c, m := newTestExecutor(t, 1)

	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		return map[string]any{"ok": true}, nil
	}}
	jobID, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)
	waitForStatus(t, c, jobID, models.JobStatusDone)

	// Gone from the table, still served from the cache record.
	job, ok := e.GetJobStatus(context.Background(), jobID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusDone, job.Status)

	// A record only the progress memory knows about.
	m.SaveJobProgress("mem-only", "dQw4w9WgXcQ", models.ExecutionStatusRunning, models.PhaseSummary, 55, nil)
	job, ok = e.GetJobStatus(context.Background(), "mem-only")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 55, job.Progress)

	_, ok = e.GetJobStatus(context.Background(), "never-seen")
	assert.False(t, ok)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	c := cache.New(cache.NewMemoryStore(storage.NewStore(t.TempDir())), "")
	m := memory.NewManager(t.TempDir())
	e := New(c, m, 2, 0)

	started := make(chan struct{})
	wf := &fakeWorkflow{name: "analysis", run: func(ctx context.Context, _ map[string]any, _ ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	jobID, err := e.Submit(wf, nil, "", nil)
	require.NoError(t, err)
	<-started

	e.Shutdown(context.Background())
	// Idempotent.
	assert.NotPanics(t, func() { e.Shutdown(context.Background()) })

	job := cachedJob(t, c, jobID)
	assert.Equal(t, models.JobStatusCanceled, job.Status)

	_, err = e.Submit(wf, nil, "", nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestExtractResult(t *testing.T) {
	type structured struct {
		VideoID string `json:"video_id"`
	}

	assert.Nil(t, extractResult(nil))
	assert.Equal(t, map[string]any{"a": float64(1)}, extractResult(map[string]any{"a": float64(1)}))
	assert.Equal(t, map[string]any{"video_id": "x"}, extractResult(structured{VideoID: "x"}))
	assert.Equal(t, map[string]any{"k": "v"}, extractResult(`{"k": "v"}`))
	assert.Equal(t, map[string]any{"output": "plain text"}, extractResult("plain text"))
	assert.Equal(t, map[string]any{"output": "42"}, extractResult(42))
}
