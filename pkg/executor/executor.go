package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/memory"
	"github.com/trailtag/trailtag/pkg/metrics"
	"github.com/trailtag/trailtag/pkg/models"
)

const (
	// DefaultMaxConcurrent bounds simultaneous workflow runs.
	DefaultMaxConcurrent = 5

	// DefaultQueueSize is the dispatch buffer between Submit and the workers.
	DefaultQueueSize = 32

	// terminalJobTTL keeps finished job records readable briefly after the
	// run; expired records answer not-found.
	terminalJobTTL = 60 * time.Second
)

// task pairs a job record with everything a worker needs to run it.
type task struct {
	job      *ExecutionJob
	workflow Workflow
	ctx      context.Context
	callback ProgressCallback
}

// Executor dispatches workflows to a fixed pool of workers and tracks the
// lifecycle of every job it accepted. The in-memory table is authoritative
// while the process lives; cache and memory writes are best-effort mirrors.
type Executor struct {
	cache  *cache.Cache
	memory *memory.Manager

	queue    chan *task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Job cancel registry: job_id → cancel function, populated at submission
	// so queued jobs can be cancelled before a worker picks them up.
	mu      sync.RWMutex
	jobs    map[string]*ExecutionJob
	cancels map[string]context.CancelFunc
}

// New creates an executor backed by maxConcurrent workers and a queueSize
// submit buffer (DefaultMaxConcurrent and DefaultQueueSize when non-positive)
// and starts the workers immediately.
func New(store *cache.Cache, mem *memory.Manager, maxConcurrent, queueSize int) *Executor {
	if store == nil {
		panic("executor requires a cache")
	}
	if mem == nil {
		panic("executor requires a memory manager")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	e := &Executor{
		cache:   store,
		memory:  mem,
		queue:   make(chan *task, queueSize),
		stopCh:  make(chan struct{}),
		jobs:    make(map[string]*ExecutionJob),
		cancels: make(map[string]context.CancelFunc),
	}

	for i := 0; i < maxConcurrent; i++ {
		e.wg.Add(1)
		go e.runWorker(i)
	}

	slog.Info("Executor started", "max_concurrent", maxConcurrent, "queue_size", queueSize)
	return e
}

// Submit queues a workflow run. An empty jobID gets a generated UUID; reusing
// an active id fails with ErrJobExists. The job record is persisted as pending
// before dispatch and the call returns without waiting for a worker.
func (e *Executor) Submit(workflow Workflow, inputs map[string]any, jobID string, callback ProgressCallback) (string, error) {
	if workflow == nil {
		return "", errors.New("workflow is required")
	}
	select {
	case <-e.stopCh:
		return "", ErrShuttingDown
	default:
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	job := &ExecutionJob{
		JobID:     jobID,
		CrewName:  workflow.Name(),
		Inputs:    copyInputs(inputs),
		Status:    models.ExecutionStatusPending,
		CreatedAt: time.Now().UTC(),
		Phase:     "initializing",
		Metadata:  map[string]any{"progress_callback": callback != nil},
	}

	jobCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if _, exists := e.jobs[jobID]; exists {
		e.mu.Unlock()
		cancel()
		return "", fmt.Errorf("job %s already exists: %w", jobID, ErrJobExists)
	}
	e.jobs[jobID] = job
	e.cancels[jobID] = cancel
	e.mu.Unlock()

	e.persistJob(job.snapshot())

	t := &task{job: job, workflow: workflow, ctx: jobCtx, callback: callback}
	select {
	case e.queue <- t:
	default:
		e.mu.Lock()
		delete(e.jobs, jobID)
		delete(e.cancels, jobID)
		e.mu.Unlock()
		cancel()
		return "", fmt.Errorf("job %s rejected: %w", jobID, ErrAtCapacity)
	}

	metrics.JobsSubmitted.Inc()
	slog.Info("Submitted job", "job_id", jobID, "workflow", workflow.Name())
	return jobID, nil
}

// GetJobStatus reports the current state of a job: the in-memory table first,
// then the cached record, then the job progress memory.
func (e *Executor) GetJobStatus(ctx context.Context, jobID string) (*models.Job, bool) {
	e.mu.RLock()
	job, ok := e.jobs[jobID]
	var snap *ExecutionJob
	if ok {
		snap = job.snapshot()
	}
	e.mu.RUnlock()

	if ok {
		decoded, err := models.DecodeJob(snap)
		if err == nil {
			return decoded, true
		}
		slog.Error("Failed to decode running job", "job_id", jobID, "error", err)
	}

	if v, hit := e.cache.Get(ctx, jobKey(jobID), nil); hit {
		decoded, err := models.DecodeJob(v)
		if err == nil {
			return decoded, true
		}
		slog.Error("Failed to decode cached job", "job_id", jobID, "error", err)
	}

	if p := e.memory.GetJobProgress(jobID); p != nil {
		phase := p.Phase
		return &models.Job{
			JobID:     p.JobID,
			VideoID:   p.VideoID,
			Status:    p.Status.JobStatus(),
			Phase:     &phase,
			Progress:  p.Progress,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}, true
	}

	return nil, false
}

// Cancel requests cooperative cancellation of a queued or running job. The
// workflow observes it at its next suspension point.
func (e *Executor) Cancel(jobID string) bool {
	e.mu.RLock()
	cancel, ok := e.cancels[jobID]
	e.mu.RUnlock()
	if !ok {
		slog.Warn("Cancel requested for unknown or finished job", "job_id", jobID)
		return false
	}
	cancel()
	slog.Info("Job cancellation requested", "job_id", jobID)
	return true
}

// RunningJobs returns the status of every job the executor still tracks.
func (e *Executor) RunningJobs() map[string]models.ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]models.ExecutionStatus, len(e.jobs))
	for id, job := range e.jobs {
		out[id] = job.Status
	}
	return out
}

// Shutdown cancels all tracked jobs, stops the workers and waits for in-flight
// runs to finish or ctx to expire. Safe to call multiple times.
func (e *Executor) Shutdown(ctx context.Context) {
	e.stopOnce.Do(func() {
		slog.Info("Shutting down executor")

		e.mu.RLock()
		cancels := make([]context.CancelFunc, 0, len(e.cancels))
		for _, cancel := range e.cancels {
			cancels = append(cancels, cancel)
		}
		e.mu.RUnlock()
		for _, cancel := range cancels {
			cancel()
		}

		close(e.stopCh)

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("Executor shutdown complete")
		case <-ctx.Done():
			slog.Warn("Executor shutdown timed out", "error", ctx.Err())
		}
	})
}

// runWorker is the main worker loop.
func (e *Executor) runWorker(id int) {
	defer e.wg.Done()

	log := slog.With("worker_id", id)
	log.Debug("Executor worker started")

	for {
		select {
		case <-e.stopCh:
			log.Debug("Executor worker shutting down")
			return
		case t := <-e.queue:
			e.execute(t)
		}
	}
}

// execute runs one task through its full lifecycle.
func (e *Executor) execute(t *task) {
	log := slog.With("job_id", t.job.JobID, "workflow", t.job.CrewName)

	// Cancelled while still queued.
	if t.ctx.Err() != nil {
		e.finishJob(t, nil, t.ctx.Err(), log)
		return
	}

	started := time.Now().UTC()
	e.mu.Lock()
	t.job.Status = models.ExecutionStatusRunning
	t.job.StartedAt = &started
	t.job.Phase = "starting"
	e.mu.Unlock()
	e.updateJobStatus(t)
	log.Info("Job started")

	report := func(progress float64, phase string) {
		e.mu.Lock()
		t.job.Progress = progress
		t.job.Phase = phase
		e.mu.Unlock()
		e.fireCallback(t.callback, t.job.JobID, progress, phase)
	}

	output, err := t.workflow.Run(t.ctx, t.job.Inputs, report)
	e.finishJob(t, output, err, log)
}

// finishJob writes the terminal state, mirrors it, and drops the job from the
// tracking tables.
func (e *Executor) finishJob(t *task, output any, err error, log *slog.Logger) {
	completed := time.Now().UTC()

	e.mu.Lock()
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || t.ctx.Err() != nil):
		t.job.Status = models.ExecutionStatusCancelled
		t.job.Error = "Job was cancelled"
	case err != nil:
		t.job.Status = models.ExecutionStatusFailed
		t.job.Error = errorPayload(err)
	default:
		t.job.Status = models.ExecutionStatusCompleted
		t.job.Result = extractResult(output)
		t.job.Progress = 100
		t.job.Phase = "completed"
	}
	t.job.CompletedAt = &completed
	e.mu.Unlock()

	e.updateJobStatus(t)

	e.mu.Lock()
	delete(e.jobs, t.job.JobID)
	delete(e.cancels, t.job.JobID)
	e.mu.Unlock()

	metrics.RecordJobCompleted(string(t.job.Status))
	log.Info("Job finished", "status", t.job.Status)
}

// updateJobStatus persists the job record, mirrors it to the progress memory
// and fires the submitter's callback, in that order.
func (e *Executor) updateJobStatus(t *task) {
	e.mu.RLock()
	snap := t.job.snapshot()
	e.mu.RUnlock()

	e.persistJob(snap)
	e.mirrorToMemory(snap)
	e.fireCallback(t.callback, snap.JobID, snap.Progress, snap.Phase)
}

// persistJob writes the record to the cache; terminal records carry the
// advisory TTL so they age out of status reads.
func (e *Executor) persistJob(job *ExecutionJob) {
	var ttl time.Duration
	if job.Status.IsTerminal() {
		ttl = terminalJobTTL
	}
	if !e.cache.Set(context.Background(), jobKey(job.JobID), job, nil, ttl) {
		slog.Error("Failed to store job record", "job_id", job.JobID)
	}
}

// mirrorToMemory records the transition in the job progress memory. Phases
// outside the pipeline vocabulary fall back to processing.
func (e *Executor) mirrorToMemory(job *ExecutionJob) {
	videoID, _ := job.Inputs["video_id"].(string)
	phase := models.JobPhase(job.Phase)
	if !phase.IsValid() {
		phase = models.PhaseProcessing
	}
	e.memory.SaveJobProgress(job.JobID, videoID, job.Status, phase, int(job.Progress), nil)
}

// fireCallback invokes the submitter's callback, recovering panics so they
// never unwind a worker.
func (e *Executor) fireCallback(cb ProgressCallback, jobID string, progress float64, phase string) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Progress callback panicked", "job_id", jobID, "panic", r)
		}
	}()
	cb(jobID, progress, phase)
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

func copyInputs(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	return out
}
