package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/models"
)

// Cache key builders for the job keyspaces. Everything that touches job
// state goes through these so the layout lives in one place.
func JobKey(jobID string) string        { return "job:" + jobID }
func VideoJobKey(videoID string) string { return "video_job:" + videoID }
func AnalysisKey(videoID string) string { return "analysis:" + videoID }

// JobRegistry persists job records, the video→job mapping and finished
// analyses through the cache facade. Job records live under job:{job_id},
// the mapping under video_job:{video_id} holds just the job id. Lookups
// never scan the keyspace; a missing mapping is simply not found.
type JobRegistry struct {
	cache  *cache.Cache
	logger *slog.Logger
}

// NewJobRegistry creates a registry over the given cache.
func NewJobRegistry(store *cache.Cache) *JobRegistry {
	if store == nil {
		panic("NewJobRegistry: cache must not be nil")
	}
	return &JobRegistry{
		cache:  store,
		logger: slog.Default().With("component", "job_registry"),
	}
}

// SaveJob persists a job record. A zero ttl keeps the record until it is
// overwritten; terminal records are written with a short ttl so they age out
// of status reads.
func (r *JobRegistry) SaveJob(ctx context.Context, job *models.Job, ttl time.Duration) bool {
	ok := r.cache.Set(ctx, JobKey(job.JobID), job, nil, ttl)
	if !ok {
		r.logger.Error("Failed to persist job record", "job_id", job.JobID)
	}
	return ok
}

// Job returns the record for jobID, normalized from whichever shape was
// persisted last (API record or executor record).
func (r *JobRegistry) Job(ctx context.Context, jobID string) (*models.Job, error) {
	v, ok := r.cache.Get(ctx, JobKey(jobID), nil)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	job, err := models.DecodeJob(v)
	if err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", jobID, err)
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return job, nil
}

// UpdateJob read-modify-writes a job record so fields the mutation does not
// touch survive the write. A missing record starts from a fresh base rather
// than failing, so progress writes cannot be lost to an expired record.
func (r *JobRegistry) UpdateJob(ctx context.Context, jobID string, ttl time.Duration, mutate func(*models.Job)) *models.Job {
	now := time.Now().UTC()
	job, err := r.Job(ctx, jobID)
	if err != nil {
		job = &models.Job{JobID: jobID, CreatedAt: now}
	}
	mutate(job)
	job.JobID = jobID
	job.UpdatedAt = now
	r.SaveJob(ctx, job, ttl)
	return job
}

// ByVideo resolves the video's current job through the mapping key.
func (r *JobRegistry) ByVideo(ctx context.Context, videoID string) (*models.Job, error) {
	v, ok := r.cache.Get(ctx, VideoJobKey(videoID), nil)
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrVideoJobNotFound)
	}
	jobID, ok := v.(string)
	if !ok || jobID == "" {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrVideoJobNotFound)
	}
	job, err := r.Job(ctx, jobID)
	if err != nil {
		return nil, &MappedJobMissingError{JobID: jobID}
	}
	return job, nil
}

// SaveMapping points the video at its current job. Failures are logged, not
// returned: the mapping is an advisory index, never the record of truth.
func (r *JobRegistry) SaveMapping(ctx context.Context, videoID, jobID string, ttl time.Duration) {
	if !r.cache.Set(ctx, VideoJobKey(videoID), jobID, nil, ttl) {
		r.logger.Warn("Failed to save video job mapping", "video_id", videoID, "job_id", jobID)
	}
}

// DeleteMapping removes the video's job pointer on terminal transitions.
func (r *JobRegistry) DeleteMapping(ctx context.Context, videoID string) {
	if !r.cache.Delete(ctx, VideoJobKey(videoID), nil) {
		r.logger.Warn("Failed to delete video job mapping", "video_id", videoID)
	}
}

// Analysis returns the stored map visualization for a video.
func (r *JobRegistry) Analysis(ctx context.Context, videoID string) (*models.MapVisualization, error) {
	v, ok := r.cache.Get(ctx, AnalysisKey(videoID), nil)
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrAnalysisNotFound)
	}
	var vis models.MapVisualization
	if err := decodeValue(v, &vis); err != nil {
		return nil, fmt.Errorf("decoding analysis for %s: %w", videoID, err)
	}
	if vis.VideoID == "" {
		vis.VideoID = videoID
	}
	return &vis, nil
}

// HasAnalysis reports whether a finished analysis exists for the video.
func (r *JobRegistry) HasAnalysis(ctx context.Context, videoID string) bool {
	return r.cache.Exists(ctx, AnalysisKey(videoID), nil)
}

// SaveAnalysis stores the final analysis artifact for map queries. Analyses
// have no ttl; they are the product the whole pipeline exists to produce.
func (r *JobRegistry) SaveAnalysis(ctx context.Context, videoID string, result any) bool {
	ok := r.cache.Set(ctx, AnalysisKey(videoID), result, nil, 0)
	if !ok {
		r.logger.Error("Failed to persist analysis result", "video_id", videoID)
	}
	return ok
}

// decodeValue rebuilds a typed value from a cached any via a JSON round trip.
func decodeValue(v, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
