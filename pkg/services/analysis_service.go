package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/trailtag/trailtag/pkg/executor"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/webhook"
)

// DefaultSearchSubject steers the analysis when a submission does not name
// its own subject.
const DefaultSearchSubject = "找出景點、餐廳、交通方式與住宿的地理位置"

// terminalJobTTL ages terminal job records out of status reads.
const terminalJobTTL = 60 * time.Second

// videoIDPatterns match the accepted YouTube URL forms. The first pattern
// covers watch and share URLs, the second the embed and legacy /v/ forms.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11}).*`),
	regexp.MustCompile(`(?:embed/|v/|youtu\.be/)([0-9A-Za-z_-]{11})`),
}

// ExtractVideoID pulls the 11-character video id out of a YouTube URL.
func ExtractVideoID(url string) (string, error) {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); len(m) > 1 {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidVideoURL, url)
}

// SubtitleProber checks subtitle availability upstream. Implementations own
// their own result caching.
type SubtitleProber interface {
	CheckSubtitles(ctx context.Context, videoID string) (*models.SubtitleStatus, error)
}

// AnalysisService orchestrates video analysis: URL validation, the subtitle
// gate, cache short-circuiting and submission to the executor. All job state
// flows through the registry; the service itself holds none.
type AnalysisService struct {
	registry      *JobRegistry
	runner        *executor.Executor
	prober        SubtitleProber
	workflow      executor.Workflow
	hooks         *webhook.Notifier
	searchSubject string
	logger        *slog.Logger
}

// NewAnalysisService creates the orchestration service. hooks may be nil
// when no webhooks are configured. An empty searchSubject falls back to
// DefaultSearchSubject.
func NewAnalysisService(registry *JobRegistry, runner *executor.Executor, prober SubtitleProber, workflow executor.Workflow, hooks *webhook.Notifier, searchSubject string) *AnalysisService {
	if registry == nil {
		panic("NewAnalysisService: registry must not be nil")
	}
	if runner == nil {
		panic("NewAnalysisService: runner must not be nil")
	}
	if prober == nil {
		panic("NewAnalysisService: prober must not be nil")
	}
	if workflow == nil {
		panic("NewAnalysisService: workflow must not be nil")
	}
	if searchSubject == "" {
		searchSubject = DefaultSearchSubject
	}
	return &AnalysisService{
		registry:      registry,
		runner:        runner,
		prober:        prober,
		workflow:      workflow,
		hooks:         hooks,
		searchSubject: searchSubject,
		logger:        slog.Default().With("component", "analysis_service"),
	}
}

// Registry exposes the job registry for collaborators that share job state,
// such as the workflow driver and the event stream.
func (s *AnalysisService) Registry() *JobRegistry {
	return s.registry
}

// CheckSubtitles reports subtitle availability for a video. A stored
// analysis short-circuits the probe: a video that was analyzed necessarily
// had subtitles, so the answer is synthesized instead of fetched.
func (s *AnalysisService) CheckSubtitles(ctx context.Context, videoID string) (*models.SubtitleStatus, error) {
	if s.registry.HasAnalysis(ctx, videoID) {
		lang := "cached"
		return &models.SubtitleStatus{
			Available:       true,
			ManualSubtitles: []string{},
			AutoCaptions:    []string{},
			SelectedLang:    &lang,
			ConfidenceScore: 0.9,
		}, nil
	}

	status, err := s.prober.CheckSubtitles(ctx, videoID)
	if err != nil {
		return nil, &SubtitleCheckError{VideoID: videoID, Cause: err}
	}
	return status, nil
}

// Analyze validates the submission, gates on subtitle availability and
// either serves a finished analysis from cache or queues a new job. The
// returned record is what the caller should surface immediately; further
// state arrives through the job keyspace.
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.Job, error) {
	videoID, err := ExtractVideoID(req.URL)
	if err != nil {
		return nil, err
	}

	status, err := s.CheckSubtitles(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !status.Available {
		s.logger.Info("Rejecting analysis, no subtitles", "video_id", videoID)
		return nil, &NoSubtitlesError{VideoID: videoID, Status: status}
	}

	if s.registry.HasAnalysis(ctx, videoID) {
		return s.cachedJob(ctx, videoID, status), nil
	}

	subject := req.SearchSubject
	if subject == "" {
		subject = s.searchSubject
	}
	return s.submitJob(ctx, req.URL, videoID, subject, status)
}

// cachedJob builds a synthetic terminal record for an already analyzed
// video. The record and mapping carry the terminal ttl; no work is queued.
func (s *AnalysisService) cachedJob(ctx context.Context, videoID string, status *models.SubtitleStatus) *models.Job {
	now := time.Now().UTC()
	phase := models.PhaseGeocode
	job := &models.Job{
		JobID:                uuid.New().String(),
		VideoID:              videoID,
		Status:               models.JobStatusDone,
		Phase:                &phase,
		Progress:             100,
		Cached:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
		SubtitleAvailability: status,
	}
	s.registry.SaveJob(ctx, job, terminalJobTTL)
	s.registry.SaveMapping(ctx, videoID, job.JobID, terminalJobTTL)
	s.logger.Info("Analysis served from cache", "video_id", videoID, "job_id", job.JobID)
	return job
}

// submitJob persists the queued record, registers the mapping and hands the
// job to the executor. On a rejected submission the record is flipped to
// failed and the mapping removed so the video is not left pointing at a job
// that never ran.
func (s *AnalysisService) submitJob(ctx context.Context, url, videoID, subject string, status *models.SubtitleStatus) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		JobID:                uuid.New().String(),
		VideoID:              videoID,
		Status:               models.JobStatusQueued,
		Progress:             0,
		Cached:               false,
		CreatedAt:            now,
		UpdatedAt:            now,
		SubtitleAvailability: status,
	}
	s.registry.SaveJob(ctx, job, 0)
	s.registry.SaveMapping(ctx, videoID, job.JobID, 0)

	inputs := map[string]any{
		"job_id":         job.JobID,
		"video_id":       videoID,
		"search_subject": subject,
	}
	if _, err := s.runner.Submit(s.workflow, inputs, job.JobID, s.progressHook(videoID)); err != nil {
		s.registry.UpdateJob(ctx, job.JobID, terminalJobTTL, func(j *models.Job) {
			j.Status = models.JobStatusFailed
			j.Error = &models.JobError{Type: "exception", Message: err.Error()}
		})
		s.registry.DeleteMapping(ctx, videoID)
		return nil, fmt.Errorf("submitting job for video %s: %w", videoID, err)
	}

	s.hooks.Trigger(webhook.EventJobStarted, map[string]any{
		"url":            url,
		"search_subject": subject,
	}, job.JobID, videoID)

	s.logger.Info("Analysis job created", "job_id", job.JobID, "video_id", videoID, "search_subject", subject)
	return job, nil
}

// progressHook forwards executor progress reports as job.progress webhooks.
// Only forward pipeline phases, and only while progress advances: terminal
// transitions replay the last phase with stale progress, and those must not
// surface after the driver's own terminal events.
func (s *AnalysisService) progressHook(videoID string) executor.ProgressCallback {
	var last float64
	return func(jobID string, progress float64, phase string) {
		if !models.JobPhase(phase).IsValid() || progress <= last {
			return
		}
		last = progress
		s.hooks.Trigger(webhook.EventJobProgress, map[string]any{
			"progress": progress,
			"phase":    phase,
		}, jobID, videoID)
	}
}

// JobStatus returns the current record for a job. The executor's running
// table is consulted first so active jobs reflect the freshest transition,
// then the registry for everything it no longer tracks.
func (s *AnalysisService) JobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := s.runner.GetJobStatus(ctx, jobID); ok {
		return job, nil
	}
	return s.registry.Job(ctx, jobID)
}

// JobByVideo resolves the video's current job through the mapping.
func (s *AnalysisService) JobByVideo(ctx context.Context, videoID string) (*models.Job, error) {
	return s.registry.ByVideo(ctx, videoID)
}

// VideoLocations returns the stored analysis artifact for a video.
func (s *AnalysisService) VideoLocations(ctx context.Context, videoID string) (*models.MapVisualization, error) {
	return s.registry.Analysis(ctx, videoID)
}
