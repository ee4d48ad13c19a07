package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailtag/trailtag/pkg/models"
)

const analyzeBody = `{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`

func TestAnalyzeVideoQueuesJob(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodPost, "/api/videos/analyze", analyzeBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var job models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "dQw4w9WgXcQ", job.VideoID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Nil(t, job.Phase)
	assert.Equal(t, 0, job.Progress)
	assert.False(t, job.Cached)
	require.NotNil(t, job.SubtitleAvailability)
	assert.True(t, job.SubtitleAvailability.Available)

	mapped, err := ts.registry.ByVideo(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, job.JobID, mapped.JobID)
}

func TestAnalyzeVideoRejectsInvalidURL(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodPost, "/api/videos/analyze", `{"url":"https://example.com/nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "無效的 YouTube URL：")
	assert.Contains(t, body, "無法從 URL 提取有效的 YouTube video_id")
	assert.Contains(t, body, "youtube.com/watch?v=VIDEO_ID 或 youtu.be/VIDEO_ID")
}

func TestAnalyzeVideoRejectsUnparseableBody(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodPost, "/api/videos/analyze", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestAnalyzeVideoRejectsMissingSubtitles(t *testing.T) {
	ts := newTestServer(t, staticProber(&models.SubtitleStatus{
		Available:       false,
		ManualSubtitles: []string{},
		AutoCaptions:    []string{},
	}))

	rec := ts.do(http.MethodPost, "/api/videos/analyze", analyzeBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Message        string                 `json:"message"`
		Suggestion     string                 `json:"suggestion"`
		VideoID        string                 `json:"video_id"`
		SubtitleStatus *models.SubtitleStatus `json:"subtitle_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "此影片沒有可用的字幕或自動字幕，無法進行分析", body.Message)
	assert.Equal(t, "請選擇有字幕的影片，或者等待 YouTube 生成自動字幕後再試", body.Suggestion)
	assert.Equal(t, "dQw4w9WgXcQ", body.VideoID)
	require.NotNil(t, body.SubtitleStatus)
	assert.False(t, body.SubtitleStatus.Available)
}

func TestAnalyzeVideoServesCachedAnalysis(t *testing.T) {
	prober := proberFunc(func(context.Context, string) (*models.SubtitleStatus, error) {
		return nil, errors.New("probe must not run for cached analyses")
	})
	ts := newTestServer(t, prober)
	ts.registry.SaveAnalysis(context.Background(), "dQw4w9WgXcQ", &models.MapVisualization{
		VideoID: "dQw4w9WgXcQ",
		Routes:  []models.RouteItem{{Location: "台北101", Coordinates: []float64{121.5645, 25.0340}}},
	})

	rec := ts.do(http.MethodPost, "/api/videos/analyze", analyzeBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var job models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.True(t, job.Cached)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Phase)
	assert.Equal(t, models.PhaseGeocode, *job.Phase)
	require.NotNil(t, job.SubtitleAvailability)
	require.NotNil(t, job.SubtitleAvailability.SelectedLang)
	assert.Equal(t, "cached", *job.SubtitleAvailability.SelectedLang)
}

func TestAnalyzeVideoReportsProbeFailure(t *testing.T) {
	prober := proberFunc(func(context.Context, string) (*models.SubtitleStatus, error) {
		return nil, errors.New("quota exceeded")
	})
	ts := newTestServer(t, prober)

	rec := ts.do(http.MethodPost, "/api/videos/analyze", analyzeBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "無法檢查影片字幕狀態: quota exceeded")
}

func TestVideoLocationsReturnsStoredArtifact(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))
	ts.registry.SaveAnalysis(context.Background(), "dQw4w9WgXcQ", &models.MapVisualization{
		VideoID: "dQw4w9WgXcQ",
		Routes: []models.RouteItem{
			{Location: "九份老街", Coordinates: []float64{121.8443, 25.1096}, Tags: []string{"景點"}},
		},
	})

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/locations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var vis models.MapVisualization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vis))
	assert.Equal(t, "dQw4w9WgXcQ", vis.VideoID)
	require.Len(t, vis.Routes, 1)
	assert.Equal(t, "九份老街", vis.Routes[0].Location)
}

func TestVideoLocationsMissing(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/locations", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "找不到影片地點資料: dQw4w9WgXcQ")
}

func TestCheckVideoSubtitlesReturnsProbe(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/subtitles/check", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SubtitleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Available)
	assert.Equal(t, []string{"zh-TW"}, status.ManualSubtitles)
	assert.InDelta(t, 0.95, status.ConfidenceScore, 1e-9)
}

func TestCheckVideoSubtitlesReportsProbeFailure(t *testing.T) {
	prober := proberFunc(func(context.Context, string) (*models.SubtitleStatus, error) {
		return nil, errors.New("upstream 403")
	})
	ts := newTestServer(t, prober)

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/subtitles/check", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "無法檢查影片字幕狀態: upstream 403")
}

func TestJobByVideoReturnsMappedJob(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))
	ctx := context.Background()
	phase := models.PhaseSummary
	ts.registry.SaveJob(ctx, &models.Job{
		JobID:    "22222222-2222-2222-2222-222222222222",
		VideoID:  "dQw4w9WgXcQ",
		Status:   models.JobStatusRunning,
		Phase:    &phase,
		Progress: 45,
	}, 0)
	ts.registry.SaveMapping(ctx, "dQw4w9WgXcQ", "22222222-2222-2222-2222-222222222222", 0)

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/job", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", job.JobID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 45, job.Progress)
}

func TestJobByVideoDistinguishesNotFoundCases(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/job", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "找不到針對影片的進行中任務: dQw4w9WgXcQ")

	// Mapping present but the job record already aged out.
	ts.registry.SaveMapping(context.Background(), "dQw4w9WgXcQ", "ghost-job", 0)
	rec = ts.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/job", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "找不到 job: ghost-job")
}
