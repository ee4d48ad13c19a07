package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailtag/trailtag/pkg/models"
)

func TestJobStatusReturnsRecord(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))
	now := time.Now().UTC()
	phase := models.PhaseSummary
	ts.registry.SaveJob(context.Background(), &models.Job{
		JobID:     "11111111-1111-1111-1111-111111111111",
		VideoID:   "dQw4w9WgXcQ",
		Status:    models.JobStatusRunning,
		Phase:     &phase,
		Progress:  45,
		CreatedAt: now,
		UpdatedAt: now,
	}, 0)

	rec := ts.do(http.MethodGet, "/api/jobs/11111111-1111-1111-1111-111111111111", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", job.JobID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.Phase)
	assert.Equal(t, models.PhaseSummary, *job.Phase)
	assert.Equal(t, 45, job.Progress)
}

func TestJobStatusCarriesFailureDetails(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))
	phase := models.PhaseGeocode
	ts.registry.SaveJob(context.Background(), &models.Job{
		JobID:    "failed-job",
		VideoID:  "dQw4w9WgXcQ",
		Status:   models.JobStatusFailed,
		Phase:    &phase,
		Progress: 0,
		Error:    &models.JobError{Type: "validation_error", Message: "欄位 'subtitles' 缺失或為空"},
	}, 0)

	rec := ts.do(http.MethodGet, "/api/jobs/failed-job", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "validation_error", job.Error.Type)
	assert.Equal(t, "欄位 'subtitles' 缺失或為空", job.Error.Message)
}

func TestJobStatusMissing(t *testing.T) {
	ts := newTestServer(t, staticProber(availableStatus()))

	rec := ts.do(http.MethodGet, "/api/jobs/ghost-job", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "任務不存在: ghost-job")
}
