package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
)

// analyzeVideo handles POST /api/videos/analyze. A video with a finished
// analysis comes back as a synthetic done job; everything else is queued.
func (s *Server) analyzeVideo(c *gin.Context) {
	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.service.Analyze(c.Request.Context(), req)
	if err != nil {
		s.respondAnalyzeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Response())
}

// videoLocations handles GET /api/videos/:video_id/locations.
func (s *Server) videoLocations(c *gin.Context) {
	videoID := c.Param("video_id")
	vis, err := s.service.VideoLocations(c.Request.Context(), videoID)
	if err != nil {
		if !errors.Is(err, services.ErrAnalysisNotFound) {
			s.logger.Error("Failed to load analysis", "video_id", videoID, "error", err)
		}
		detail(c, http.StatusNotFound, fmt.Sprintf("找不到影片地點資料: %s", videoID))
		return
	}
	c.JSON(http.StatusOK, vis)
}

// checkVideoSubtitles handles GET /api/videos/:video_id/subtitles/check.
// Absence of subtitles is a 200 with available=false; only a failed probe
// is an error.
func (s *Server) checkVideoSubtitles(c *gin.Context) {
	videoID := c.Param("video_id")
	status, err := s.service.CheckSubtitles(c.Request.Context(), videoID)
	if err != nil {
		msg := err.Error()
		var probe *services.SubtitleCheckError
		if errors.As(err, &probe) {
			msg = probe.Cause.Error()
		}
		detail(c, http.StatusInternalServerError, "無法檢查影片字幕狀態: "+msg)
		return
	}
	c.JSON(http.StatusOK, status)
}

// jobByVideo handles GET /api/videos/:video_id/job. The two not-found cases
// carry distinct messages: one for a video with no mapping at all, one for a
// mapping whose job record has already aged out.
func (s *Server) jobByVideo(c *gin.Context) {
	videoID := c.Param("video_id")
	job, err := s.service.JobByVideo(c.Request.Context(), videoID)
	if err != nil {
		var missing *services.MappedJobMissingError
		if errors.As(err, &missing) {
			detail(c, http.StatusNotFound, fmt.Sprintf("找不到 job: %s", missing.JobID))
			return
		}
		detail(c, http.StatusNotFound, fmt.Sprintf("找不到針對影片的進行中任務: %s", videoID))
		return
	}
	c.JSON(http.StatusOK, job.Response())
}
