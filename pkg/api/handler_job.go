package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trailtag/trailtag/pkg/services"
)

// jobStatus handles GET /api/jobs/:job_id. Terminal records age out on their
// ttl, so a finished job eventually answers 404 here by design.
func (s *Server) jobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := s.service.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		if !errors.Is(err, services.ErrJobNotFound) {
			s.logger.Error("Failed to load job record", "job_id", jobID, "error", err)
		}
		detail(c, http.StatusNotFound, fmt.Sprintf("任務不存在: %s", jobID))
		return
	}
	c.JSON(http.StatusOK, job.Response())
}
