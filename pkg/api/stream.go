package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
)

// Event types emitted on the job progress stream.
const (
	eventPhaseUpdate = "phase_update"
	eventCompleted   = "completed"
	eventError       = "error"
	eventHeartbeat   = "heartbeat"
)

// streamJobEvents handles GET /api/jobs/:job_id/stream. Each poll tick reads
// the job record and emits, in order: a phase_update when phase or progress
// moved since the last emission, then either the terminal event (completed,
// or error for failed and canceled jobs) which closes the stream, or a
// heartbeat. A missing record emits one error event and closes; the client
// disconnecting reaps the loop through the request context.
func (s *Server) streamJobEvents(c *gin.Context) {
	jobID := c.Param("job_id")

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	interval := s.sse.PollInterval.Duration
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	registry := s.service.Registry()

	var (
		emitted      bool
		lastPhase    *models.JobPhase
		lastProgress int
	)

	for {
		job, err := registry.Job(ctx, jobID)
		if err != nil {
			msg := "Job not found"
			if !errors.Is(err, services.ErrJobNotFound) {
				s.logger.Error("Event stream read failed", "job_id", jobID, "error", err)
				msg = err.Error()
			}
			s.writeEvent(c, jobID, eventError, gin.H{"message": msg})
			return
		}

		if !emitted || !phaseEqual(job.Phase, lastPhase) || job.Progress != lastProgress {
			s.writeEvent(c, jobID, eventPhaseUpdate, gin.H{"phase": job.Phase, "progress": job.Progress})
			emitted = true
			lastPhase = job.Phase
			lastProgress = job.Progress
		}

		switch job.Status {
		case models.JobStatusDone:
			s.writeEvent(c, jobID, eventCompleted, gin.H{"job_id": jobID, "progress": 100})
			return
		case models.JobStatusFailed, models.JobStatusCanceled:
			s.writeEvent(c, jobID, eventError, gin.H{"job_id": jobID, "status": job.Status})
			return
		}

		s.writeEvent(c, jobID, eventHeartbeat, gin.H{"timestamp": epochSeconds(time.Now()), "status": job.Status})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// writeEvent frames one server-sent event and flushes it. The id field
// carries the job id so reconnecting clients can tell streams apart.
func (s *Server) writeEvent(c *gin.Context, jobID, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to encode stream event", "job_id", jobID, "event", event, "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\nid: %s\n\n", event, raw, jobID)
	c.Writer.Flush()
}

// phaseEqual compares two optional phases.
func phaseEqual(a, b *models.JobPhase) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// epochSeconds renders a wall-clock instant as unix seconds with sub-second
// precision, the shape heartbeat consumers expect.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1e3
}
