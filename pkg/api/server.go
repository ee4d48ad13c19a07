// Package api exposes the HTTP surface: analysis submission, job status
// reads, the per-job progress event stream, and the health and metrics
// endpoints. Handlers translate between HTTP and the analysis service; no
// job state lives here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/metrics"
	"github.com/trailtag/trailtag/pkg/services"
	"github.com/trailtag/trailtag/pkg/version"
	"github.com/trailtag/trailtag/pkg/webhook"
)

// Server holds the handlers behind the gin engine.
type Server struct {
	service *services.AnalysisService
	store   *cache.Cache
	hooks   *webhook.Notifier
	sse     *config.SSEConfig
	logger  *slog.Logger
}

// NewServer creates the API server. hooks may be nil when no webhooks are
// configured; a nil sse config falls back to the defaults.
func NewServer(service *services.AnalysisService, store *cache.Cache, hooks *webhook.Notifier, sse *config.SSEConfig) *Server {
	if service == nil {
		panic("NewServer: service must not be nil")
	}
	if store == nil {
		panic("NewServer: store must not be nil")
	}
	if sse == nil {
		sse = config.DefaultSSEConfig()
	}
	return &Server{
		service: service,
		store:   store,
		hooks:   hooks,
		sse:     sse,
		logger:  slog.Default().With("component", "api"),
	}
}

// Handler assembles the routed engine. The middleware order matters: the
// logger and metrics wrap everything including panics, which the recovery
// layer has already turned into 500s by the time they observe the response.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(requestLogger(s.logger), metricsMiddleware(), s.recoveryMiddleware(), corsMiddleware())

	api := engine.Group("/api")
	api.POST("/videos/analyze", s.analyzeVideo)
	api.GET("/videos/:video_id/locations", s.videoLocations)
	api.GET("/videos/:video_id/subtitles/check", s.checkVideoSubtitles)
	api.GET("/videos/:video_id/job", s.jobByVideo)
	api.GET("/jobs/:job_id", s.jobStatus)
	api.GET("/jobs/:job_id/stream", s.streamJobEvents)

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{})))

	return engine
}

// health reports liveness plus the cache degradation flag the extension
// checks before offering analysis.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
		"version":   version.Version,
		"degraded":  s.store.IsDegraded(),
	})
}
