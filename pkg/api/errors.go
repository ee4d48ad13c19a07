package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trailtag/trailtag/pkg/services"
)

// detail writes the single-field error body used by every plain-text
// rejection. Clients read the message out of "detail".
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// invalidURLDetail builds the submission rejection for URLs no pattern could
// parse. The wrapped error already names the extraction failure; the suffix
// tells the user which forms work.
func invalidURLDetail(err error) string {
	return fmt.Sprintf("無效的 YouTube URL：%s。請確認 URL 格式正確，支援的格式包括：youtube.com/watch?v=VIDEO_ID 或 youtu.be/VIDEO_ID", err)
}

// respondAnalyzeError maps submission failures onto the wire contract: bad
// URLs get 400, videos without subtitles get the structured 422 body, probe
// failures get 500. Anything else is an internal error.
func (s *Server) respondAnalyzeError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidVideoURL) {
		detail(c, http.StatusBadRequest, invalidURLDetail(err))
		return
	}

	var noSubs *services.NoSubtitlesError
	if errors.As(err, &noSubs) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"message":         "此影片沒有可用的字幕或自動字幕，無法進行分析",
			"suggestion":      "請選擇有字幕的影片，或者等待 YouTube 生成自動字幕後再試",
			"video_id":        noSubs.VideoID,
			"subtitle_status": noSubs.Status,
		})
		return
	}

	var probe *services.SubtitleCheckError
	if errors.As(err, &probe) {
		detail(c, http.StatusInternalServerError, fmt.Sprintf("無法檢查影片字幕狀態: %v", probe.Cause))
		return
	}

	s.logger.Error("Unexpected analyze error", "error", err)
	detail(c, http.StatusInternalServerError, "internal server error")
}
