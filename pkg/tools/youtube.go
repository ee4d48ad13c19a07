// Package tools holds the external service clients used by the analysis
// pipeline: the YouTube metadata client and the Google geocoder.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/models"
)

const (
	youtubeDataAPIBase = "https://www.googleapis.com/youtube/v3"
	timedtextBase      = "https://www.youtube.com/api/timedtext"

	// subtitleCheckTTL bounds how long a probe result is reused before the
	// caption inventory is fetched again.
	subtitleCheckTTL = time.Hour

	youtubeTimeout = 10 * time.Second
)

// preferredLangs orders subtitle languages by usefulness to the analysis.
// The same set drives the confidence bump for recognized languages.
var preferredLangs = []string{"zh-TW", "zh-Hant", "zh-CN", "zh-Hans", "en"}

// ErrMissingAPIKey is returned when GOOGLE_API_KEY is not set in the
// environment at call time.
var ErrMissingAPIKey = errors.New("GOOGLE_API_KEY is not set")

// YouTubeClient fetches video metadata and caption inventories from the
// YouTube Data API v3. It caches subtitle probes under
// subtitle_check:{video_id} so repeated availability checks for the same
// video do not burn API quota.
type YouTubeClient struct {
	client        *resty.Client
	probes        *cache.Cache
	apiBase       string
	timedtextBase string
	logger        *slog.Logger
}

// NewYouTubeClient builds a client backed by the given probe cache. The
// cache may be nil, which disables probe caching.
func NewYouTubeClient(probes *cache.Cache) *YouTubeClient {
	return &YouTubeClient{
		client:        resty.New().SetTimeout(youtubeTimeout),
		probes:        probes,
		apiBase:       youtubeDataAPIBase,
		timedtextBase: timedtextBase,
		logger:        slog.Default().With("component", "youtube_client"),
	}
}

// videosListResponse is the videos.list shape, reduced to the fields used.
type videosListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			PublishedAt time.Time `json:"publishedAt"`
			Title       string    `json:"title"`
			Description string    `json:"description"`
			Tags        []string  `json:"tags"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// captionsListResponse is the captions.list shape, reduced to the fields used.
type captionsListResponse struct {
	Items []struct {
		Snippet struct {
			Language  string `json:"language"`
			TrackKind string `json:"trackKind"`
		} `json:"snippet"`
	} `json:"items"`
}

// CheckSubtitles reports subtitle availability for a video. Results are
// served from the probe cache for an hour; selected_lang stays unset until a
// subtitle text is actually fetched during a metadata run.
func (c *YouTubeClient) CheckSubtitles(ctx context.Context, videoID string) (*models.SubtitleStatus, error) {
	cacheKey := "subtitle_check:" + videoID
	if c.probes != nil {
		if raw, ok := c.probes.Get(ctx, cacheKey, nil); ok {
			if status := decodeSubtitleStatus(raw); status != nil {
				c.logger.Debug("Subtitle probe served from cache", "video_id", videoID)
				return status, nil
			}
		}
	}

	manual, auto, err := c.captionTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}

	status := &models.SubtitleStatus{
		Available:       len(manual)+len(auto) > 0,
		ManualSubtitles: manual,
		AutoCaptions:    auto,
		ConfidenceScore: subtitleConfidence(manual, auto),
	}
	c.logger.Info("Subtitle probe finished",
		"video_id", videoID,
		"available", status.Available,
		"manual", len(manual),
		"auto", len(auto),
		"confidence", status.ConfidenceScore)

	if c.probes != nil {
		c.probes.Set(ctx, cacheKey, status, nil, subtitleCheckTTL)
	}
	return status, nil
}

// Metadata fetches the full metadata-phase payload for a video: snippet
// facts, caption inventory and, best-effort, the subtitle text for the
// preferred language. A missing subtitle text is not an error; the pipeline
// guardrail decides whether the result is usable.
func (c *YouTubeClient) Metadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var videos videosListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part": "snippet,contentDetails",
			"id":   videoID,
			"key":  apiKey,
		}).
		SetResult(&videos).
		Get(c.apiBase + "/videos")
	if err != nil {
		return nil, fmt.Errorf("videos.list failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("videos.list returned status %d", resp.StatusCode())
	}
	if len(videos.Items) == 0 {
		return nil, fmt.Errorf("video not found: %s", videoID)
	}
	item := videos.Items[0]

	status, err := c.CheckSubtitles(ctx, videoID)
	if err != nil {
		return nil, err
	}

	metadata := &models.VideoMetadata{
		URL:                  "https://www.youtube.com/watch?v=" + videoID,
		VideoID:              videoID,
		Title:                item.Snippet.Title,
		Description:          item.Snippet.Description,
		DurationSeconds:      parseISODuration(item.ContentDetails.Duration),
		Keywords:             item.Snippet.Tags,
		SubtitleAvailability: status,
	}
	if !item.Snippet.PublishedAt.IsZero() {
		published := item.Snippet.PublishedAt
		metadata.PublishDate = &published
	}

	lang, auto := selectSubtitleLang(status)
	if lang == "" {
		c.logger.Info("No subtitle track to fetch", "video_id", videoID)
		return metadata, nil
	}
	text, err := c.fetchSubtitleText(ctx, videoID, lang, auto)
	if err != nil {
		c.logger.Warn("Subtitle text fetch failed", "video_id", videoID, "lang", lang, "error", err)
		return metadata, nil
	}
	metadata.Subtitles = text
	metadata.SubtitleLang = &lang
	status.SelectedLang = &lang
	return metadata, nil
}

// captionTracks lists the caption inventory, split into manual tracks and
// auto-generated (trackKind=asr) tracks.
func (c *YouTubeClient) captionTracks(ctx context.Context, videoID string) (manual, auto []string, err error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, nil, ErrMissingAPIKey
	}

	var captions captionsListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part":    "snippet",
			"videoId": videoID,
			"key":     apiKey,
		}).
		SetResult(&captions).
		Get(c.apiBase + "/captions")
	if err != nil {
		return nil, nil, fmt.Errorf("captions.list failed: %w", err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("captions.list returned status %d", resp.StatusCode())
	}

	manual = []string{}
	auto = []string{}
	for _, track := range captions.Items {
		if track.Snippet.Language == "" {
			continue
		}
		if track.Snippet.TrackKind == "asr" {
			auto = append(auto, track.Snippet.Language)
		} else {
			manual = append(manual, track.Snippet.Language)
		}
	}
	return manual, auto, nil
}

// fetchSubtitleText downloads the subtitle text for one language from the
// timedtext endpoint. Auto-generated tracks need kind=asr.
func (c *YouTubeClient) fetchSubtitleText(ctx context.Context, videoID, lang string, auto bool) (string, error) {
	params := map[string]string{
		"v":    videoID,
		"lang": lang,
		"fmt":  "vtt",
	}
	if auto {
		params["kind"] = "asr"
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.timedtextBase)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("timedtext returned status %d", resp.StatusCode())
	}
	body := string(resp.Body())
	if body == "" {
		return "", errors.New("timedtext returned an empty body")
	}
	return body, nil
}

// subtitleConfidence scores subtitle quality. Manual tracks score 0.9, auto
// captions 0.7, and either gets +0.05 when a recognized language is present.
func subtitleConfidence(manual, auto []string) float64 {
	switch {
	case len(manual) > 0:
		if hasPreferredLang(manual) {
			return 0.95
		}
		return 0.9
	case len(auto) > 0:
		if hasPreferredLang(auto) {
			return 0.75
		}
		return 0.7
	default:
		return 0.0
	}
}

func hasPreferredLang(langs []string) bool {
	for _, lang := range langs {
		for _, preferred := range preferredLangs {
			if lang == preferred {
				return true
			}
		}
	}
	return false
}

// selectSubtitleLang picks the track to fetch. Manual tracks shadow auto
// captions entirely; within a pool the preferred order wins, then the first
// listed track. Returns the language and whether it is auto-generated.
func selectSubtitleLang(status *models.SubtitleStatus) (lang string, auto bool) {
	pool := status.ManualSubtitles
	isAuto := false
	if len(pool) == 0 {
		pool = status.AutoCaptions
		isAuto = true
	}
	if len(pool) == 0 {
		return "", false
	}
	for _, preferred := range preferredLangs {
		for _, available := range pool {
			if available == preferred {
				return preferred, isAuto
			}
		}
	}
	return pool[0], isAuto
}

// decodeSubtitleStatus rebuilds a SubtitleStatus from a cached probe value.
func decodeSubtitleStatus(raw any) *models.SubtitleStatus {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var status models.SubtitleStatus
	if err := json.Unmarshal(b, &status); err != nil {
		return nil
	}
	return &status
}

// parseISODuration converts a YouTube ISO 8601 duration (PT1H2M3S, P1DT2H)
// to whole seconds. Malformed input yields 0.
func parseISODuration(s string) int {
	if len(s) < 2 || s[0] != 'P' {
		return 0
	}
	total := 0
	value := 0
	inTime := false
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
			value = value*10 + int(r-'0')
		case r == 'T':
			inTime = true
			value = 0
		case r == 'D':
			total += value * 86400
			value = 0
		case r == 'H':
			total += value * 3600
			value = 0
		case r == 'M':
			if inTime {
				total += value * 60
			}
			value = 0
		case r == 'S':
			total += value
			value = 0
		default:
			return 0
		}
	}
	return total
}
