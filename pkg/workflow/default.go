package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/llm"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
)

// Guardrail messages, surfaced verbatim in failed job records.
const (
	msgNoStructuredOutput = "無法取得結構化輸出 (pydantic/json_dict) 或輸出為空"
	msgEmptySubtitles     = "欄位 'subtitles' 缺失或為空"
)

// summarySystemPrompt instructs the model to extract places as strict JSON.
const summarySystemPrompt = `你是旅遊影片內容分析助手。根據字幕內容，依照指定的分析主題找出具體地點。
只回覆 JSON，格式為 {"places":[{"name","country","city","description","video_timestamp","tags"}]}。
video_timestamp 是該地點在字幕中首次出現的秒數；tags 描述地點類型（景點、餐廳、住宿、交通）。
找不到任何地點時回覆 {"places":[]}。`

// MetadataFetcher is the metadata-phase tool contract, satisfied by
// tools.YouTubeClient.
type MetadataFetcher interface {
	Metadata(ctx context.Context, videoID string) (*models.VideoMetadata, error)
}

// PlaceGeocoder is the geocode-phase tool contract, satisfied by
// tools.Geocoder. A nil result means the place stays on the map without
// coordinates.
type PlaceGeocoder interface {
	Geocode(ctx context.Context, country, city, place string) []float64
}

// DefaultPipeline is the production pipeline: YouTube metadata under the
// subtitle guardrail, chunked LLM topic summary, per-place geocoding.
type DefaultPipeline struct {
	metadata  MetadataFetcher
	geocoder  PlaceGeocoder
	chat      llm.Client
	retries   int
	chunkSize int
	logger    *slog.Logger
}

// NewDefaultPipeline wires the production pipeline from its tool clients.
func NewDefaultPipeline(metadata MetadataFetcher, geocoder PlaceGeocoder, chat llm.Client, cfg *config.WorkflowConfig) *DefaultPipeline {
	if metadata == nil {
		panic("NewDefaultPipeline: metadata fetcher must not be nil")
	}
	if geocoder == nil {
		panic("NewDefaultPipeline: geocoder must not be nil")
	}
	if chat == nil {
		panic("NewDefaultPipeline: llm client must not be nil")
	}
	if cfg == nil {
		panic("NewDefaultPipeline: cfg must not be nil")
	}
	// Direct constructions bypass the config loader's normalization.
	retries := cfg.GuardrailRetries
	if retries < 0 {
		retries = 0
	}
	chunkSize := cfg.SummaryChunkRunes
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	return &DefaultPipeline{
		metadata:  metadata,
		geocoder:  geocoder,
		chat:      chat,
		retries:   retries,
		chunkSize: chunkSize,
		logger:    slog.Default().With("component", "analysis_pipeline"),
	}
}

// place is one location the summary phase extracted from the subtitles.
type place struct {
	Name           string   `json:"name"`
	Country        string   `json:"country"`
	City           string   `json:"city"`
	Description    string   `json:"description,omitempty"`
	VideoTimestamp int      `json:"video_timestamp,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// chunkReply is the JSON contract the summary prompt asks the model for.
type chunkReply struct {
	Places []place `json:"places"`
}

// Run executes the three phases in order, reporting entry milestones and
// chunk-level summary progress through the sink.
func (p *DefaultPipeline) Run(ctx context.Context, in Inputs, sink ProgressSink) (*Result, error) {
	log := p.logger.With("job_id", in.JobID, "video_id", in.VideoID)

	sink(10, models.PhaseMetadata)
	metadata, err := p.runMetadata(ctx, in.VideoID, log)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sink(30, models.PhaseSummary)
	places, err := p.runSummary(ctx, in, metadata, sink, log)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sink(70, models.PhaseGeocode)
	vis, err := p.runGeocode(ctx, in, places, log)
	if err != nil {
		return nil, err
	}

	return &Result{
		Metadata:      metadata,
		TopicSummary:  topicSummary(in.SearchSubject, places),
		Visualization: vis,
	}, nil
}

// runMetadata fetches video metadata under the guardrail retry loop. A fetch
// that errors counts as a missing structured output and is retried like any
// other guardrail rejection.
func (p *DefaultPipeline) runMetadata(ctx context.Context, videoID string, log *slog.Logger) (*models.VideoMetadata, error) {
	attempts := p.retries + 1
	var field, msg string
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metadata, err := p.metadata.Metadata(ctx, videoID)
		if err != nil {
			log.Warn("Metadata fetch failed", "attempt", attempt, "error", err)
		}
		field, msg = validateMetadata(metadata, err)
		if msg == "" {
			log.Info("Metadata ready", "title", metadata.Title, "subtitle_chars", len(metadata.Subtitles))
			return metadata, nil
		}
		log.Warn("Metadata guardrail rejected output", "attempt", attempt, "reason", msg)
	}
	return nil, services.NewValidationError(field, msg)
}

// validateMetadata is the metadata guardrail: the fetch must produce a
// structured result carrying subtitle text. A panic inside validation is
// reported as the guardrail exception message.
func validateMetadata(metadata *models.VideoMetadata, fetchErr error) (field, msg string) {
	defer func() {
		if r := recover(); r != nil {
			field, msg = "guardrail", fmt.Sprintf("驗證過程發生例外: %v", r)
		}
	}()
	if fetchErr != nil || metadata == nil {
		return "output", msgNoStructuredOutput
	}
	if strings.TrimSpace(metadata.Subtitles) == "" {
		return "subtitles", msgEmptySubtitles
	}
	return "", ""
}

// runSummary extracts places from the subtitles chunk by chunk, interpolating
// progress across the 30→70 span. Failed chunks are tolerated until every
// chunk has failed.
func (p *DefaultPipeline) runSummary(ctx context.Context, in Inputs, metadata *models.VideoMetadata, sink ProgressSink, log *slog.Logger) ([]place, error) {
	chunks := chunkRunes(metadata.Subtitles, p.chunkSize)

	var places []place
	seen := map[string]bool{}
	failures := 0
	var lastErr error

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := p.summarizeChunk(ctx, in.SearchSubject, metadata.Title, chunk)
		if err != nil {
			failures++
			lastErr = err
			log.Warn("Summary chunk failed", "chunk", i+1, "chunks", len(chunks), "error", err)
		} else {
			for _, pl := range found {
				key := strings.ToLower(strings.TrimSpace(pl.Name))
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				places = append(places, pl)
			}
		}
		sink(30+(i+1)*40/len(chunks), models.PhaseSummary)
	}

	if len(chunks) > 0 && failures == len(chunks) {
		return nil, fmt.Errorf("summary failed for all %d chunks: %w", len(chunks), lastErr)
	}
	log.Info("Summary finished", "chunks", len(chunks), "chunk_failures", failures, "places", len(places))
	return places, nil
}

// summarizeChunk asks the model for the places one subtitle chunk mentions.
func (p *DefaultPipeline) summarizeChunk(ctx context.Context, subject, title, chunk string) ([]place, error) {
	prompt := fmt.Sprintf("分析主題：%s\n影片標題：%s\n\n字幕內容：\n%s", subject, title, chunk)
	reply, err := p.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summarySystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, err
	}
	return parsePlaces(reply)
}

// runGeocode resolves each place and assembles the map artifact. Unresolved
// coordinates stay on the route as location-only items; an artifact without
// a single route fails the run. Retrying an empty artifact is pointless
// because its input is fixed for the run, so this guardrail fails fast.
func (p *DefaultPipeline) runGeocode(ctx context.Context, in Inputs, places []place, log *slog.Logger) (*models.MapVisualization, error) {
	routes := make([]models.RouteItem, 0, len(places))
	resolved := 0
	for _, pl := range places {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		coords := p.geocoder.Geocode(ctx, pl.Country, pl.City, pl.Name)
		if coords != nil {
			resolved++
		}
		item := models.RouteItem{
			Location:    pl.Name,
			Coordinates: coords,
			Description: pl.Description,
			Timecode:    timecode(pl.VideoTimestamp),
			Tags:        pl.Tags,
		}
		if len(pl.Tags) > 0 {
			item.Marker = pl.Tags[0]
		}
		routes = append(routes, item)
	}

	if len(routes) == 0 {
		log.Warn("Route guardrail rejected empty artifact")
		return nil, services.NewValidationError("routes", msgNoStructuredOutput)
	}

	log.Info("Geocoding finished", "routes", len(routes), "resolved", resolved)
	return &models.MapVisualization{VideoID: in.VideoID, Routes: routes}, nil
}

// parsePlaces decodes a model reply, tolerating markdown code fences around
// the JSON body.
func parsePlaces(reply string) ([]place, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}
	var parsed chunkReply
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable summary reply: %w", err)
	}
	return parsed.Places, nil
}

// chunkRunes splits text on rune boundaries so multibyte subtitles never
// split mid-character.
func chunkRunes(text string, size int) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// timecode renders seconds as the subtitle timestamp format HH:MM:SS,mmm.
func timecode(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d:%02d,000", seconds/3600, seconds/60%60, seconds%60)
}

// topicSummary shapes the stored summary artifact: the analysis subject plus
// one item per extracted place.
func topicSummary(subject string, places []place) map[string]any {
	items := make([]map[string]any, 0, len(places))
	for _, pl := range places {
		item := map[string]any{"name": pl.Name}
		if pl.VideoTimestamp > 0 {
			item["video_timestamp"] = pl.VideoTimestamp
		}
		if pl.Description != "" {
			item["context"] = pl.Description
		}
		extra := map[string]any{}
		if pl.Country != "" {
			extra["country"] = pl.Country
		}
		if pl.City != "" {
			extra["city"] = pl.City
		}
		if len(pl.Tags) > 0 {
			extra["tags"] = pl.Tags
		}
		if len(extra) > 0 {
			item["extra_info"] = extra
		}
		items = append(items, item)
	}
	return map[string]any{"topic": subject, "summary_items": items}
}
