package workflow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/llm"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/services"
)

type fetcherFunc func(ctx context.Context, videoID string) (*models.VideoMetadata, error)

func (f fetcherFunc) Metadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	return f(ctx, videoID)
}

type geocoderFunc func(ctx context.Context, country, city, place string) []float64

func (f geocoderFunc) Geocode(ctx context.Context, country, city, place string) []float64 {
	return f(ctx, country, city, place)
}

type chatFunc func(ctx context.Context, messages []llm.Message) (string, error)

func (f chatFunc) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return f(ctx, messages)
}

type sinkCall struct {
	progress int
	phase    models.JobPhase
}

func pipelineInputs() Inputs {
	return Inputs{JobID: "job-1", VideoID: "dQw4w9WgXcQ", SearchSubject: "找出景點"}
}

func subtitledMetadata() *models.VideoMetadata {
	return &models.VideoMetadata{
		VideoID:   "dQw4w9WgXcQ",
		Title:     "環島 Vlog",
		Subtitles: "第一天我們去了台北101，看完夜景後搭車到九份老街吃芋圓。",
	}
}

const twoPlacesReply = `{"places":[
	{"name":"台北101","country":"台灣","city":"台北市","description":"觀景台看夜景","video_timestamp":95,"tags":["景點"]},
	{"name":"九份老街","country":"台灣","city":"新北市","tags":["美食","景點"]}
]}`

func staticFetcher(metadata *models.VideoMetadata) fetcherFunc {
	return func(context.Context, string) (*models.VideoMetadata, error) { return metadata, nil }
}

func staticChat(reply string) chatFunc {
	return func(context.Context, []llm.Message) (string, error) { return reply, nil }
}

func noCoords(context.Context, string, string, string) []float64 { return nil }

func newTestPipeline(fetch fetcherFunc, geo geocoderFunc, chat chatFunc, mutate func(*config.WorkflowConfig)) *DefaultPipeline {
	cfg := config.DefaultWorkflowConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewDefaultPipeline(fetch, geo, chat, cfg)
}

func TestPipelineRunsAllPhases(t *testing.T) {
	geo := geocoderFunc(func(_ context.Context, country, city, place string) []float64 {
		assert.Equal(t, "台灣", country)
		if place == "台北101" {
			assert.Equal(t, "台北市", city)
			return []float64{121.5645, 25.0340}
		}
		return nil
	})
	p := newTestPipeline(staticFetcher(subtitledMetadata()), geo, staticChat(twoPlacesReply), nil)

	var calls []sinkCall
	sink := func(progress int, phase models.JobPhase) {
		calls = append(calls, sinkCall{progress, phase})
	}

	result, err := p.Run(context.Background(), pipelineInputs(), sink)
	require.NoError(t, err)

	require.NotNil(t, result.Visualization)
	require.Len(t, result.Visualization.Routes, 2)
	first := result.Visualization.Routes[0]
	assert.Equal(t, "台北101", first.Location)
	assert.Equal(t, []float64{121.5645, 25.0340}, first.Coordinates)
	assert.Equal(t, "00:01:35,000", first.Timecode)
	assert.Equal(t, "景點", first.Marker)
	assert.Equal(t, "觀景台看夜景", first.Description)

	second := result.Visualization.Routes[1]
	assert.Equal(t, "九份老街", second.Location)
	assert.Nil(t, second.Coordinates)
	assert.Empty(t, second.Timecode)
	assert.Equal(t, "美食", second.Marker)

	assert.Equal(t, "環島 Vlog", result.Metadata.Title)
	assert.Equal(t, "找出景點", result.TopicSummary["topic"])
	items, ok := result.TopicSummary["summary_items"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, items, 2)

	// One subtitle chunk: entry milestones plus the single chunk tick.
	assert.Equal(t, []sinkCall{
		{10, models.PhaseMetadata},
		{30, models.PhaseSummary},
		{70, models.PhaseSummary},
		{70, models.PhaseGeocode},
	}, calls)
}

func TestPipelineRetriesMetadataFetch(t *testing.T) {
	var calls atomic.Int32
	fetch := fetcherFunc(func(context.Context, string) (*models.VideoMetadata, error) {
		if calls.Add(1) < 3 {
			return nil, assert.AnError
		}
		return subtitledMetadata(), nil
	})
	p := newTestPipeline(fetch, noCoords, staticChat(twoPlacesReply), nil)

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPipelineFailsValidationWhenSubtitlesStayEmpty(t *testing.T) {
	var calls atomic.Int32
	fetch := fetcherFunc(func(context.Context, string) (*models.VideoMetadata, error) {
		calls.Add(1)
		return &models.VideoMetadata{VideoID: "dQw4w9WgXcQ", Title: "無字幕影片"}, nil
	})
	p := newTestPipeline(fetch, noCoords, staticChat(twoPlacesReply), func(cfg *config.WorkflowConfig) {
		cfg.GuardrailRetries = 2
	})

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.Error(t, err)
	require.True(t, services.IsValidationError(err))

	var ve *services.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "欄位 'subtitles' 缺失或為空", ve.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPipelineFailsValidationWhenFetchNeverSucceeds(t *testing.T) {
	fetch := fetcherFunc(func(context.Context, string) (*models.VideoMetadata, error) {
		return nil, assert.AnError
	})
	p := newTestPipeline(fetch, noCoords, staticChat(twoPlacesReply), nil)

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.Error(t, err)

	var ve *services.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "無法取得結構化輸出 (pydantic/json_dict) 或輸出為空", ve.Message)
}

func TestPipelineSummaryToleratesPartialChunkFailures(t *testing.T) {
	metadata := subtitledMetadata()
	metadata.Subtitles = strings.Repeat("台", 25)

	var chunkNo atomic.Int32
	chat := chatFunc(func(context.Context, []llm.Message) (string, error) {
		switch chunkNo.Add(1) {
		case 1:
			return `{"places":[{"name":"台北101","country":"台灣","city":"台北市"}]}`, nil
		case 2:
			return "", assert.AnError
		default:
			// Repeats the first place; dedupe keeps one.
			return `{"places":[{"name":"台北101","country":"台灣","city":"台北市"},{"name":"九份老街","country":"台灣","city":"新北市"}]}`, nil
		}
	})
	p := newTestPipeline(staticFetcher(metadata), noCoords, chat, func(cfg *config.WorkflowConfig) {
		cfg.SummaryChunkRunes = 10
	})

	var summaryTicks []int
	sink := func(progress int, phase models.JobPhase) {
		if phase == models.PhaseSummary && progress > 30 {
			summaryTicks = append(summaryTicks, progress)
		}
	}

	result, err := p.Run(context.Background(), pipelineInputs(), sink)
	require.NoError(t, err)
	require.Len(t, result.Visualization.Routes, 2)
	assert.Equal(t, []int{43, 56, 70}, summaryTicks)
}

func TestPipelineSummaryFailsWhenAllChunksFail(t *testing.T) {
	chat := chatFunc(func(context.Context, []llm.Message) (string, error) {
		return "", assert.AnError
	})
	p := newTestPipeline(staticFetcher(subtitledMetadata()), noCoords, chat, nil)

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary failed for all")
	assert.False(t, services.IsValidationError(err))
}

func TestPipelineRejectsArtifactWithoutRoutes(t *testing.T) {
	p := newTestPipeline(staticFetcher(subtitledMetadata()), noCoords, staticChat(`{"places":[]}`), nil)

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.Error(t, err)

	var ve *services.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "routes", ve.Field)
	assert.Equal(t, "無法取得結構化輸出 (pydantic/json_dict) 或輸出為空", ve.Message)
}

func TestPipelineSendsSubjectAndSubtitlesToModel(t *testing.T) {
	var got []llm.Message
	chat := chatFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		got = messages
		return twoPlacesReply, nil
	})
	p := newTestPipeline(staticFetcher(subtitledMetadata()), noCoords, chat, nil)

	_, err := p.Run(context.Background(), pipelineInputs(), func(int, models.JobPhase) {})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, llm.RoleSystem, got[0].Role)
	assert.Contains(t, got[0].Content, "places")
	assert.Equal(t, llm.RoleUser, got[1].Role)
	assert.Contains(t, got[1].Content, "找出景點")
	assert.Contains(t, got[1].Content, "台北101")
}

func TestPipelineObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(staticFetcher(subtitledMetadata()), noCoords, staticChat(twoPlacesReply), nil)
	_, err := p.Run(ctx, pipelineInputs(), func(int, models.JobPhase) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePlacesToleratesCodeFences(t *testing.T) {
	fenced := "```json\n" + twoPlacesReply + "\n```"
	places, err := parsePlaces(fenced)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "台北101", places[0].Name)

	_, err = parsePlaces("這不是 JSON")
	assert.Error(t, err)
}

func TestChunkRunes(t *testing.T) {
	assert.Equal(t, []string{"台北10", "1夜景"}, chunkRunes("台北101夜景", 4))
	assert.Equal(t, []string{"abcd"}, chunkRunes("abcd", 4))
	assert.Empty(t, chunkRunes("", 4))
}

func TestTimecode(t *testing.T) {
	assert.Equal(t, "", timecode(0))
	assert.Equal(t, "00:01:35,000", timecode(95))
	assert.Equal(t, "01:02:03,000", timecode(3723))
}
