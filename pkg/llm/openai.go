package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-resty/resty/v2"

	"github.com/trailtag/trailtag/pkg/config"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint. The
// API key is read from OPENAI_API_KEY at call time; base URL, model and
// timeout come from config.
type OpenAIClient struct {
	client *resty.Client
	cfg    *config.LLMConfig
	logger *slog.Logger
}

// NewOpenAIClient builds a client from the given config.
func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	if cfg == nil {
		panic("NewOpenAIClient: cfg must not be nil")
	}
	return &OpenAIClient{
		client: resty.New().SetTimeout(cfg.Timeout.Duration),
		cfg:    cfg,
		logger: slog.Default().With("component", "llm_client"),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements Client against {base_url}/chat/completions.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey).
		SetBody(chatRequest{Model: c.cfg.Model, Messages: messages}).
		SetResult(&out).
		SetError(&out).
		Post(c.cfg.BaseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("chat completion returned status %d: %s", resp.StatusCode(), out.Error.Message)
		}
		return "", fmt.Errorf("chat completion returned status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := out.Choices[0].Message.Content
	c.logger.Debug("Chat completion finished",
		"model", c.cfg.Model, "messages", len(messages), "reply_chars", len(content))
	return content, nil
}
