// Package llm provides the chat-completion client used by the analysis
// pipeline's summary phase.
package llm

import (
	"context"
	"errors"
)

// Message roles understood by OpenAI-compatible endpoints.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the chat-completion contract the pipeline depends on.
type Client interface {
	// Chat sends the conversation and returns the assistant's reply.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ErrMissingAPIKey is returned when OPENAI_API_KEY is not set in the
// environment at call time.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

// ErrEmptyCompletion is returned when the endpoint answers without choices.
var ErrEmptyCompletion = errors.New("chat completion returned no choices")
