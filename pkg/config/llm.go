package config

import "time"

// LLMConfig parameterizes the OpenAI-compatible chat completion client.
// The API key is read from the OPENAI_API_KEY environment variable at call
// time, never from YAML.
type LLMConfig struct {
	// BaseURL is the API root; any OpenAI-compatible endpoint works.
	BaseURL string `yaml:"base_url"`

	// Model names the chat completion model.
	Model string `yaml:"model"`

	// Timeout bounds a single completion request.
	Timeout Duration `yaml:"timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: Dur(120 * time.Second),
	}
}
