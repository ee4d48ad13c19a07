package config

import "time"

// WorkflowConfig parameterizes the three-phase analysis pipeline.
type WorkflowConfig struct {
	// GuardrailRetries is how many times a phase re-runs after its output
	// fails validation before the job fails.
	GuardrailRetries int `yaml:"guardrail_retries"`

	// SearchSubject is the default analysis focus passed to the pipeline
	// when the submission does not name one.
	SearchSubject string `yaml:"search_subject"`

	// SummaryChunkRunes is the subtitle chunk size for the summary phase.
	SummaryChunkRunes int `yaml:"summary_chunk_runes"`
}

// DefaultWorkflowConfig returns the built-in workflow defaults.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		GuardrailRetries:  3,
		SearchSubject:     "找出景點、餐廳、交通方式與住宿的地理位置",
		SummaryChunkRunes: 4000,
	}
}

// GeocodeConfig parameterizes the Google Geocoding client.
type GeocodeConfig struct {
	// Rate is the steady-state request rate per second.
	Rate float64 `yaml:"rate"`

	// Burst is the token bucket capacity.
	Burst int `yaml:"burst"`

	// Timeout bounds a single geocoding request.
	Timeout Duration `yaml:"timeout"`

	// Language is the preferred response language.
	Language string `yaml:"language"`
}

// DefaultGeocodeConfig returns the built-in geocoding defaults, sized for
// the free Google quota.
func DefaultGeocodeConfig() *GeocodeConfig {
	return &GeocodeConfig{
		Rate:     5,
		Burst:    10,
		Timeout:  Dur(10 * time.Second),
		Language: "zh-TW",
	}
}
