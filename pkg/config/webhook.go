package config

import "time"

// WebhookConfig registers one delivery endpoint. Events left empty means the
// endpoint receives every event type.
type WebhookConfig struct {
	// URL is the delivery endpoint.
	URL string `yaml:"url"`

	// Secret, when set, signs each payload with HMAC-SHA256; the signature
	// travels in the X-Webhook-Signature header.
	Secret string `yaml:"secret"`

	// Events filters which event names this endpoint receives.
	Events []string `yaml:"events"`

	// Headers are extra headers sent with every delivery.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds a single delivery attempt.
	Timeout Duration `yaml:"timeout"`

	// RetryCount is how many times a failed delivery is retried; total
	// attempts are RetryCount+1.
	RetryCount int `yaml:"retry_count"`

	// RetryDelay is the fixed wait between attempts.
	RetryDelay Duration `yaml:"retry_delay"`

	// Active toggles the endpoint. Unset means active.
	Active *bool `yaml:"active"`
}

// IsActive reports whether deliveries should go to this endpoint; a nil
// Active flag counts as on.
func (w *WebhookConfig) IsActive() bool {
	return w.Active == nil || *w.Active
}

// normalizeWebhook fills per-endpoint defaults for fields the YAML left out.
func normalizeWebhook(w *WebhookConfig) {
	if w.Timeout.Duration <= 0 {
		w.Timeout = Dur(30 * time.Second)
	}
	if w.RetryCount <= 0 {
		w.RetryCount = 3
	}
	if w.RetryDelay.Duration <= 0 {
		w.RetryDelay = Dur(5 * time.Second)
	}
}
