// Package config provides YAML-plus-environment configuration with built-in
// defaults for every section. The file is optional: a missing config file
// means defaults plus environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when TRAILTAG_CONFIG is unset.
const DefaultConfigPath = "config/trailtag.yaml"

// Config is the umbrella over all sections. Sections are always non-nil
// after Initialize.
type Config struct {
	Server   *ServerConfig   `yaml:"server"`
	Logging  *LoggingConfig  `yaml:"logging"`
	Storage  *StorageConfig  `yaml:"storage"`
	Cache    *CacheConfig    `yaml:"cache"`
	Executor *ExecutorConfig `yaml:"executor"`
	Workflow *WorkflowConfig `yaml:"workflow"`
	Geocode  *GeocodeConfig  `yaml:"geocode"`
	LLM      *LLMConfig      `yaml:"llm"`
	SSE      *SSEConfig      `yaml:"sse"`
	Cleanup  *CleanupConfig  `yaml:"cleanup"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// DefaultConfig assembles the built-in defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Logging:  DefaultLoggingConfig(),
		Storage:  DefaultStorageConfig(),
		Cache:    DefaultCacheConfig(),
		Executor: DefaultExecutorConfig(),
		Workflow: DefaultWorkflowConfig(),
		Geocode:  DefaultGeocodeConfig(),
		LLM:      DefaultLLMConfig(),
		SSE:      DefaultSSEConfig(),
		Cleanup:  DefaultCleanupConfig(),
	}
}

// Initialize loads, merges, and validates the configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read the YAML file named by path (or TRAILTAG_CONFIG, or the default
//     location); a missing file is fine
//  3. Expand {{.VAR}} environment references in the file
//  4. Merge file values over defaults
//  5. Apply environment overrides (API_HOST, API_PORT, CREWAI_STORAGE_DIR,
//     REDIS_*)
//  6. Validate the result
func Initialize(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRAILTAG_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	if err := mergeFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	normalizeWebhooks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"addr", cfg.Server.Addr(),
		"storage_dir", cfg.Storage.Dir,
		"cache_backend", cfg.Cache.Backend,
		"max_concurrent_jobs", cfg.Executor.MaxConcurrentJobs,
		"webhooks", len(cfg.Webhooks))

	return cfg, nil
}

// mergeFile merges the YAML file at path over cfg. Absence of the file is
// logged and ignored; a present but unreadable or invalid file is an error.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No config file found, using defaults", "path", path)
			return nil
		}
		return &LoadError{File: path, Err: err}
	}

	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return &LoadError{File: path, Err: err}
	}

	slog.Info("Loaded config file", "path", path)
	return nil
}

// applyEnvOverrides applies the environment variables that take precedence
// over both defaults and file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("Ignoring invalid API_PORT", "value", v)
		}
	}
	if v := os.Getenv("CREWAI_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}

	if cfg.Cache.Redis == nil {
		cfg.Cache.Redis = DefaultRedisConfig()
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.Port = port
		} else {
			slog.Warn("Ignoring invalid REDIS_PORT", "value", v)
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = db
		} else {
			slog.Warn("Ignoring invalid REDIS_DB", "value", v)
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
}

func normalizeWebhooks(cfg *Config) {
	for i := range cfg.Webhooks {
		normalizeWebhook(&cfg.Webhooks[i])
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return newValidationError("server", "port", fmt.Errorf("%w: %d out of range", ErrInvalidValue, c.Server.Port))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return newValidationError("logging", "level", fmt.Errorf("%w: %q", ErrInvalidValue, c.Logging.Level))
	}
	if c.Storage.Dir == "" {
		return newValidationError("storage", "dir", fmt.Errorf("%w: empty", ErrInvalidValue))
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return newValidationError("cache", "backend", fmt.Errorf("%w: %q", ErrInvalidValue, c.Cache.Backend))
	}
	if c.Executor.MaxConcurrentJobs < 1 {
		return newValidationError("executor", "max_concurrent_jobs", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Executor.QueueSize < 0 {
		return newValidationError("executor", "queue_size", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if c.Workflow.GuardrailRetries < 0 {
		return newValidationError("workflow", "guardrail_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if c.Workflow.SummaryChunkRunes < 1 {
		return newValidationError("workflow", "summary_chunk_runes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Geocode.Rate <= 0 {
		return newValidationError("geocode", "rate", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Geocode.Burst < 1 {
		return newValidationError("geocode", "burst", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Geocode.Timeout.Duration <= 0 {
		return newValidationError("geocode", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.LLM.BaseURL == "" {
		return newValidationError("llm", "base_url", fmt.Errorf("%w: empty", ErrInvalidValue))
	}
	if c.LLM.Model == "" {
		return newValidationError("llm", "model", fmt.Errorf("%w: empty", ErrInvalidValue))
	}
	if c.SSE.PollInterval.Duration <= 0 {
		return newValidationError("sse", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Cleanup.Interval.Duration <= 0 {
		return newValidationError("cleanup", "interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Cleanup.Grace.Duration < 0 {
		return newValidationError("cleanup", "grace", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	for i := range c.Webhooks {
		w := &c.Webhooks[i]
		if w.URL == "" {
			return newValidationError("webhooks", fmt.Sprintf("[%d].url", i), fmt.Errorf("%w: empty", ErrInvalidValue))
		}
	}
	return nil
}
