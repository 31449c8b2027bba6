package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Batch    BatchConfig    `mapstructure:"batch"    validate:"required"`
	Runs     RunsConfig     `mapstructure:"runs"     validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the run archive settings.
// An empty URL disables the archive.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// Enabled reports whether a database URL was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`

	// ImageModel generates scene images
	ImageModel string `mapstructure:"image_model" validate:"required"`

	// RewriteModel rewrites prompts rejected on content-policy grounds
	RewriteModel string `mapstructure:"rewrite_model" validate:"required"`

	// RewriteTemplatePath overrides the built-in rewrite prompt template
	RewriteTemplatePath string `mapstructure:"rewrite_template_path" validate:"omitempty,file"`

	// RequestTimeout bounds a single provider call
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// MinRequestInterval paces provider calls; zero disables pacing
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" validate:"gte=0"`
}

// BatchConfig tunes the batch orchestrator.
type BatchConfig struct {
	Concurrency           int           `mapstructure:"concurrency"              validate:"gte=1,lte=32"`
	MaxRounds             int           `mapstructure:"max_rounds"               validate:"gte=1"`
	InterRoundDelay       time.Duration `mapstructure:"inter_round_delay"        validate:"gte=0"`
	RateLimitDelay        time.Duration `mapstructure:"rate_limit_delay"         validate:"gte=0"`
	InitialRateLimitDelay time.Duration `mapstructure:"initial_rate_limit_delay" validate:"gte=0"`
	ImagesPerPrompt       int           `mapstructure:"images_per_prompt"        validate:"gte=1,lte=4"`
}

// RunsConfig tunes the server-side run queue.
type RunsConfig struct {
	// WorkerCount is the number of runs executed at the same time
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1"`

	// QueueSize is the number of accepted runs that may wait for a worker
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`

	// RetainFinished is the number of finished runs kept in memory
	RetainFinished int `mapstructure:"retain_finished" validate:"gte=0"`
}
