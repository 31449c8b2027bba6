package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SCENEGEN"

// ConfigFileEnv names an explicit config file. When unset, Load looks for an
// optional config.yaml in the working directory.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// setDefaults registers every key so environment variables are seen by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.image_model", "imagen-4.0-generate-001")
	v.SetDefault("llm.rewrite_model", "gemini-2.5-flash")
	v.SetDefault("llm.rewrite_template_path", "")
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("llm.min_request_interval", time.Duration(0))

	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.max_rounds", 50)
	v.SetDefault("batch.inter_round_delay", 2*time.Second)
	v.SetDefault("batch.rate_limit_delay", 5*time.Second)
	v.SetDefault("batch.initial_rate_limit_delay", time.Duration(0))
	v.SetDefault("batch.images_per_prompt", 1)

	v.SetDefault("runs.worker_count", 2)
	v.SetDefault("runs.queue_size", 16)
	v.SetDefault("runs.retain_finished", 100)
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
