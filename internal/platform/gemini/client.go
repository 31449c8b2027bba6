package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/generation"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ImageModels is the part of genai.Models used for image generation.
type ImageModels interface {
	GenerateImages(
		ctx context.Context,
		model string,
		prompt string,
		config *genai.GenerateImagesConfig,
	) (*genai.GenerateImagesResponse, error)
}

// ContentModels is the part of genai.Models used for text generation.
type ContentModels interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// NewClient creates a Gemini API client from the LLM configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*genai.Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return client, nil
}

// NewPacer returns a limiter allowing one provider call per interval.
// A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// call waits for the pacer and runs fn under the per-request timeout.
func call[T any](
	ctx context.Context,
	pacer *rate.Limiter,
	timeout time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if err := pacer.Wait(ctx); err != nil {
		return zero, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
