package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/generation"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ImageGenerator implements generation.ImageGenerator on the Imagen models.
type ImageGenerator struct {
	models  ImageModels
	model   string
	timeout time.Duration
	pacer   *rate.Limiter
	logger  *slog.Logger
}

// NewImageGenerator creates an ImageGenerator. A nil pacer disables pacing.
func NewImageGenerator(
	models ImageModels,
	cfg config.LLMConfig,
	pacer *rate.Limiter,
	logger *slog.Logger,
) (*ImageGenerator, error) {
	if models == nil {
		return nil, ErrNilModels
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ImageModel == "" {
		return nil, fmt.Errorf("%w: image model cannot be empty", generation.ErrInvalidConfig)
	}
	if pacer == nil {
		pacer = NewPacer(0)
	}

	return &ImageGenerator{
		models:  models,
		model:   cfg.ImageModel,
		timeout: cfg.RequestTimeout,
		pacer:   pacer,
		logger:  logger.With("component", "gemini_image_generator"),
	}, nil
}

// buildImagePrompt folds the style hint into the prompt text.
func buildImagePrompt(req generation.ImageRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if style := strings.TrimSpace(req.Style); style != "" {
		prompt = fmt.Sprintf("%s\n\nStyle: %s", prompt, style)
	}
	return prompt
}

// Generate implements generation.ImageGenerator.
func (g *ImageGenerator) Generate(
	ctx context.Context,
	req generation.ImageRequest,
) (*generation.ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, generation.ErrEmptyPrompt
	}
	count := req.Count
	if count < 1 {
		count = 1
	}

	cfg := &genai.GenerateImagesConfig{
		NumberOfImages:   int32(count),
		AspectRatio:      req.AspectRatio,
		NegativePrompt:   req.NegativePrompt,
		IncludeRAIReason: true,
	}

	started := time.Now()
	resp, err := call(ctx, g.pacer, g.timeout,
		func(ctx context.Context) (*genai.GenerateImagesResponse, error) {
			return g.models.GenerateImages(ctx, g.model, buildImagePrompt(req), cfg)
		})
	if err != nil {
		mapped := mapError(err)
		g.logger.DebugContext(ctx, "image generation call failed",
			"model", g.model,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", mapped)
		return nil, mapped
	}

	result, err := g.toResult(resp)
	if err != nil {
		return nil, err
	}

	g.logger.DebugContext(ctx, "image generation call succeeded",
		"model", g.model,
		"images", len(result.Images),
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// toResult collects the usable images. A response without images is a
// content-policy rejection; the API filters unsafe output silently.
func (g *ImageGenerator) toResult(resp *genai.GenerateImagesResponse) (*generation.ImageResult, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	result := &generation.ImageResult{Model: g.model}
	var reasons []string
	for _, gi := range resp.GeneratedImages {
		if gi == nil {
			continue
		}
		if gi.Image != nil && len(gi.Image.ImageBytes) > 0 {
			mime := gi.Image.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			result.Images = append(result.Images, generation.Image{
				Data:     gi.Image.ImageBytes,
				MIMEType: mime,
			})
			continue
		}
		if gi.RAIFilteredReason != "" {
			reasons = append(reasons, gi.RAIFilteredReason)
		}
	}

	if len(result.Images) == 0 {
		reason := "no images returned"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, "; ")
		}
		return nil, &generation.ProviderError{
			Message: fmt.Sprintf("image blocked by content policy: %s", reason),
			Err:     generation.ErrContentBlocked,
		}
	}
	return result, nil
}
