package gemini

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/generation"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

//go:embed templates/rewrite.tmpl
var templateFS embed.FS

const defaultTemplateName = "templates/rewrite.tmpl"

// rewriteTemperature keeps rewrites close to the rejected prompt.
const rewriteTemperature = float32(0.4)

// PromptRewriter implements generation.PromptRewriter on a Gemini text model.
type PromptRewriter struct {
	models  ContentModels
	model   string
	tmpl    *template.Template
	timeout time.Duration
	pacer   *rate.Limiter
	logger  *slog.Logger
}

// NewPromptRewriter creates a PromptRewriter. The prompt template is read from
// cfg.RewriteTemplatePath when set, otherwise the built-in template is used.
// A nil pacer disables pacing.
func NewPromptRewriter(
	models ContentModels,
	cfg config.LLMConfig,
	pacer *rate.Limiter,
	logger *slog.Logger,
) (*PromptRewriter, error) {
	if models == nil {
		return nil, ErrNilModels
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.RewriteModel == "" {
		return nil, fmt.Errorf("%w: rewrite model cannot be empty", generation.ErrInvalidConfig)
	}

	tmpl, err := loadTemplate(cfg.RewriteTemplatePath)
	if err != nil {
		return nil, err
	}
	if pacer == nil {
		pacer = NewPacer(0)
	}

	return &PromptRewriter{
		models:  models,
		model:   cfg.RewriteModel,
		tmpl:    tmpl,
		timeout: cfg.RequestTimeout,
		pacer:   pacer,
		logger:  logger.With("component", "gemini_prompt_rewriter"),
	}, nil
}

func loadTemplate(path string) (*template.Template, error) {
	var content []byte
	var err error
	if path != "" {
		content, err = os.ReadFile(path)
	} else {
		content, err = templateFS.ReadFile(defaultTemplateName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rewrite template: %v", generation.ErrInvalidConfig, err)
	}

	tmpl, err := template.New("rewrite").Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse rewrite template: %v", generation.ErrInvalidConfig, err)
	}
	return tmpl, nil
}

func (r *PromptRewriter) render(req generation.RewriteRequest) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute rewrite template: %w", err)
	}
	return buf.String(), nil
}

// Rewrite implements generation.PromptRewriter.
func (r *PromptRewriter) Rewrite(ctx context.Context, req generation.RewriteRequest) (string, error) {
	if strings.TrimSpace(req.FailedPrompt) == "" {
		return "", generation.ErrEmptyPrompt
	}

	instruction, err := r.render(req)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(rewriteTemperature),
	}

	resp, err := call(ctx, r.pacer, r.timeout,
		func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			return r.models.GenerateContent(ctx, r.model, contents, cfg)
		})
	if err != nil {
		return "", mapError(err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &generation.ProviderError{
			Message: fmt.Sprintf("rewrite request blocked by content policy: %s", resp.PromptFeedback.BlockReason),
			Err:     generation.ErrContentBlocked,
		}
	}

	prompt := cleanPrompt(resp.Text())
	if prompt == "" {
		return "", fmt.Errorf("%w: empty rewritten prompt", generation.ErrInvalidResponse)
	}

	r.logger.DebugContext(ctx, "prompt rewritten",
		"model", r.model,
		"original_length", len(req.FailedPrompt),
		"rewritten_length", len(prompt))
	return prompt, nil
}

// cleanPrompt strips the wrapping a chat model tends to add around a one-line answer.
func cleanPrompt(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Rewritten prompt:", "Prompt:"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
