package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		GeminiAPIKey:   "test-key",
		ImageModel:     "imagen-test",
		RewriteModel:   "gemini-test",
		RequestTimeout: time.Second,
	}
}

// fakeModels implements ImageModels and ContentModels.
type fakeModels struct {
	mu sync.Mutex

	imagesResp  *genai.GenerateImagesResponse
	contentResp *genai.GenerateContentResponse
	err         error

	prompts      []string
	imageConfigs []*genai.GenerateImagesConfig
	contents     [][]*genai.Content
	models       []string
}

func (f *fakeModels) GenerateImages(
	ctx context.Context,
	model string,
	prompt string,
	cfg *genai.GenerateImagesConfig,
) (*genai.GenerateImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	f.prompts = append(f.prompts, prompt)
	f.imageConfigs = append(f.imageConfigs, cfg)
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a request deadline")
	}
	return f.imagesResp, f.err
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	f.contents = append(f.contents, contents)
	return f.contentResp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantClass batch.FailureClass
		wantCode  int
	}{
		{
			name:      "resource exhausted",
			err:       genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Resource has been exhausted"},
			wantClass: batch.ClassRateLimited,
			wantCode:  429,
		},
		{
			name:      "pointer form",
			err:       fmt.Errorf("wrapped: %w", &genai.APIError{Code: 429, Message: "quota"}),
			wantClass: batch.ClassRateLimited,
			wantCode:  429,
		},
		{
			name:      "forbidden",
			err:       genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"},
			wantClass: batch.ClassAuthExpired,
			wantCode:  403,
		},
		{
			name:      "invalid key",
			err:       genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid. Please pass a valid API key."},
			wantClass: batch.ClassAuthExpired,
			wantCode:  400,
		},
		{
			name:      "safety rejection keeps provider text",
			err:       genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "prompt violates usage policy"},
			wantClass: batch.ClassContentPolicy,
			wantCode:  400,
		},
		{
			name:      "server error",
			err:       genai.APIError{Code: 500, Status: "INTERNAL", Message: "internal error"},
			wantClass: batch.ClassUnknown,
			wantCode:  500,
		},
		{
			name:      "timeout",
			err:       context.DeadlineExceeded,
			wantClass: batch.ClassUnknown,
		},
		{
			name:      "transport error",
			err:       errors.New("connection reset by peer"),
			wantClass: batch.ClassUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mapped := mapError(tc.err)
			var perr *generation.ProviderError
			require.ErrorAs(t, mapped, &perr)
			assert.Equal(t, tc.wantCode, perr.Code)
			assert.Equal(t, tc.wantClass, batch.Classify(mapped.Error()))
			assert.NotNil(t, perr.Err, "the original error stays reachable")
		})
	}

	t.Run("cancellation passes through", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, context.Canceled, mapError(context.Canceled))
		assert.NoError(t, mapError(nil))
	})
}

func TestNewImageGenerator(t *testing.T) {
	t.Parallel()

	logger := setupTestLogger()

	_, err := NewImageGenerator(nil, testConfig(), nil, logger)
	assert.ErrorIs(t, err, ErrNilModels)

	_, err = NewImageGenerator(&fakeModels{}, testConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.ImageModel = ""
	_, err = NewImageGenerator(&fakeModels{}, cfg, nil, logger)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestImageGeneratorGenerate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{imagesResp: &genai.GenerateImagesResponse{
			GeneratedImages: []*genai.GeneratedImage{
				{Image: &genai.Image{ImageBytes: []byte("one"), MIMEType: "image/jpeg"}},
				{Image: &genai.Image{ImageBytes: []byte("two")}},
			},
		}}
		gen, err := NewImageGenerator(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		result, err := gen.Generate(context.Background(), generation.ImageRequest{
			Prompt:         "a fox in the snow",
			NegativePrompt: "text",
			AspectRatio:    "16:9",
			Style:          "woodcut",
			Count:          2,
		})
		require.NoError(t, err)

		require.Len(t, result.Images, 2)
		assert.Equal(t, "image/jpeg", result.Images[0].MIMEType)
		assert.Equal(t, "image/png", result.Images[1].MIMEType, "missing MIME type defaults to PNG")
		assert.Equal(t, "imagen-test", result.Model)

		require.Len(t, models.prompts, 1)
		assert.Equal(t, "a fox in the snow\n\nStyle: woodcut", models.prompts[0])
		assert.Equal(t, "imagen-test", models.models[0])
		cfg := models.imageConfigs[0]
		assert.Equal(t, int32(2), cfg.NumberOfImages)
		assert.Equal(t, "16:9", cfg.AspectRatio)
		assert.Equal(t, "text", cfg.NegativePrompt)
	})

	t.Run("filtered output is a policy rejection", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{imagesResp: &genai.GenerateImagesResponse{
			GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "unsafe: violence"}},
		}}
		gen, err := NewImageGenerator(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), generation.ImageRequest{Prompt: "battle"})
		require.Error(t, err)
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
		assert.Contains(t, err.Error(), "unsafe: violence")
		assert.Equal(t, batch.ClassContentPolicy, batch.Classify(err.Error()))
	})

	t.Run("empty response is a policy rejection", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{imagesResp: &genai.GenerateImagesResponse{}}
		gen, err := NewImageGenerator(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), generation.ImageRequest{Prompt: "battle"})
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
	})

	t.Run("api error is mapped", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{err: genai.APIError{Code: 429, Message: "slow down"}}
		gen, err := NewImageGenerator(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), generation.ImageRequest{Prompt: "battle"})
		assert.Equal(t, batch.ClassRateLimited, batch.Classify(err.Error()))
	})

	t.Run("empty prompt", func(t *testing.T) {
		t.Parallel()

		gen, err := NewImageGenerator(&fakeModels{}, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), generation.ImageRequest{Prompt: "  "})
		assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
	})

	t.Run("cancelled while pacing", func(t *testing.T) {
		t.Parallel()

		pacer := NewPacer(time.Hour)
		require.True(t, pacer.Allow(), "consume the single burst token")

		models := &fakeModels{}
		gen, err := NewImageGenerator(models, testConfig(), pacer, setupTestLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = gen.Generate(ctx, generation.ImageRequest{Prompt: "fox"})
		assert.Error(t, err)
		assert.Empty(t, models.prompts, "no call is made while waiting for the pacer")
	})
}

func TestPromptRewriter(t *testing.T) {
	t.Parallel()

	t.Run("renders context and cleans the answer", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{contentResp: textResponse("Prompt: \"a knight resting after the battle\"\n")}
		rw, err := NewPromptRewriter(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		out, err := rw.Rewrite(context.Background(), generation.RewriteRequest{
			FailedPrompt:   "a knight covered in blood",
			PreviousPrompt: "the castle gate",
			SceneContext:   "The siege ends at dawn.",
			PolicyError:    "unsafe content",
		})
		require.NoError(t, err)
		assert.Equal(t, "a knight resting after the battle", out)

		require.Len(t, models.contents, 1)
		require.Len(t, models.contents[0], 1)
		instruction := models.contents[0][0].Parts[0].Text
		assert.Contains(t, instruction, "a knight covered in blood")
		assert.Contains(t, instruction, "the castle gate")
		assert.Contains(t, instruction, "The siege ends at dawn.")
		assert.Contains(t, instruction, "unsafe content")
		assert.NotContains(t, instruction, "next scene", "absent neighbours are omitted")
		assert.Equal(t, "gemini-test", models.models[0])
	})

	t.Run("empty answer", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{contentResp: textResponse("   ")}
		rw, err := NewPromptRewriter(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = rw.Rewrite(context.Background(), generation.RewriteRequest{FailedPrompt: "x"})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("api error is mapped", func(t *testing.T) {
		t.Parallel()

		models := &fakeModels{err: genai.APIError{Code: 401, Status: "UNAUTHENTICATED", Message: "bad key"}}
		rw, err := NewPromptRewriter(models, testConfig(), nil, setupTestLogger())
		require.NoError(t, err)

		_, err = rw.Rewrite(context.Background(), generation.RewriteRequest{FailedPrompt: "x"})
		assert.Equal(t, batch.ClassAuthExpired, batch.Classify(err.Error()))
	})

	t.Run("custom template", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "rewrite.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("soften: {{.FailedPrompt}}"), 0o600))

		cfg := testConfig()
		cfg.RewriteTemplatePath = path
		models := &fakeModels{contentResp: textResponse("calm scene")}
		rw, err := NewPromptRewriter(models, cfg, nil, setupTestLogger())
		require.NoError(t, err)

		_, err = rw.Rewrite(context.Background(), generation.RewriteRequest{FailedPrompt: "storm"})
		require.NoError(t, err)
		assert.Equal(t, "soften: storm", models.contents[0][0].Parts[0].Text)
	})

	t.Run("broken template", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "rewrite.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("{{.FailedPrompt"), 0o600))

		cfg := testConfig()
		cfg.RewriteTemplatePath = path
		_, err := NewPromptRewriter(&fakeModels{}, cfg, nil, setupTestLogger())
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})
}

func TestCleanPrompt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a quiet harbour", cleanPrompt("  \"a quiet harbour\"  "))
	assert.Equal(t, "a quiet harbour", cleanPrompt("Rewritten prompt: a quiet harbour"))
	assert.Equal(t, "a quiet harbour", cleanPrompt("```\na quiet harbour\n```"))
	assert.Empty(t, cleanPrompt(""))
}
