package generation

import "context"

// ImageRequest describes a single image generation call.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Style          string
	// Count is the number of images requested for the prompt
	Count int
}

// Image is one generated image.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageResult is the payload of a successful generation call.
type ImageResult struct {
	Images []Image
	// Model records which provider model produced the images
	Model string
}

// ImageGenerator issues one generation call per prompt.
//
// Implementations return a *ProviderError (or an error wrapping one) when the
// provider rejects the call, so the caller can classify the failure from its text.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// RewriteRequest carries everything a rewriter needs to replace a rejected prompt.
type RewriteRequest struct {
	// FailedPrompt is the prompt the provider rejected
	FailedPrompt string

	// PreviousPrompt and NextPrompt are the nearest successful neighbours, when any
	PreviousPrompt string
	NextPrompt     string

	// SceneContext is the narrative text the prompt was derived from
	SceneContext string

	// PolicyError is the rejection message that triggered the rewrite
	PolicyError string
}

// PromptRewriter produces a policy-safer replacement for a rejected prompt.
type PromptRewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}
