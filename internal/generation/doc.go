// Package generation defines the boundary between the batch orchestration core
// and the external AI services it drives. An ImageGenerator issues one image
// generation call per prompt and a PromptRewriter produces a replacement prompt
// after a content-policy rejection. Concrete implementations (Gemini) live in
// internal/platform/gemini so the core never couples to a specific provider.
package generation
