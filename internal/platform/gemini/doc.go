// Package gemini implements the generation interfaces on Google's Gemini API.
//
// ImageGenerator turns a scene prompt into images through the Imagen models and
// PromptRewriter asks a text model for a policy-safe replacement when a prompt
// is rejected. Both share a pacing limiter so the process as a whole stays
// under the provider's request rate, and both translate API failures into
// generation.ProviderError values whose text the batch core can classify.
package gemini
