package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/scenegen/internal/generation"
)

// MockImageGenerator implements generation.ImageGenerator for testing
type MockImageGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error)

	// Default response values, used when GenerateFn is nil
	Result *generation.ImageResult
	Err    error

	// Delay holds every call open for the given duration, or until ctx is done
	Delay time.Duration

	// mu protects the call tracking state
	mu        sync.Mutex
	requests  []generation.ImageRequest
	active    int
	maxActive int
}

// Generate implements the generation.ImageGenerator interface
func (m *MockImageGenerator) Generate(
	ctx context.Context,
	req generation.ImageRequest,
) (*generation.ImageResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.Result == nil && m.Err == nil {
		return ImageResult(max(req.Count, 1)), nil
	}
	return m.Result, m.Err
}

// CallCount returns the number of Generate calls.
func (m *MockImageGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in call order.
func (m *MockImageGenerator) Requests() []generation.ImageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generation.ImageRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallsFor counts the calls made with prompt.
func (m *MockImageGenerator) CallsFor(prompt string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Prompt == prompt {
			n++
		}
	}
	return n
}

// MaxActive returns the highest number of calls that were in flight at once.
func (m *MockImageGenerator) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Reset resets the call tracking state
func (m *MockImageGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.active = 0
	m.maxActive = 0
}

// NewMockImageGeneratorWithError creates a MockImageGenerator that always fails with err
func NewMockImageGeneratorWithError(err error) *MockImageGenerator {
	return &MockImageGenerator{Err: err}
}

// ImageResult builds a result holding n small fake PNG images.
func ImageResult(n int) *generation.ImageResult {
	images := make([]generation.Image, n)
	for i := range images {
		images[i] = generation.Image{
			Data:     []byte{0x89, 'P', 'N', 'G', byte(i)},
			MIMEType: "image/png",
		}
	}
	return &generation.ImageResult{Images: images, Model: "mock-image-model"}
}

// MockPromptRewriter implements generation.PromptRewriter for testing
type MockPromptRewriter struct {
	// RewriteFn allows test cases to mock the Rewrite behavior
	RewriteFn func(ctx context.Context, req generation.RewriteRequest) (string, error)

	// Default response values, used when RewriteFn is nil
	Prompt string
	Err    error

	mu       sync.Mutex
	requests []generation.RewriteRequest
}

// Rewrite implements the generation.PromptRewriter interface
func (m *MockPromptRewriter) Rewrite(ctx context.Context, req generation.RewriteRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RewriteFn != nil {
		return m.RewriteFn(ctx, req)
	}
	return m.Prompt, m.Err
}

// CallCount returns the number of Rewrite calls.
func (m *MockPromptRewriter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in call order.
func (m *MockPromptRewriter) Requests() []generation.RewriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generation.RewriteRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
