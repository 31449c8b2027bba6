// Package mocks provides centralized mock implementations for testing.
//
// Mocks expose function fields for custom behavior, default return values and
// mutex-guarded call tracking, so they are safe to share between the
// goroutines of a batch run.
//
// Usage:
//
//	gen := &mocks.MockImageGenerator{
//	    GenerateFn: func(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
//	        return mocks.ImageResult(1), nil
//	    },
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Document any helper methods or special functionality
package mocks
