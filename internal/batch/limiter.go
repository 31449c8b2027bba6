package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunLimited calls process once for every item, in input order, with at most
// limit calls active at the same time. It returns once every call has returned.
// A limit below one is treated as one. RunLimited does not look at outcomes;
// processors record their own results.
func RunLimited[T any](ctx context.Context, items []T, limit int, process func(ctx context.Context, item T)) {
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, item := range items {
		// Go blocks until a slot frees up.
		g.Go(func() error {
			process(ctx, item)
			return nil
		})
	}
	// Processors always return nil, so Wait never reports an error.
	_ = g.Wait()
}
