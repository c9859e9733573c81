// Package parallel provides a bounded, order-preserving parallel map.
package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over items with at most limit calls in flight. out[i] always
// corresponds to items[i]. The first error is returned; once it is observed
// no further items are started, while calls already running may drain.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, index int, item T) (R, error)) ([]R, error) {
	if limit < 1 {
		return nil, fmt.Errorf("parallel: limit must be at least 1, got %d", limit)
	}

	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		// Go blocks until a slot frees up, so re-check before each start.
		if gctx.Err() != nil {
			break
		}
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The parent may have been canceled before anything started.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
