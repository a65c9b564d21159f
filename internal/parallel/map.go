package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies mapFunc to every element of in with at most limit calls in
// flight and returns the results in input order. The first error cancels the
// context seen by the other calls and is the one returned. Limit below one
// means no limit.
//
//	sizes, err := parallel.Map(ctx, 4, paths, func(ctx context.Context, p string) (int64, error) {
//		st, err := os.Stat(p)
//		...
//	})
func Map[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) (D, error)) ([]D, error) {
	out := make([]D, len(in))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, e := range in {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := mapFunc(gctx, e)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Each is Map for functions without a result.
func Each[E any](ctx context.Context, limit int, in []E, fn func(context.Context, E) error) error {
	_, err := Map(ctx, limit, in, func(ctx context.Context, e E) (struct{}, error) {
		return struct{}{}, fn(ctx, e)
	})
	return err
}
