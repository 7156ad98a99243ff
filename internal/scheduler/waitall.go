package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WaitAll awaits every task and returns their results in order. The first
// failure is returned once all tasks have been observed or ctx is done.
func WaitAll[R any](ctx context.Context, tasks ...*Task[R]) ([]R, error) {
	out := make([]R, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			r, err := t.Await(gctx)
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
	return out, nil
}
