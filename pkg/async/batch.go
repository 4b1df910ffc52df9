package async

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Batch applies fn to every item with at most workers running at once and
// returns the failures, each prefixed with the item's index. A failing item
// does not cancel the others.
func Batch[T any](ctx context.Context, items []T, workers int, name string, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}
	logger := logrus.WithField("batch", name)
	results := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			taskCtx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			if err := call(taskCtx, logger, func(ctx context.Context) error { return fn(ctx, item) }); err != nil {
				results[i] = fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
