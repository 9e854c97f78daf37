package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map applies a function to the elements of a sequence with a bounded
// number of calls in flight. Results are yielded in completion order.
//
//	for d, err := range parallel.NewMap(ctx, 4, fn).Iter(input) {}
//
// Errors of the input are passed through. Breaking the loop or cancelling
// the context stops the remaining calls, and Iter returns only once every
// started call returned.
type Map[E, D any] struct {
	ctx     context.Context
	limit   int
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](ctx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	return &Map[E, D]{
		ctx:     ctx,
		limit:   limit,
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(m.ctx)
		g, gctx := errgroup.WithContext(ctx)
		// one extra slot for the feeding goroutine
		g.SetLimit(m.limit + 1)
		mapped := make(chan result[D], m.limit)

		send := func(r result[D]) error {
			select {
			case mapped <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		g.Go(func() error {
			for entry, err := range seq {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err != nil {
					if err := send(result[D]{e: err}); err != nil {
						return err
					}
					continue
				}
				g.Go(func() error {
					d, err := m.mapFunc(gctx, entry)
					return send(result[D]{d: d, e: err})
				})
			}
			return nil
		})

		go func() {
			_ = g.Wait()
			close(mapped)
		}()

		defer func() {
			cancel()
			for range mapped {
			}
		}()

		for r := range mapped {
			if m.ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
