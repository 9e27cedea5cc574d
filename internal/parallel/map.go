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

// Map runs mapFunc over an input sequence with at most limit calls in
// flight and yields results as they complete. Completion order is not the
// input order, callers needing determinism must sort afterwards. Map is
// context aware, a canceled context ends the processing.
//
//	for out, err := range parallel.NewMap(ctx, limit, f).Iter(input) {}
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
	}
}

func (m *Map[E, D]) goWorkers(seq iter.Seq[E]) {
	m.g.Go(func() error {
		for entry := range seq {
			m.g.Go(func() error {
				d, err := m.mapFunc(m.gctx, entry)
				select {
				case <-m.gctx.Done():
					return m.gctx.Err()
				default:
					m.mapped <- result[D]{d: d, e: err}
				}
				return nil
			})
		}
		return nil
	})
}

func (m *Map[E, D]) Iter(seq iter.Seq[E]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer m.cancelParent()
		m.goWorkers(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()

		for r := range m.mapped {
			if m.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// Collect runs the whole mapping and gathers the successful results,
// dropping per-entry errors. It is the aggregation half of the scan engine:
// a failed task never aborts its siblings.
func Collect[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) (D, error)) []D {
	out := make([]D, 0, len(in))
	for d, err := range NewMap(ctx, limit, mapFunc).Iter(values(in)) {
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

func values[E any](in []E) iter.Seq[E] {
	return func(yield func(E) bool) {
		for _, e := range in {
			if !yield(e) {
				return
			}
		}
	}
}
