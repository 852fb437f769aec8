// Package stream bridges a producer and a consumer through a bounded queue.
package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Produce pushes values with emit until it is done. emit blocks while the
// queue is full and fails once the consumer has stopped.
type Produce[T any] func(ctx context.Context, emit func(T) error) error

// Pump runs produce in a background goroutine feeding a queue of the given
// capacity and drains the queue into consume on the calling goroutine.
//
// The first error from either side stops both. Pump returns only after the
// producer has exited.
func Pump[T any](ctx context.Context, capacity int, produce Produce[T], consume func(T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan T, capacity)

	g.Go(func() error {
		defer close(queue)
		return produce(ctx, func(v T) error {
			select {
			case queue <- v:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	err := drain(queue, consume)
	if err != nil {
		// Cancels the producer if it is blocked on a full queue.
		g.Go(func() error { return err })
	}

	if werr := g.Wait(); werr != nil {
		return werr
	}
	return err
}

func drain[T any](queue <-chan T, consume func(T) error) error {
	for v := range queue {
		if err := consume(v); err != nil {
			return err
		}
	}
	return nil
}
