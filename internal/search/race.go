package search

import (
	"context"
	"errors"

	"FedSearch/internal/searcherr"
)

// errBatchWon is the cancellation cause handed to losing tasks.
var errBatchWon = errors.New("batch won by another instance")

// Task is one cancellable unit of work in a race.
type Task[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	index int
	value T
	err   error
}

// Race runs every task concurrently and returns the first success together
// with its index, or -1 when none succeeded. Once a winner is known the
// remaining tasks are cancelled and waited for; whatever they return is
// reported as searcherr.ErrCancelled. errs[i] is nil for the winner.
func Race[T any](ctx context.Context, tasks []Task[T]) (winner T, index int, errs []error) {
	index = -1
	errs = make([]error, len(tasks))
	if len(tasks) == 0 {
		return winner, index, errs
	}

	raceCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan outcome[T], len(tasks))
	for i, task := range tasks {
		go func() {
			v, err := task(raceCtx)
			results <- outcome[T]{index: i, value: v, err: err}
		}()
	}

	for range tasks {
		out := <-results
		switch {
		case index >= 0:
			// Anything finishing after the winner was abandoned.
			errs[out.index] = cancelled(out.err)
		case out.err != nil:
			errs[out.index] = out.err
		default:
			winner, index = out.value, out.index
			cancel(errBatchWon)
		}
	}
	return winner, index, errs
}

func cancelled(err error) error {
	if errors.Is(err, searcherr.ErrCancelled) {
		return err
	}
	if err == nil {
		return searcherr.ErrCancelled
	}
	return errors.Join(searcherr.ErrCancelled, err)
}
