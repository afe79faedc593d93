package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of running one unit.
type Outcome[T, R any] struct {
	Unit  T
	Value R
	Err   error
}

// Window describes a resolved concurrency window.
type Window[T, R any] struct {
	// Index is the 0-based window number.
	Index int
	// Count is the total number of windows.
	Count int
	// Outcomes holds one entry per unit, in unit order.
	Outcomes []Outcome[T, R]
	// Total is the combined value of the window's outcomes.
	Total R
}

// Scheduler runs units in consecutive windows of at most Width units. Every
// unit of a window starts together and the whole window is awaited before the
// next one begins, so at most Width units are ever in flight.
type Scheduler[T, R any] struct {
	// Width is the window size.
	// Default: 1
	Width int

	// Combine folds a unit value into an accumulator. Values of failed units
	// are passed too, so units can report partial counts alongside an error.
	// If nil, only per-unit outcomes are reported.
	Combine func(acc, v R) R

	// OnWindow, if set, is called after each window resolves.
	OnWindow func(Window[T, R])
}

// Run drives fn over units and returns the combined value of every window.
//
// A unit's error or panic is recorded in its Outcome and never cancels its
// siblings. Run stops before the next window when ctx is done and returns the
// total so far together with ctx.Err().
func (s Scheduler[T, R]) Run(ctx context.Context, units []T, fn func(context.Context, T) (R, error)) (R, error) {
	width := s.Width
	if width <= 0 {
		width = 1
	}
	count := (len(units) + width - 1) / width

	var total R
	for w := 0; w < count; w++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		start := w * width
		end := min(start+width, len(units))
		outcomes := make([]Outcome[T, R], end-start)

		// Plain group, no WithContext: siblings keep running when a unit fails.
		var g errgroup.Group
		for i, unit := range units[start:end] {
			outcomes[i].Unit = unit
			g.Go(func() error {
				outcomes[i].Value, outcomes[i].Err = call(ctx, unit, fn)
				return nil
			})
		}
		g.Wait()

		var windowTotal R
		if s.Combine != nil {
			for _, o := range outcomes {
				windowTotal = s.Combine(windowTotal, o.Value)
			}
			total = s.Combine(total, windowTotal)
		}
		if s.OnWindow != nil {
			s.OnWindow(Window[T, R]{Index: w, Count: count, Outcomes: outcomes, Total: windowTotal})
		}
	}
	return total, nil
}

func call[T, R any](ctx context.Context, unit T, fn func(context.Context, T) (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: unit panicked: %v", r)
		}
	}()
	return fn(ctx, unit)
}
