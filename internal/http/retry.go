package http

import (
	"context"
	"errors"
	"math"
	"time"
)

// Class is the failure classification used by Policy.
type Class string

const (
	// ClassNone marks a successful outcome.
	ClassNone Class = ""
	// ClassTransient failures may succeed on retry.
	ClassTransient Class = "transient"
	// ClassPermanent failures are known not to benefit from retrying.
	ClassPermanent Class = "permanent"
	// ClassCancelled means the caller's context ended.
	ClassCancelled Class = "cancelled"
)

// Classify returns the failure class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	var se *StatusError
	if errors.As(err, &se) && se.Permanent() {
		return ClassPermanent
	}
	return ClassTransient
}

// Fetcher performs a single retrieval of src into dest.
type Fetcher interface {
	Fetch(ctx context.Context, src, dest string) (int64, error)
}

// Item is one artifact to fetch.
type Item struct {
	Source string
	Dest   string
	Name   string
}

// Attempt describes one finished fetch attempt.
type Attempt struct {
	Item   Item
	Number int
	Err    error
	Class  Class
	// Delay is the backoff applied before the next attempt, zero if none follows.
	Delay time.Duration
}

// Outcome is the terminal result of driving an Item through a Policy.
type Outcome struct {
	Item     Item
	OK       bool
	Attempts int
	Bytes    int64
	Class    Class
	Err      error
}

// Policy retries a Fetcher with exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// Backoff is the delay before the second attempt.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 10s
	MaxBackoff time.Duration

	// TotalTimeout bounds all attempts for one item. Zero disables it.
	TotalTimeout time.Duration

	// OnAttempt observes every attempt, successful or not.
	OnAttempt func(Attempt)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns a Policy with sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

// Delay returns the wait before retry n (n >= 1): min(Backoff*2^(n-1), MaxBackoff).
// Without a MaxBackoff the delay saturates at math.MaxInt64.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < n; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do drives f for item until it succeeds, fails permanently, the context ends
// or MaxAttempts is exhausted. It never returns an error; the failure is
// reported in the Outcome.
func (p Policy) Do(ctx context.Context, f Fetcher, item Item) Outcome {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if p.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TotalTimeout)
		defer cancel()
	}

	out := Outcome{Item: item}
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		n, err := f.Fetch(ctx, item.Source, item.Dest)
		out.Attempts = attempt
		if err == nil {
			out.OK = true
			out.Bytes = n
			out.Class = ClassNone
			out.Err = nil
			p.observe(Attempt{Item: item, Number: attempt})
			return out
		}

		class := Classify(err)
		out.Err = err
		out.Class = class

		var delay time.Duration
		// ctx.Err() covers an exhausted TotalTimeout budget.
		last := class != ClassTransient || attempt == p.MaxAttempts || ctx.Err() != nil
		if !last {
			delay = p.Delay(attempt)
		}
		p.observe(Attempt{Item: item, Number: attempt, Err: err, Class: class, Delay: delay})
		if last {
			return out
		}

		if err := p.Sleep(ctx, delay); err != nil {
			out.Err = err
			out.Class = Classify(err)
			return out
		}
	}
	return out
}

func (p Policy) observe(a Attempt) {
	if p.OnAttempt != nil {
		p.OnAttempt(a)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
