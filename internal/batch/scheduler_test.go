package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sum(acc, v int) int { return acc + v }

func TestRunCombines(t *testing.T) {
	units := []int{1, 2, 3, 4, 5, 6, 7}

	var windows []Window[int, int]
	s := Scheduler[int, int]{
		Width:    3,
		Combine:  sum,
		OnWindow: func(w Window[int, int]) { windows = append(windows, w) },
	}

	total, err := s.Run(context.Background(), units, func(ctx context.Context, n int) (int, error) {
		return n * 10, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 280 {
		t.Errorf("expected total 280, got %d", total)
	}

	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	wantTotals := []int{60, 150, 70}
	wantSizes := []int{3, 3, 1}
	for i, w := range windows {
		if w.Index != i || w.Count != 3 {
			t.Errorf("window %d: unexpected index/count %d/%d", i, w.Index, w.Count)
		}
		if w.Total != wantTotals[i] {
			t.Errorf("window %d: expected total %d, got %d", i, wantTotals[i], w.Total)
		}
		if len(w.Outcomes) != wantSizes[i] {
			t.Errorf("window %d: expected %d outcomes, got %d", i, wantSizes[i], len(w.Outcomes))
		}
	}
	if windows[2].Outcomes[0].Unit != 7 {
		t.Errorf("expected last window to hold unit 7, got %d", windows[2].Outcomes[0].Unit)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const width = 3
	units := make([]int, 10)
	for i := range units {
		units[i] = i
	}

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	windowOf := make(map[int]int)
	var current atomic.Int32

	s := Scheduler[int, struct{}]{
		Width:    width,
		OnWindow: func(w Window[int, struct{}]) { current.Add(1) },
	}
	_, err := s.Run(context.Background(), units, func(ctx context.Context, n int) (struct{}, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		mu.Lock()
		windowOf[n] = int(current.Load())
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p := peak.Load(); p > width {
		t.Errorf("expected peak concurrency <= %d, got %d", width, p)
	}
	for n, w := range windowOf {
		if w != n/width {
			t.Errorf("unit %d ran during window %d, expected %d", n, w, n/width)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	var ran atomic.Int32
	s := Scheduler[int, int]{Width: 4, Combine: sum}

	var outcomes []Outcome[int, int]
	s.OnWindow = func(w Window[int, int]) { outcomes = append(outcomes, w.Outcomes...) }

	total, err := s.Run(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, n int) (int, error) {
		ran.Add(1)
		switch n {
		case 2:
			return 0, errors.New("boom")
		case 3:
			panic("kaboom")
		}
		time.Sleep(5 * time.Millisecond)
		if ctx.Err() != nil {
			t.Error("sibling context cancelled by failing unit")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran.Load() != 4 {
		t.Errorf("expected all 4 units to run, got %d", ran.Load())
	}
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	if outcomes[1].Err == nil || outcomes[2].Err == nil {
		t.Errorf("expected errors recorded for units 2 and 3, got %v / %v", outcomes[1].Err, outcomes[2].Err)
	}
	if outcomes[0].Err != nil || outcomes[3].Err != nil {
		t.Errorf("expected units 1 and 4 to succeed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Int32
	s := Scheduler[int, int]{
		Width:    2,
		Combine:  sum,
		OnWindow: func(w Window[int, int]) { cancel() },
	}
	total, err := s.Run(ctx, []int{1, 2, 3, 4, 5}, func(ctx context.Context, n int) (int, error) {
		ran.Add(1)
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran.Load() != 2 || total != 2 {
		t.Errorf("expected only the first window to run, ran=%d total=%d", ran.Load(), total)
	}
}

func TestRunEmpty(t *testing.T) {
	s := Scheduler[int, int]{Width: 2, Combine: sum}
	total, err := s.Run(context.Background(), nil, func(ctx context.Context, n int) (int, error) {
		t.Error("unexpected call")
		return 0, nil
	})
	if err != nil || total != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", total, err)
	}
}
