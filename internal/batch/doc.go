// Package batch runs work in fixed-width concurrency windows.
//
// Units are split into consecutive windows of at most Width. All units of a
// window run concurrently and the window is fully awaited before the next one
// starts. Peak concurrency is therefore exactly bounded and windows never
// overlap. Within a window no ordering is guaranteed.
//
// # Usage
//
//	s := batch.Scheduler[int, int]{
//	    Width:   4,
//	    Combine: func(acc, v int) int { return acc + v },
//	}
//	total, err := s.Run(ctx, chapters, func(ctx context.Context, ch int) (int, error) {
//	    return fetchChapter(ctx, ch)
//	})
package batch
