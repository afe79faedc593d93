package page

import (
	"context"
	"fmt"
)

// Driver discovers chapters and walks their pages. Implementations own any
// site-specific knowledge; callers only see opaque locators.
type Driver interface {
	// ListChapters returns chapter locators in discovery order.
	ListChapters(ctx context.Context, entry string) ([]string, error)

	// OpenChapter acquires a handle positioned on the chapter's first page.
	// The caller must Close it.
	OpenChapter(ctx context.Context, locator string) (Chapter, error)
}

// Chapter is an open chapter handle.
type Chapter interface {
	// ExpectedItemCount returns the number of pages in the chapter.
	ExpectedItemCount(ctx context.Context) (int, error)

	// CurrentImage returns the image locator of the current page, or false
	// when the page has none.
	CurrentImage(ctx context.Context) (string, bool, error)

	// Advance moves to the next page and reports false at the end.
	Advance(ctx context.Context) (bool, error)

	// Close releases resources held by the handle.
	Close() error
}

// CollaboratorError is returned when a driver cannot perform an operation,
// such as an unreachable page or a missing element.
type CollaboratorError struct {
	Op      string
	Locator string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("page: %s %s: %v", e.Op, e.Locator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
