package progress

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies what an Event reports.
type Kind string

const (
	KindStarted        Kind = "download-started"
	KindState          Kind = "state"
	KindDiscovered     Kind = "discovered"
	KindResumed        Kind = "resumed"
	KindWindow         Kind = "window"
	KindChapterSkipped Kind = "chapter-skipped"
	KindChapterPartial Kind = "chapter-partial"
	KindChapterDone    Kind = "chapter-done"
	KindChapterFailed  Kind = "chapter-failed"
	KindItemDone       Kind = "item-done"
	KindItemFailed     Kind = "item-failed"
	KindAttemptFailed  Kind = "attempt-failed"
	KindRedirect       Kind = "redirect"
	KindCorrupt        Kind = "corrupt"
	KindCheckpoint     Kind = "checkpoint"
	KindCompleted      Kind = "completed"
	KindError          Kind = "error"
	KindCancelled      Kind = "cancelled"
)

// Level is the severity of an Event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one entry in a job's progress stream.
type Event struct {
	Time    time.Time `json:"time"`
	JobID   string    `json:"jobId,omitempty"`
	Kind    Kind      `json:"kind"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`

	Chapter int    `json:"chapter,omitempty"`
	Item    string `json:"item,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Done and Total track chapter progress for window and chapter events.
	Done  int `json:"done,omitempty"`
	Total int `json:"total,omitempty"`

	Downloaded int   `json:"downloaded,omitempty"`
	Failed     int   `json:"failed,omitempty"`
	Skipped    int   `json:"skipped,omitempty"`
	Bytes      int64 `json:"bytes,omitempty"`
}

// Emitter sends events to a channel. A nil Emitter or one with a nil channel
// discards everything. It is safe for concurrent use.
type Emitter struct {
	ch    chan<- Event
	jobID string
}

// NewEmitter returns an Emitter that stamps events with jobID.
func NewEmitter(ch chan<- Event, jobID string) *Emitter {
	return &Emitter{ch: ch, jobID: jobID}
}

// Emit sends ev, blocking until it is received or ctx is done. An event
// emitted after ctx is done is still delivered if the channel has room.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.ch == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	if ev.JobID == "" {
		ev.JobID = e.jobID
	}

	select {
	case e.ch <- ev:
		return
	default:
	}
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

// Infof emits an info event of the given kind.
func (e *Emitter) Infof(ctx context.Context, kind Kind, format string, args ...any) {
	e.Emit(ctx, Event{Kind: kind, Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// Errorf emits an error event of the given kind.
func (e *Emitter) Errorf(ctx context.Context, kind Kind, format string, args ...any) {
	e.Emit(ctx, Event{Kind: kind, Level: LevelError, Message: fmt.Sprintf(format, args...)})
}
