package bid

import (
	"context"

	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

// Page is a loaded product page owned by one actuator.
type Page interface {
	URL() string
}

// Actuator drives the marketplace UI for one worker. Errors are typed with
// internaltypes so the retry policy can classify them.
type Actuator interface {
	Load(ctx context.Context, cred session.Credential, url string) (Page, error)
	ReadSizeTable(ctx context.Context, page Page) (sizes.Table, error)
	SetPrice(ctx context.Context, page Page, match sizes.Result, price int64) error
	Close() error
}

type ItemSource interface {
	Items(ctx context.Context) ([]*Item, error)
}

type Recorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	RecordResult(ctx context.Context, it *Item) error
}

type EventKind string

const (
	EventRunFinished EventKind = "run_finished"
	EventRunAborted  EventKind = "run_aborted"
)

type Event struct {
	Kind        EventKind      `json:"kind"`
	RunID       string         `json:"run_id"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Interrupted int            `json:"interrupted"`
	NotStarted  int            `json:"not_started"`
	Reasons     map[string]int `json:"reasons,omitempty"`
	Message     string         `json:"message,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
