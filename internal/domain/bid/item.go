package bid

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/resale-repricer/internal/internaltypes"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Item is one listing to reprice. An item is owned by at most one worker at
// a time (the pool's lock set), so it carries no lock of its own.
type Item struct {
	ID         string `validate:"required"`
	Brand      string `validate:"required"`
	SKU        string `validate:"required"`
	Size       string `validate:"required"`
	FloorPrice int64  `validate:"gt=0"`
	URL        string

	Status   Status
	Attempts int
	Reason   string
	Price    int64 // price set on success
	Label    string
	Updated  time.Time

	// SizeConflict is set when the size matched only unconverted.
	SizeConflict bool
}

var validate = validator.New()

// Validate checks the fields an input row must carry.
func (it *Item) Validate() error {
	if err := validate.Struct(it); err != nil {
		return fmt.Errorf("item %s/%s: %w", it.Brand, it.SKU, err)
	}
	return nil
}

func (it *Item) Begin() error {
	if it.Status.Terminal() {
		return fmt.Errorf("begin %s: %w", it.ID, internaltypes.ErrTerminal)
	}
	it.Status = StatusInProgress
	it.Updated = time.Now().UTC()
	return nil
}

func (it *Item) Succeed(price int64, label string) error {
	if it.Status.Terminal() {
		return fmt.Errorf("succeed %s: %w", it.ID, internaltypes.ErrTerminal)
	}
	it.Status = StatusSucceeded
	it.Price = price
	it.Label = label
	it.Reason = ""
	it.Updated = time.Now().UTC()
	return nil
}

func (it *Item) Fail(reason string) error {
	if it.Status.Terminal() {
		return fmt.Errorf("fail %s: %w", it.ID, internaltypes.ErrTerminal)
	}
	it.Status = StatusFailed
	it.Reason = reason
	it.Updated = time.Now().UTC()
	return nil
}

// Interrupt marks an in-flight item cut off by shutdown; it may run again.
func (it *Item) Interrupt() error {
	if it.Status.Terminal() {
		return fmt.Errorf("interrupt %s: %w", it.ID, internaltypes.ErrTerminal)
	}
	it.Status = StatusInterrupted
	it.Reason = internaltypes.ReasonInterrupted
	it.Updated = time.Now().UTC()
	return nil
}

// Requeue returns an item whose worker died to the queue; spent attempts
// are kept.
func (it *Item) Requeue() error {
	if it.Status.Terminal() {
		return fmt.Errorf("requeue %s: %w", it.ID, internaltypes.ErrTerminal)
	}
	it.Status = StatusPending
	it.Updated = time.Now().UTC()
	return nil
}

// LockKey identifies the listing for the item-lock set.
func (it *Item) LockKey() string {
	return it.Brand + "|" + it.SKU + "|" + it.Size
}

// AttemptRecord is one audited attempt.
type AttemptRecord struct {
	ItemID  string
	Attempt int
	Worker  int
	Outcome string // retry class
	Reason  string
	Err     string
	At      time.Time
}
