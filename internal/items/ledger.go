package items

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/resale-repricer/internal/domain/bid"
)

const (
	resultsSheet  = "Results"
	attemptsSheet = "Attempts"
)

var (
	resultsHeader  = []any{"ID", "Brand", "SKU", "Size", "FloorPrice", "Status", "Price", "Label", "Attempts", "Reason", "Updated", "SizeConflict"}
	attemptsHeader = []any{"ItemID", "Attempt", "Worker", "Outcome", "Reason", "Error", "At"}
)

// Ledger records outcomes in memory and writes them to a results workbook
// on Close. The last result recorded for an item wins.
type Ledger struct {
	path string

	mu       sync.Mutex
	order    []string
	results  map[string]bid.Item
	attempts []bid.AttemptRecord
	closed   bool
}

// NewLedger returns a ledger written to path on Close; an empty path keeps
// results in memory only.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path, results: map[string]bid.Item{}}
}

func (l *Ledger) RecordAttempt(_ context.Context, rec bid.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("ledger closed")
	}
	l.attempts = append(l.attempts, rec)
	return nil
}

func (l *Ledger) RecordResult(_ context.Context, it *bid.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("ledger closed")
	}
	if _, seen := l.results[it.ID]; !seen {
		l.order = append(l.order, it.ID)
	}
	l.results[it.ID] = *it
	return nil
}

// Results returns the latest result per item in first-recorded order.
func (l *Ledger) Results() []bid.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bid.Item, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.results[id])
	}
	return out
}

// Close writes the workbook once; later calls are no-ops.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.path == "" {
		return nil
	}
	return l.writeLocked()
}

func (l *Ledger) writeLocked() error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(attemptsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultsHeader); err != nil {
		return err
	}
	for i, id := range l.order {
		it := l.results[id]
		row := []any{
			it.ID, it.Brand, it.SKU, it.Size, it.FloorPrice, string(it.Status),
			it.Price, it.Label, it.Attempts, it.Reason, it.Updated.Format(time.RFC3339),
			yesNo(it.SizeConflict),
		}
		if err := f.SetSheetRow(resultsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	attempts := append([]bid.AttemptRecord(nil), l.attempts...)
	sort.SliceStable(attempts, func(i, j int) bool {
		if attempts[i].ItemID != attempts[j].ItemID {
			return attempts[i].ItemID < attempts[j].ItemID
		}
		return attempts[i].Attempt < attempts[j].Attempt
	})
	if err := f.SetSheetRow(attemptsSheet, "A1", &attemptsHeader); err != nil {
		return err
	}
	for i, a := range attempts {
		row := []any{a.ItemID, a.Attempt, a.Worker, a.Outcome, a.Reason, a.Err, a.At.Format(time.RFC3339)}
		if err := f.SetSheetRow(attemptsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(l.path); err != nil {
		return fmt.Errorf("failed to write results workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
