// Package items loads repricing batches and keeps their outcomes: from an
// input workbook, from Postgres, or in an in-memory ledger written out as a
// results workbook.
package items

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/example/resale-repricer/internal/domain/bid"
)

// column aliases accepted in the header row, lowercased
var headerAliases = map[string][]string{
	"id":    {"id", "item_id"},
	"brand": {"brand", "브랜드"},
	"sku":   {"sku", "model", "style", "품번", "모델번호"},
	"size":  {"size", "사이즈"},
	"floor": {"floor_price", "floor", "price", "최저가", "가격"},
	"url":   {"url", "link", "상품url"},
}

// Workbook is an item batch read from a spreadsheet.
type Workbook struct {
	Sheet string
	items []*bid.Item
}

// LoadWorkbook reads the first sheet of an .xlsx file. The first row is the
// header; blank rows are skipped.
func LoadWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// ReadWorkbook is LoadWorkbook over an already open stream.
func ReadWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("unable to open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) (*Workbook, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	cols, err := headerIndex(rows[0])
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheet, err)
	}

	wb := &Workbook{Sheet: sheet}
	var errs []error
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := i + 2
		it, err := itemFromRow(row, cols)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", line, err))
			continue
		}
		wb.items = append(wb.items, it)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheet, err)
	}
	return wb, nil
}

// Items implements bid.ItemSource. Every call returns fresh copies so a
// second run starts from pending.
func (w *Workbook) Items(ctx context.Context) ([]*bid.Item, error) {
	out := make([]*bid.Item, len(w.items))
	for i, it := range w.items {
		c := *it
		out[i] = &c
	}
	return out, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, aliases := range headerAliases {
			for _, a := range aliases {
				if h == a {
					if _, dup := cols[key]; !dup {
						cols[key] = i
					}
				}
			}
		}
	}
	var missing []string
	for _, key := range []string{"brand", "sku", "size", "floor"} {
		if _, ok := cols[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func itemFromRow(row []string, cols map[string]int) (*bid.Item, error) {
	cell := func(key string) string {
		i, ok := cols[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	floor, err := parsePrice(cell("floor"))
	if err != nil {
		return nil, err
	}
	it := &bid.Item{
		ID:         cell("id"),
		Brand:      cell("brand"),
		SKU:        cell("sku"),
		Size:       cell("size"),
		FloorPrice: floor,
		URL:        cell("url"),
		Status:     bid.StatusPending,
	}
	if it.ID == "" {
		// stable across loads so re-imports update the same row
		it.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(it.LockKey())).String()
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}
	return it, nil
}

// parsePrice accepts "58900", "58,900", "58,900원" and "₩58,900".
func parsePrice(s string) (int64, error) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		case r == ',' || r == '원' || r == '₩' || r == ' ':
			return -1
		}
		return r
	}, s)
	if clean == "" {
		return 0, errors.New("floor price is empty")
	}
	if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return n, nil
	}
	// spreadsheets often store integers as floats
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid floor price %q", s)
	}
	return int64(f), nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
