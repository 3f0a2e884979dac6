// Package failurelog appends terminal item failures to a CSV file of the form
// <sequence>,<brand>,<sku>,<reserved>,<size>,<price>,<reason>.
package failurelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

type Entry struct {
	Brand  string
	SKU    string
	Size   string
	Price  int64
	Reason string
}

// Log is safe for concurrent use; each record is flushed and synced before
// Append returns.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	seq  int
}

// Open appends to path, continuing the sequence of any existing records.
func Open(path string) (*Log, error) {
	seq, err := lastSequence(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &Log{path: path, f: f, w: csv.NewWriter(f), seq: seq}, nil
}

func (l *Log) Append(e Entry) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return 0, errors.New("failure log closed")
	}

	seq := l.seq + 1
	rec := []string{
		strconv.Itoa(seq),
		e.Brand,
		e.SKU,
		"",
		e.Size,
		strconv.FormatInt(e.Price, 10),
		e.Reason,
	}
	if err := l.w.Write(rec); err != nil {
		return 0, fmt.Errorf("write failure record: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return 0, fmt.Errorf("flush failure record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("sync failure log: %w", err)
	}
	l.seq = seq
	return seq, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadAll parses every record in the log at path.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out []Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read failure log: %w", err)
		}
		if len(rec) < 7 {
			continue
		}
		seq, err := strconv.Atoi(rec[0])
		if err != nil {
			continue
		}
		price, _ := strconv.ParseInt(rec[5], 10, 64)
		out = append(out, Record{
			Seq:   seq,
			Entry: Entry{Brand: rec[1], SKU: rec[2], Size: rec[4], Price: price, Reason: rec[6]},
		})
	}
}

type Record struct {
	Seq int
	Entry
}

func lastSequence(path string) (int, error) {
	recs, err := ReadAll(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	last := 0
	for _, r := range recs {
		if r.Seq > last {
			last = r.Seq
		}
	}
	return last, nil
}
