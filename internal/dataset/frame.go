// Package dataset turns the raw customer CSV into a numeric training matrix.
// It covers the cleaning steps of the training pipeline: numeric coercion,
// dropping incomplete rows and the identifier column, label binarization,
// one-hot encoding and the seeded train/test split.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingColumn is returned when an operation names a column the frame does not have.
	ErrMissingColumn = errors.New("column not found")
	// ErrEmpty is returned when no rows survive cleaning.
	ErrEmpty = errors.New("no rows")
)

// naValues are the cell spellings read as missing, matching pandas' read_csv defaults.
var naValues = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true, "-1.#QNAN": true,
	"-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true, "<NA>": true, "N/A": true,
	"NA": true, "NULL": true, "NaN": true, "None": true, "n/a": true, "nan": true, "null": true,
}

// Frame is a string-typed table read from CSV. A nil cell marks a missing value.
type Frame struct {
	Columns []string
	Rows    [][]*string
}

// Load reads a CSV file with a header row.
func Load(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	frame, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("rows", len(frame.Rows)).
		Int("columns", len(frame.Columns)).
		Msg("dataset loaded")
	return frame, nil
}

// Read parses CSV from r. Empty cells and the usual NA spellings (NA, N/A,
// null, NaN, ...) are treated as missing.
func Read(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("header: %w", ErrEmpty)
		}
		return nil, fmt.Errorf("header: %w", err)
	}

	frame := &Frame{Columns: make([]string, len(header))}
	for i, name := range header {
		frame.Columns[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make([]*string, len(record))
		for i := range record {
			if naValues[record[i]] {
				continue
			}
			v := record[i]
			row[i] = &v
		}
		frame.Rows = append(frame.Rows, row)
	}

	return frame, nil
}

// Index returns the position of column name.
func (f *Frame) Index(name string) (int, error) {
	for i, c := range f.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: %w", name, ErrMissingColumn)
}

// CoerceNumeric rewrites a column so every cell is either a finite canonical
// float or missing. It returns the number of cells that could not be parsed;
// NaN and infinite values count as unparsable.
func (f *Frame) CoerceNumeric(name string) (int, error) {
	idx, err := f.Index(name)
	if err != nil {
		return 0, err
	}

	invalid := 0
	for _, row := range f.Rows {
		cell := row[idx]
		if cell == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*cell), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			row[idx] = nil
			invalid++
			continue
		}
		s := strconv.FormatFloat(v, 'g', -1, 64)
		row[idx] = &s
	}
	return invalid, nil
}

// DropMissing removes every row that has a missing cell and returns how many were dropped.
func (f *Frame) DropMissing() int {
	kept := f.Rows[:0]
	dropped := 0
	for _, row := range f.Rows {
		if hasMissing(row) {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	f.Rows = kept
	return dropped
}

func hasMissing(row []*string) bool {
	for _, cell := range row {
		if cell == nil {
			return true
		}
	}
	return false
}

// DropColumn removes a column.
func (f *Frame) DropColumn(name string) error {
	idx, err := f.Index(name)
	if err != nil {
		return err
	}

	f.Columns = append(f.Columns[:idx:idx], f.Columns[idx+1:]...)
	for i, row := range f.Rows {
		f.Rows[i] = append(row[:idx:idx], row[idx+1:]...)
	}
	return nil
}

// BinarizeLabel maps positive to "1" and negative to "0" in place.
// Any other value is an error naming the offending row.
func (f *Frame) BinarizeLabel(name, positive, negative string) error {
	idx, err := f.Index(name)
	if err != nil {
		return err
	}

	for i, row := range f.Rows {
		cell := row[idx]
		if cell == nil {
			return fmt.Errorf("row %d: missing %s label", i, name)
		}
		var v string
		switch strings.TrimSpace(*cell) {
		case positive:
			v = "1"
		case negative:
			v = "0"
		default:
			return fmt.Errorf("row %d: unexpected %s label %q", i, name, *cell)
		}
		row[idx] = &v
	}
	return nil
}
