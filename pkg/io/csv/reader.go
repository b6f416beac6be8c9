// Package csv provides CSV file reading for numeric tabular data.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Reader reads numeric rows from CSV input. Rows that do not parse as numbers,
// or whose width differs from the first row, are skipped and counted.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	comma     rune
	headers   []string
	skipped   atomic.Int64
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.comma = c
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	r, err := New(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// New creates a reader on top of src. Close does not close src.
func New(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		hasHeader: true,
		comma:     ',',
	}

	for _, opt := range opts {
		opt(r)
	}

	r.reader = csv.NewReader(src)
	r.reader.Comma = r.comma
	r.reader.Comment = '#'
	r.reader.TrimLeadingSpace = true
	r.reader.ReuseRecord = true

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		r.headers = append([]string(nil), headers...)
		// The header fixes the row width, not the first data row.
		r.reader.FieldsPerRecord = len(headers)
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// FeatureNames returns the column headers.
func (r *Reader) FeatureNames() []string {
	return r.headers
}

// Skipped returns the number of rows dropped so far.
func (r *Reader) Skipped() int {
	return int(r.skipped.Load())
}

// Read returns all data as a 2D float slice.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		row, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}

	return data, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			row, err := r.next()
			if err != nil {
				return
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// next returns the next well-formed row, skipping malformed ones.
func (r *Reader) next() ([]float64, error) {
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, csv.ErrFieldCount) {
			r.skipped.Add(1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row, err := parseRow(record)
		if err != nil {
			r.skipped.Add(1)
			continue
		}
		return row, nil
	}
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
