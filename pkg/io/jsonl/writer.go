// Package jsonl writes detection results as JSON lines.
package jsonl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	anomio "github.com/hed1ad/goguardml/pkg/io"
)

var _ anomio.Writer = (*Writer)(nil)

// Writer emits one JSON object per result. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter writes to dst. Close does not close dst.
func NewWriter(dst io.Writer) *Writer {
	enc := json.NewEncoder(dst)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Create truncates or creates filename and writes to it.
func Create(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write outputs a single result.
func (w *Writer) Write(result anomio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(result); err != nil {
		return fmt.Errorf("encode result %d: %w", result.Index, err)
	}
	return nil
}

// WriteAll outputs results in order, stopping at the first failure.
func (w *Writer) WriteAll(results []anomio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
