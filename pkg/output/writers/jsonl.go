// Package writers persists run events: a JSONL event log for machines and
// a Markdown summary for people.
package writers

import (
	"io"
	"sync"

	"github.com/recondrone/drone/pkg/jsonutil"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
)

// Compile-time interface check.
var _ dispatcher.Writer = (*JSONLWriter)(nil)

// JSONLWriter writes events as newline-delimited JSON (JSONL).
// Each event is one complete JSON object on one line, so the log can be
// tailed and fed to jq while the run is in progress.
type JSONLWriter struct {
	w       io.Writer
	mu      sync.Mutex
	opts    JSONLOptions
	encoder *jsonutil.Encoder
}

// JSONLOptions configures the JSONL writer behavior.
type JSONLOptions struct {
	// Types limits the log to these event types. Empty writes all.
	Types []events.EventType

	// Pretty enables indented JSON output.
	// Note: This is not JSONL compliant but useful for debugging.
	Pretty bool
}

// NewJSONLWriter creates a new JSONL writer that writes to w.
// The writer is safe for concurrent use.
func NewJSONLWriter(w io.Writer, opts JSONLOptions) *JSONLWriter {
	encoder := jsonutil.NewStreamEncoder(w)
	if opts.Pretty {
		encoder.SetIndent("  ")
	}
	return &JSONLWriter{
		w:       w,
		opts:    opts,
		encoder: encoder,
	}
}

// Write writes an event as a single JSON line.
func (jw *JSONLWriter) Write(event events.Event) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.encoder.Encode(event)
}

// Flush syncs the underlying file if there is one.
func (jw *JSONLWriter) Flush() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if s, ok := jw.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close closes the writer and releases any resources.
// If the underlying writer implements io.Closer, it will be closed.
func (jw *JSONLWriter) Close() error {
	if closer, ok := jw.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// SupportsEvent reports whether eventType passes the Types filter.
func (jw *JSONLWriter) SupportsEvent(eventType events.EventType) bool {
	if len(jw.opts.Types) == 0 {
		return true
	}
	for _, t := range jw.opts.Types {
		if t == eventType {
			return true
		}
	}
	return false
}
