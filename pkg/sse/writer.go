package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Writer writes frames of text/event-stream.
//
// Each frame is flushed right after written, when the underlying writer is an http.Flusher.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Header sets response headers for event streams.
func Header(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (w *Writer) flush() {
	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Write writes a frame. Multi-line data is split into data lines.
func (w *Writer) Write(f Frame) error {
	b := &strings.Builder{}
	if f.Event != "" {
		fmt.Fprintf(b, "event: %s\n", f.Event)
	}
	if f.ID != "" {
		fmt.Fprintf(b, "id: %s\n", f.ID)
	}
	if f.HasRetry {
		fmt.Fprintf(b, "retry: %d\n", f.Retry/time.Millisecond)
	}
	for _, l := range strings.Split(f.Data, "\n") {
		fmt.Fprintf(b, "data: %s\n", l)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return err
	}
	w.flush()
	return nil
}

// Data writes a frame with data only.
func (w *Writer) Data(data []byte) error {
	return w.Write(Frame{Data: string(data)})
}

// Comment writes a comment-only frame, which readers take as a heartbeat.
func (w *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return err
	}
	w.flush()
	return nil
}
