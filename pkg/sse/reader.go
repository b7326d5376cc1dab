package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Frame is a dispatched event of text/event-stream.
type Frame struct {
	Event string
	ID    string
	Data  string

	// Retry is the reconnection time the server requested. Valid only if HasRetry.
	Retry    time.Duration
	HasRetry bool
}

// Heartbeat reports that the frame carries no data, like comment-only frames.
func (f Frame) Heartbeat() bool {
	return strings.TrimSpace(f.Data) == ""
}

// Reader reads frames from text/event-stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next reads lines until a blank line, and returns the frame.
//
// Lines starting with ":" are comments and skipped.
// When the stream ends, it returns io.EOF. An incomplete frame at the end is discarded.
func (r *Reader) Next() (Frame, error) {
	f := Frame{}
	data := []string{}
	seen := false

	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !seen {
				continue
			}
			f.Data = strings.Join(data, "\n")
			return f, nil
		}
		seen = true

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
		case "event":
			f.Event = value
		case "id":
			if !strings.Contains(value, "\x00") {
				f.ID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 63); err == nil {
				f.Retry = time.Duration(ms) * time.Millisecond
				f.HasRetry = true
			}
		}
	}
}
