// Package sse writes and reads Server-Sent Events streams.
//
// Payloads are always carried in "data:" fields. Completion of an analysis or chat stream is signalled with the
// DoneData sentinel and liveness with HeartbeatData, which browser EventSource clients see as regular messages.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Sentinel payloads.
const (
	DoneData      = "[DONE]"
	HeartbeatData = "heartbeat"
)

// ErrNoFlush is returned when the ResponseWriter cannot stream.
var ErrNoFlush = errors.New("sse: streaming unsupported by response writer")

// Writer emits events on an HTTP response. It is safe for concurrent use so a heartbeat goroutine can share it
// with the producer.
type Writer struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// NewWriter sets the event-stream headers, writes the 200 status and returns a Writer.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlush
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &Writer{w: w, f: f}, nil
}

// Data writes one event whose payload is s. Multi-line payloads are split over several data fields.
func (s *Writer) Data(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// JSON marshals v and writes it as one event.
func (s *Writer) JSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: cannot marshal event: %w", err)
	}
	return s.Data(string(b))
}

// Done writes the completion sentinel.
func (s *Writer) Done() error {
	return s.Data(DoneData)
}

// Heartbeat writes a liveness event.
func (s *Writer) Heartbeat() error {
	return s.Data(HeartbeatData)
}

// IsHeartbeat reports whether data is one of the liveness payloads clients recognise.
func IsHeartbeat(data string) bool {
	return data == "keepalive" || data == "ping" || strings.Contains(data, HeartbeatData)
}
