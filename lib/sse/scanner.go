package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is a single Server-Sent Event.
type Event struct {
	// Type is the "event:" field, empty for the default message type.
	Type string
	// ID is the last "id:" field seen in the event.
	ID string
	// Data joins the "data:" lines of the event with newlines.
	Data string
	// Retry is the reconnection time of the "retry:" field, zero when absent. Values that are not plain digits are
	// ignored.
	Retry time.Duration
}

// Scanner reads events from an io.Reader. Events are delimited by blank lines, comment lines (":" prefix) and
// unknown fields are ignored.
//
//	scanner := sse.NewScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    ...
//	}
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner creates a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at the end of the stream or on error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = Event{}

	var data []string
	var ev Event
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				ev.Data = strings.Join(data, "\n")
				s.current = ev
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				s.current = ev
				return true
			}
			ev = Event{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		case "retry":
			if ms, ok := retry(value); ok {
				ev.Retry = ms
			}
		}
	}
}

// Event returns the event read by the last successful call to Next.
func (s *Scanner) Event() Event {
	return s.current
}

// Err returns the error that stopped the scanner, nil on a clean end of stream.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// retry parses a "retry:" value, a base-ten number of milliseconds.
func retry(value string) (time.Duration, bool) {
	if value == "" || strings.TrimLeft(value, "0123456789") != "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
