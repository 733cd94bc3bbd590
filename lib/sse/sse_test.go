package sse

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter:%v", err)
	}

	if err = w.JSON(map[string]int{"step": 1}); err != nil {
		t.Fatalf("JSON:%v", err)
	}
	if err = w.Data("line one\nline two"); err != nil {
		t.Fatalf("Data:%v", err)
	}
	_ = w.Heartbeat()
	_ = w.Done()

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type=%q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control=%q", cc)
	}
	exp := "data: {\"step\":1}\n\n" +
		"data: line one\ndata: line two\n\n" +
		"data: heartbeat\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != exp {
		t.Errorf("body=%q expected %q", got, exp)
	}
	if !rec.Flushed {
		t.Error("writer did not flush")
	}
}

type noFlush struct{ http.ResponseWriter }

func TestWriterNoFlush(t *testing.T) {
	if _, err := NewWriter(noFlush{httptest.NewRecorder()}); !errors.Is(err, ErrNoFlush) {
		t.Errorf("expected ErrNoFlush, got %v", err)
	}
}

func TestIsHeartbeat(t *testing.T) {
	for _, d := range []string{"keepalive", "ping", "heartbeat", `{"type":"heartbeat"}`} {
		if !IsHeartbeat(d) {
			t.Errorf("%q should be a heartbeat", d)
		}
	}
	if IsHeartbeat(`{"step":1}`) || IsHeartbeat(DoneData) {
		t.Error("unexpected heartbeat")
	}
}

func TestScanner(t *testing.T) {
	input := ": comment\n" +
		"event: progress\nid: 7\ndata: {\"step\":1}\n\n" +
		"\n\n" +
		"data: a\r\ndata: b\r\n\r\n" +
		"retry: 1000\ndata:no-space\n\n" +
		"data: [DONE]"
	s := NewScanner(strings.NewReader(input))

	exp := []Event{
		{Type: "progress", ID: "7", Data: `{"step":1}`},
		{Data: "a\nb"},
		{Data: "no-space", Retry: time.Second},
		{Data: DoneData},
	}
	for i, e := range exp {
		if !s.Next() {
			t.Fatalf("expected event %d, err:%v", i, s.Err())
		}
		if got := s.Event(); got != e {
			t.Errorf("event %d=%+v expected %+v", i, got, e)
		}
	}
	if s.Next() {
		t.Errorf("unexpected extra event %+v", s.Event())
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestScannerRetry(t *testing.T) {
	cases := []struct {
		field string
		exp   time.Duration
	}{
		{"retry: 2500", 2500 * time.Millisecond},
		{"retry:0", 0},
		{"retry: 1.5", 0},
		{"retry: -10", 0},
		{"retry: 10s", 0},
		{"retry:", 0},
		{"retry: 99999999999999999999", 0},
	}
	for _, c := range cases {
		s := NewScanner(strings.NewReader(c.field + "\ndata: x\n\n"))
		if !s.Next() {
			t.Fatalf("%q: expected an event, err:%v", c.field, s.Err())
		}
		if got := s.Event(); got.Retry != c.exp || got.Data != "x" {
			t.Errorf("%q: event=%+v expected retry %v", c.field, got, c.exp)
		}
	}
}

type failing struct{}

func (failing) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestScannerError(t *testing.T) {
	s := NewScanner(failing{})
	if s.Next() {
		t.Fatal("expected no events")
	}
	if s.Err() == nil || s.Err().Error() != "connection reset" {
		t.Errorf("unexpected error %v", s.Err())
	}
}
