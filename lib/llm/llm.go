// Package llm is a client of the Mistral chat completions API, the language model behind threat analysis and chat.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/sse"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

// Timeout bounds non-streaming completions. Streams are bounded by their context only.
const Timeout = 2 * time.Minute

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ProviderError is returned when the API answers with a non-200 status.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true for HTTP 429 replies.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// Mistral is a chat completions client.
type Mistral struct {
	url   string // base url, ie. https://api.mistral.ai/v1
	key   string
	model string
	c     *http.Client
}

// New returns a client for the API at url using model.
func New(url, key, model string) *Mistral {
	return &Mistral{url: strings.TrimSuffix(url, "/"), key: key, model: model, c: &http.Client{}}
}

// Model returns the configured model name.
func (m *Mistral) Model() string { return m.model }

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type response struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// post sends the request and returns the response of a 200 reply. On error the body is already closed.
func (m *Mistral) post(ctx context.Context, msgs []Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(request{Model: m.model, Messages: msgs, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.key)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := m.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}

	return resp, nil
}

func readError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	pe := &ProviderError{StatusCode: resp.StatusCode, Message: util.Truncate(string(b), 500)}

	var e struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Error   *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil {
		switch {
		case e.Error != nil && e.Error.Message != "":
			pe.Type, pe.Message = e.Error.Type, e.Error.Message
		case e.Message != "":
			pe.Type, pe.Message = e.Type, e.Message
		}
	}
	return pe
}

// Complete returns the assistant reply to msgs.
func (m *Mistral) Complete(ctx context.Context, msgs []Message) (text string, err error) {
	defer func() { metrics.Upstream("mistral", err) }()

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	resp, err := m.post(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var r response
	if err = json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("llm: response has no choices")
	}

	return r.Choices[0].Message.Content, nil
}

// Stream sends msgs and returns the reply as a stream of text deltas. The caller must Close it.
func (m *Mistral) Stream(ctx context.Context, msgs []Message) (s *Stream, err error) {
	defer func() { metrics.Upstream("mistral", err) }()

	resp, err := m.post(ctx, msgs, true)
	if err != nil {
		return nil, err
	}
	return &Stream{body: resp.Body, sc: sse.NewScanner(resp.Body)}, nil
}

// Stream iterates over the content deltas of a streamed completion.
//
//	for stream.Next() {
//	    fmt.Print(stream.Delta())
//	}
//	if err := stream.Err(); err != nil {
//	    ...
//	}
type Stream struct {
	body  io.ReadCloser
	sc    *sse.Scanner
	delta string
	err   error
}

// Next advances to the next non-empty delta. It returns false once [DONE] is read, at the end of the body or on
// error.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.sc.Next() {
		data := s.sc.Event().Data
		if data == sse.DoneData {
			return false
		}
		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			s.err = fmt.Errorf("llm: parsing stream chunk: %w", err)
			return false
		}
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
			s.delta = c.Choices[0].Delta.Content
			return true
		}
	}
	s.err = s.sc.Err()
	return false
}

// Delta returns the text read by the last successful call to Next.
func (s *Stream) Delta() string { return s.delta }

// Err returns the error that stopped the stream, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the connection.
func (s *Stream) Close() error { return s.body.Close() }
