package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/sse"
)

// ChatTimeout bounds a whole chat exchange.
const ChatTimeout = 30 * time.Second

// NoReply replaces an empty chat answer.
const NoReply = "I apologize, but I encountered an issue processing your request."

// ErrChat is returned when the chat endpoint answers with an error status.
var ErrChat = errors.New("chat request failed")

// ChatRequest is the body posted to the chat stream endpoint.
type ChatRequest struct {
	Message      string  `json:"message"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// ChatReply is a finished chat answer. Address is set when the answer names a wallet to analyse.
type ChatReply struct {
	Content string
	Address string
}

// chatFrame is a frame of the chat stream.
type chatFrame struct {
	Status  string  `json:"status"`
	Type    string  `json:"type"`
	Content *string `json:"content"`
}

// Chat posts req to the chat stream of server and accumulates the answer, calling onDelta, when not nil, with every
// piece of content as it arrives.
func Chat(ctx context.Context, c *http.Client, server string, req ChatRequest, onDelta func(string)) (ChatReply,
	error) {
	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return ChatReply{}, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/chat-sentrysol-stream",
		bytes.NewReader(body))
	if err != nil {
		return ChatReply{}, err
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "text/event-stream")

	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(r)
	if err != nil {
		return ChatReply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ChatReply{}, fmt.Errorf("%w: status %d", ErrChat, resp.StatusCode)
	}

	return ReadChat(resp.Body, onDelta)
}

// ReadChat consumes a chat stream until its done frame, [DONE] or the end of r.
func ReadChat(r io.Reader, onDelta func(string)) (ChatReply, error) {
	var content strings.Builder

	sc := sse.NewScanner(r)
loop:
	for sc.Next() {
		data := strings.TrimSpace(sc.Event().Data)
		if data == sse.DoneData {
			break
		}

		var f chatFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			continue
		}
		switch {
		case f.Status != "":
			continue
		case f.Type == "content" && f.Content != nil:
			content.WriteString(*f.Content)
			if onDelta != nil {
				onDelta(*f.Content)
			}
		case f.Type == "done":
			break loop
		}
	}
	if err := sc.Err(); err != nil {
		return ChatReply{}, err
	}

	return Finish(content.String()), nil
}

// Finish interprets an accumulated answer. A JSON answer of type address_detected names the address to analyse; a
// plain text answer is searched for an address.
func Finish(content string) ChatReply {
	reply := ChatReply{Content: content}

	var v struct {
		Type     string `json:"type"`
		Address  string `json:"address"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		switch {
		case v.Type == "address_detected" && v.Address != "":
			reply.Address = v.Address
			if v.Response != "" {
				reply.Content = v.Response
			}
		case v.Type == "chat" && v.Response != "":
			reply.Content = v.Response
		}
	} else if a, ok := address.Detect(content); ok {
		reply.Address = a
	}

	if reply.Content == "" {
		reply.Content = NoReply
	}
	return reply
}
