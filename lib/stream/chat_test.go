package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twputra/sentrysol-beta-v2/lib/sse"
)

func TestFinish(t *testing.T) {
	cases := []struct {
		name    string
		content string
		exp     ChatReply
	}{
		{"detected", `{"type":"address_detected","address":"` + wallet + `","response":"Starting analysis"}`,
			ChatReply{Content: "Starting analysis", Address: wallet}},
		{"detectedNoResponse", `{"type":"address_detected","address":"` + wallet + `"}`,
			ChatReply{Content: `{"type":"address_detected","address":"` + wallet + `"}`, Address: wallet}},
		{"chat", `{"type":"chat","response":"Hi there"}`, ChatReply{Content: "Hi there"}},
		{"otherJSON", `{"type":"other","address":"` + wallet + `"}`,
			ChatReply{Content: `{"type":"other","address":"` + wallet + `"}`}},
		{"plainWithAddress", "Have a look at " + wallet + " please",
			ChatReply{Content: "Have a look at " + wallet + " please", Address: wallet}},
		{"plainEthereum", "is 0x742d35Cc6634C0532925a3b844Bc454e4438f44e safe?",
			ChatReply{Content: "is 0x742d35Cc6634C0532925a3b844Bc454e4438f44e safe?",
				Address: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"}},
		{"plain", "Use a hardware wallet.", ChatReply{Content: "Use a hardware wallet."}},
		{"empty", "", ChatReply{Content: NoReply}},
	}
	for _, c := range cases {
		assert.Equal(t, c.exp, Finish(c.content), c.name)
	}
}

func TestReadChat(t *testing.T) {
	input := "data: {\"status\":\"Processing your request...\"}\n\n" +
		"data: {\"type\":\"content\",\"content\":\"Hello \"}\n\n" +
		"data: not json\n\n" +
		"data: {\"type\":\"content\",\"content\":\"world\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n" +
		"data: {\"type\":\"content\",\"content\":\"ignored\"}\n\n" +
		"data: [DONE]\n\n"

	var deltas []string
	reply, err := ReadChat(strings.NewReader(input), func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, ChatReply{Content: "Hello world"}, reply)
	assert.Equal(t, []string{"Hello ", "world"}, deltas)

	// [DONE] alone ends the stream
	reply, err = ReadChat(strings.NewReader("data: {\"type\":\"content\",\"content\":\"a\"}\n\ndata: [DONE]\n\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", reply.Content)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-sentrysol-stream" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sw, _ := sse.NewWriter(w)
		_ = sw.JSON(map[string]string{"status": "Processing your request..."})
		for _, word := range []string{`{"type":"address_detected",`, `"address":"` + wallet + `",`,
			`"response":"Analysing now"}`} {
			_ = sw.JSON(map[string]string{"type": "content", "content": word})
		}
		_ = sw.JSON(map[string]string{"type": "done"})
		_ = sw.Done()
	}))
	defer srv.Close()

	n := 0
	reply, err := Chat(context.Background(), srv.Client(), srv.URL, ChatRequest{Message: "check " + wallet},
		func(string) { n++ })
	require.NoError(t, err)
	assert.Equal(t, ChatReply{Content: "Analysing now", Address: wallet}, reply)
	assert.Equal(t, 3, n)

	_, err = Chat(context.Background(), nil, srv.URL, ChatRequest{}, nil)
	assert.ErrorIs(t, err, ErrChat)
}
