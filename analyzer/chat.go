package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/llm"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/sse"
)

// ChatMessage is the body of the chat endpoints.
type ChatMessage struct {
	Message      string  `json:"message"`
	Address      string  `json:"address,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// ChatAnalysis is the analysis attached to a mock chat reply.
type ChatAnalysis struct {
	Address    string  `json:"address"`
	RiskLevel  string  `json:"risk_level"`
	Confidence float64 `json:"confidence"`
}

// ChatReply is the body of the chat endpoint.
type ChatReply struct {
	Response string       `json:"response"`
	Analysis ChatAnalysis `json:"analysis"`
}

// QuickAnalysis summarises the recent history of the address a chat question is about.
type QuickAnalysis struct {
	RecentTransactions int    `json:"recent_transactions"`
	RiskScore          int    `json:"risk_score"`
	Address            string `json:"address"`
}

// ChatAnalyzeReply is the body of the chat analysis endpoint.
type ChatAnalyzeReply struct {
	Response      string         `json:"response"`
	QuickAnalysis *QuickAnalysis `json:"quick_analysis"`
	Timestamp     string         `json:"timestamp"`
}

// mockReplies are the answers of the chat endpoint. %s is the address of the request.
var mockReplies = []string{
	"Analyzing address %s...",
	"Based on the transaction patterns, this appears to be a normal trading wallet.",
	"The wallet shows regular DeFi interactions with no major red flags.",
	"Risk assessment indicates low to moderate risk level.",
	"Recommendation: Monitor for unusual activity patterns.",
}

// noModelReply answers chat questions when no language model is configured.
const noModelReply = "I can run a deep security analysis of any Solana or Ethereum wallet: transaction history, " +
	"token holdings, counterparties and known threat indicators. Share an address to get started."

// decode reads the chat message of r.
func decode(r *http.Request) (ChatMessage, error) {
	var m ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return m, nil
}

// chatHandler replies one of the canned answers.
func (a *Analyzer) chatHandler(rw http.ResponseWriter, r *http.Request) {
	m, err := decode(r)
	if err != nil {
		a.reply(rw, status(err), nil, err)
		return
	}

	addr := m.Address
	if addr == "" {
		addr = "No address provided"
	}
	reply := mockReplies[rand.IntN(len(mockReplies))]
	if strings.Contains(reply, "%s") {
		named := m.Address
		if named == "" {
			named = "provided"
		}
		reply = fmt.Sprintf(reply, named)
	}

	a.reply(rw, http.StatusOK, ChatReply{
		Response: reply,
		Analysis: ChatAnalysis{Address: addr, RiskLevel: "low", Confidence: 0.85},
	}, nil)
}

// chatAnalyzeHandler answers a question with the language model, adding a quick analysis of the address given.
func (a *Analyzer) chatAnalyzeHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res ChatAnalyzeReply

	defer func() {
		if err != nil {
			a.log.WithError(err).Warn("chat analysis failed")
			a.reply(rw, status(err), nil, err)
			return
		}
		a.reply(rw, http.StatusOK, res, nil)
	}()

	var m ChatMessage
	if m, err = decode(r); err != nil {
		return
	}
	if strings.TrimSpace(m.Message) == "" {
		err = ErrNoMessage
		return
	}

	if m.Address != "" {
		if _, err = address.Validate(m.Address); err != nil {
			return
		}
		if a.txs == nil {
			err = ErrNoTxs
			return
		}
		txs, terr := a.txs.Transactions(r.Context(), m.Address, QuickLimit)
		if terr != nil {
			err = errors.Join(ErrNoTxs, terr)
			return
		}
		res.QuickAnalysis = &QuickAnalysis{
			RecentTransactions: len(txs),
			RiskScore:          analysis.AnalyzePatterns(txs).RiskScore,
			Address:            m.Address,
		}
	}

	res.Response = noModelReply
	if a.llm != nil {
		facts := ""
		if q := res.QuickAnalysis; q != nil {
			facts = fmt.Sprintf("address %s, %d recent transactions, pattern risk score %d/100", q.Address,
				q.RecentTransactions, q.RiskScore)
		}
		if res.Response, err = a.llm.Complete(r.Context(), llm.ChatPrompt(m.Message, facts)); err != nil {
			return
		}
	}
	res.Timestamp = a.now().UTC().Format(time.RFC3339)
}

// chatFrame is a frame of the chat stream.
type chatFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// chatStreamHandler streams the answer to a chat message as Server-Sent Events: a status frame, content deltas, a
// done frame and [DONE].
func (a *Analyzer) chatStreamHandler(rw http.ResponseWriter, r *http.Request) {
	m, err := decode(r)
	if err == nil && strings.TrimSpace(m.Message) == "" {
		err = ErrNoMessage
	}
	if err != nil {
		a.reply(rw, status(err), nil, err)
		return
	}

	streaming(rw)
	w, err := sse.NewWriter(rw)
	if err != nil {
		a.reply(rw, http.StatusInternalServerError, nil, err)
		return
	}
	defer metrics.StreamOpened("chat")()

	if err = w.JSON(map[string]string{"status": "Processing your request..."}); err != nil {
		return
	}
	if a.llm != nil {
		err = a.streamModel(r, w, m)
	} else {
		err = a.streamMock(r, w, m)
	}
	if err != nil {
		a.log.WithError(err).Info("chat stream closed")
		return
	}
	if err = w.JSON(chatFrame{Type: "done"}); err == nil {
		_ = w.Done()
	}
}

// streamModel relays the deltas of the language model. A model failure is sent as an error frame and ends the
// answer.
func (a *Analyzer) streamModel(r *http.Request, w *sse.Writer, m ChatMessage) error {
	msgs := llm.ChatPrompt(m.Message, "")
	if m.SystemPrompt != "" {
		msgs[0].Content = m.SystemPrompt
	}

	s, err := a.llm.Stream(r.Context(), msgs)
	if err != nil {
		a.log.WithError(err).Warn("chat model unavailable")
		return w.JSON(chatFrame{Type: "error", Error: err.Error()})
	}
	defer s.Close()

	for s.Next() {
		if err := w.JSON(chatFrame{Type: "content", Content: s.Delta()}); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		a.log.WithError(err).Warn("chat model stream failed")
		return w.JSON(chatFrame{Type: "error", Error: err.Error()})
	}
	return nil
}

// streamMock sends a canned answer word by word. A message naming an address is answered with an address_detected
// JSON document so the client starts the analysis.
func (a *Analyzer) streamMock(r *http.Request, w *sse.Writer, m ChatMessage) error {
	text := noModelReply
	if addr, ok := address.Detect(m.Message); ok {
		b, err := json.Marshal(map[string]string{
			"type":     "address_detected",
			"address":  addr,
			"response": fmt.Sprintf("I detected the wallet address %s. Starting a deep security analysis now.", addr),
		})
		if err != nil {
			return err
		}
		text = string(b)
	}

	for i, word := range strings.SplitAfter(text, " ") {
		if i > 0 && a.chatDelay > 0 {
			select {
			case <-time.After(a.chatDelay):
			case <-r.Context().Done():
				return r.Context().Err()
			}
		}
		if err := w.JSON(chatFrame{Type: "content", Content: word}); err != nil {
			return err
		}
	}
	return nil
}
