package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twputra/sentrysol-beta-v2/lib/chain"
	"github.com/twputra/sentrysol-beta-v2/lib/llm"
	"github.com/twputra/sentrysol-beta-v2/lib/logging"
)

// fakeChain serves canned indexer data. Methods listed in fail return an error.
type fakeChain struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakeChain(fail ...string) *fakeChain {
	f := &fakeChain{calls: map[string]int{}, fail: map[string]bool{}}
	for _, m := range fail {
		f.fail[m] = true
	}
	return f
}

func (f *fakeChain) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.fail[method] {
		return errors.New(method + " unavailable")
	}
	return nil
}

func (f *fakeChain) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func raws(s ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(s))
	for i := range s {
		out[i] = json.RawMessage(s[i])
	}
	return out
}

func (f *fakeChain) Signatures(_ context.Context, _ string, limit int) ([]json.RawMessage, error) {
	if limit == HistoryLimit {
		if err := f.hit("history"); err != nil {
			return nil, err
		}
	} else if err := f.hit("signatures"); err != nil {
		return nil, err
	}
	return raws(`{"signature":"sig1","blockTime":1700000000}`, `{"signature":"sig2","blockTime":1699990000}`), nil
}

func (f *fakeChain) Transaction(context.Context, string) (json.RawMessage, error) {
	if err := f.hit("transaction"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"blockTime":1700000000,"transaction":{"signatures":["sig1"]}}`), nil
}

func (f *fakeChain) TokenAccounts(context.Context, string) ([]json.RawMessage, error) {
	if err := f.hit("tokens"); err != nil {
		return nil, err
	}
	return raws(`{"pubkey":"t1"}`, `{"pubkey":"t2"}`, `{"pubkey":"t3"}`, `{"pubkey":"t4"}`, `{"pubkey":"t5"}`,
		`{"pubkey":"t6"}`), nil
}

func (f *fakeChain) TokenAccountTotal(context.Context, string) (int, error) {
	if err := f.hit("total"); err != nil {
		return 0, err
	}
	return 6, nil
}

func (f *fakeChain) Assets(context.Context, string, int) ([]json.RawMessage, error) {
	if err := f.hit("assets"); err != nil {
		return nil, err
	}
	return raws(`{"id":"nft1"}`), nil
}

func (f *fakeChain) Balance(context.Context, string) (uint64, error) {
	if err := f.hit("balance"); err != nil {
		return 0, err
	}
	return 3 * chain.LamportsPerSOL, nil
}

func (f *fakeChain) AccountInfo(context.Context, string) (json.RawMessage, error) {
	if err := f.hit("info"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"value":{"executable":true}}`), nil
}

func (f *fakeChain) MultipleAccounts(context.Context, []string) (json.RawMessage, error) {
	if err := f.hit("multiple"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"value":[{"lamports":3000000000}]}`), nil
}

func (f *fakeChain) EnhancedTransactions(context.Context, string, int) ([]chain.EnhancedTx, error) {
	return nil, f.hit("enhanced")
}

type fakeScorer struct {
	raw string
	err error
}

func (s fakeScorer) Score(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(s.raw), s.err
}

type fakeLLM struct {
	reply  string
	err    error
	prompt []llm.Message
}

func (l *fakeLLM) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	l.prompt = msgs
	return l.reply, l.err
}

func newTestLive(c chain.Solana, s fakeScorer, l Completer) *Live {
	lv := NewLive(c, s, l, logging.Discard())
	lv.Pause = 0
	lv.now = func() time.Time { return time.Unix(1700000100, 0).UTC() }
	return lv
}

func collect(t *testing.T, a Analyzer, addr string) ([]Update, error) {
	t.Helper()
	var got []Update
	err := a.Analyze(context.Background(), addr, func(u Update) error {
		got = append(got, u)
		return nil
	})
	return got, err
}

func TestLive(t *testing.T) {
	fc := newFakeChain()
	model := &fakeLLM{reply: "Here you go:\n```json\n{\"threat_analysis\":{\"risk_score\":80," +
		"\"overall_risk_level\":\"High\",\"potential_threats\":[{\"threat_type\":\"Drainer\"}]}}\n```"}
	lv := newTestLive(fc, fakeScorer{raw: `{"data":{"risk_score":42}}`}, model)

	got, err := collect(t, lv, me)
	require.NoError(t, err)
	require.Len(t, got, 13)

	progress := []int{10, 15, 25, 35, 45, 55, 65, 75, 80, 85, 90, 95, 100}
	for i, u := range got {
		assert.Equal(t, progress[i], u.Progress, "update %d", i)
	}
	assert.Equal(t, 2, got[1].Data["transactions_count"])
	assert.Equal(t, 2, got[3].Data["signatures_count"])
	assert.Equal(t, 6, got[5].Data["tokens_analyzed"])
	assert.Equal(t, 1, got[5].Data["nfts_found"])
	assert.Equal(t, 6, got[5].Data["token_accounts_total"])
	assert.JSONEq(t, `{"data":{"risk_score":42}}`, string(got[7].Data["wallet_score"].(json.RawMessage)))
	assert.Equal(t, "Program", got[9].Data["address_name"])
	assert.Equal(t, 1, got[9].Data["balance_changes_count"])

	final := got[12]
	assert.True(t, final.Complete())
	assert.Equal(t, Summary{RiskScore: 80, RiskLevel: LevelHigh, Threats: []string{"Drainer"}}, Summarize(final))

	det := final.DetailedData.(map[string]interface{})
	summary := det["transaction_summary"].(map[string]interface{})
	assert.Equal(t, 2, summary["total_transactions"])
	assert.Equal(t, map[string]interface{}{"lamports": uint64(3 * chain.LamportsPerSOL), "sol": float64(3)},
		summary["balance_changes"])
	tokens := det["token_analysis"].(map[string]interface{})
	assert.Len(t, tokens["token_metadata"], 5)
	assert.Len(t, tokens["nft_metadata"], 1)
	assert.JSONEq(t, `{"value":[{"lamports":3000000000}]}`, string(det["webhook_events"].(json.RawMessage)))

	// the context holds the fetched transaction followed by the history
	require.Len(t, model.prompt, 1)
	assert.Contains(t, model.prompt[0].Content, `"helix_tx_count": 3`)
	assert.Contains(t, model.prompt[0].Content, `"target_address": "`+me+`"`)
	assert.Contains(t, model.prompt[0].Content, "2023-11-14 22:15:00")
	assert.Equal(t, 1, fc.calls["history"])
	assert.Equal(t, 1, fc.calls["transaction"])
}

func TestLiveDegraded(t *testing.T) {
	cases := []struct {
		name   string
		fail   []string
		scorer fakeScorer
		model  Completer
		result interface{}
		name5  string
	}{
		{
			name:   "noModel",
			scorer: fakeScorer{err: errors.New("quota exceeded")},
			result: NoAI,
			name5:  "Program",
		},
		{
			name:   "modelError",
			fail:   []string{"info", "balance", "signatures"},
			scorer: fakeScorer{raw: `{"risk_score":5}`},
			model:  &fakeLLM{err: errors.New("overloaded")},
			result: "Error with AI analysis: overloaded",
			name5:  "Unknown",
		},
		{
			name:   "plainText",
			fail:   []string{"tokens", "assets", "total", "multiple", "transaction"},
			scorer: fakeScorer{raw: `{"risk_score":5}`},
			model:  &fakeLLM{reply: "Nothing suspicious."},
			result: "Nothing suspicious.",
			name5:  "Program",
		},
	}

	for _, c := range cases {
		got, err := collect(t, newTestLive(newFakeChain(c.fail...), c.scorer, c.model), me)
		require.NoError(t, err, c.name)
		require.Len(t, got, 13, c.name)
		assert.Equal(t, c.result, got[12].AnalysisResult, c.name)
		assert.Equal(t, c.name5, got[9].Data["address_name"], c.name)
	}

	got, _ := collect(t, newTestLive(newFakeChain(), fakeScorer{err: errors.New("quota exceeded")}, nil), me)
	assert.JSONEq(t, `{"risk_score":0,"error":"quota exceeded"}`, string(got[7].Data["wallet_score"].(json.RawMessage)))

	got, _ = collect(t, newTestLive(newFakeChain("tokens", "assets", "total"), fakeScorer{}, nil), me)
	assert.Equal(t, 0, got[5].Data["tokens_analyzed"])
	assert.NotContains(t, got[5].Data, "token_accounts_total")
}

func TestLiveHistoryFailure(t *testing.T) {
	fc := newFakeChain("history")
	got, err := collect(t, newTestLive(fc, fakeScorer{}, nil), me)
	require.Error(t, err)
	require.Len(t, got, 2)

	last := got[1]
	assert.Equal(t, ErrorStep, last.Step)
	assert.True(t, last.Critical)
	assert.True(t, strings.HasPrefix(last.Status, "Analysis failed: cannot fetch address history"))
	assert.Equal(t, 1, fc.total())
}

func TestLiveEthereum(t *testing.T) {
	fc := newFakeChain()
	got, err := collect(t, newTestLive(fc, fakeScorer{raw: `{"risk_score":90}`}, nil),
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	require.NoError(t, err)
	require.Len(t, got, 13)
	assert.Equal(t, 0, fc.total())
	assert.Equal(t, 0, got[1].Data["transactions_count"])
	assert.Equal(t, "Unknown", got[9].Data["address_name"])
	assert.Equal(t, LevelHigh, Summarize(got[12]).RiskLevel)
}

func TestLiveInvalidAddress(t *testing.T) {
	got, err := collect(t, newTestLive(newFakeChain(), fakeScorer{}, nil), "not-an-address")
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestLiveAborted(t *testing.T) {
	fc := newFakeChain()
	n := 0
	err := newTestLive(fc, fakeScorer{}, nil).Analyze(context.Background(), me, func(Update) error {
		n++
		if n == 4 {
			return errors.New("client gone")
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 4, n)
	assert.Zero(t, fc.calls["tokens"])
}
