package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock(seed uint64) *Mock {
	m := NewMock(0, rand.New(rand.NewPCG(seed, seed+1)))
	m.now = func() time.Time { return time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC) }
	return m
}

func TestMockSteps(t *testing.T) {
	progress := []int{10, 15, 25, 35, 45, 55, 65, 75, 80, 85, 90, 95, 100}

	for seed := uint64(0); seed < 50; seed++ {
		steps := newTestMock(seed).Steps(me)
		require.Len(t, steps, len(progress))
		for i, u := range steps {
			assert.Equal(t, progress[i], u.Progress)
		}

		d := steps[1].Data["transactions_count"].(int)
		assert.True(t, d >= 50 && d < 1050, "transactions_count %d", d)
		s := steps[3].Data["signatures_count"].(int)
		assert.True(t, s >= 5 && s < 25, "signatures_count %d", s)
		tok := steps[5].Data["tokens_analyzed"].(int)
		nft := steps[5].Data["nfts_found"].(int)
		assert.True(t, tok >= 2 && tok < 17 && nft >= 1 && nft < 9, "tokens %d nfts %d", tok, nft)

		final := steps[12]
		assert.True(t, final.Complete())
		ta := final.AnalysisResult.(ThreatReport).ThreatAnalysis
		assert.True(t, ta.RiskScore >= 0 && ta.RiskScore < 100)
		assert.Equal(t, RiskLevel(ta.RiskScore), ta.OverallRiskLevel)
		assert.Equal(t, Confidence(ta.RiskScore), ta.PotentialThreats[0].Confidence)
		if ta.RiskScore > 60 {
			require.Len(t, ta.PotentialThreats, 2)
			assert.Equal(t, "High Risk Score", ta.PotentialThreats[1].ThreatType)
		} else {
			assert.Len(t, ta.PotentialThreats, 1)
		}
		assert.Equal(t, []string{me}, ta.IOC.Addresses)
		assert.Len(t, ta.IOC.TransactionSignatures[0], 88)
		assert.Len(t, ta.IOC.RelatedPrograms[0], 44)

		det := final.DetailedData.(map[string]interface{})
		nfts := det["token_analysis"].(map[string]interface{})["nft_metadata"].([]NFT)
		assert.True(t, len(nfts) >= 1 && len(nfts) <= 3)
		assert.Equal(t, "SMB", nfts[0].Symbol)

		g := final.TransactionGraph.(Graph)
		require.Len(t, g.Nodes, 16)
		assert.Equal(t, "#ff6b6b", g.Nodes[0].Color)
		assert.Equal(t, "#4ecdc4", g.Nodes[5].Color)
		assert.Equal(t, "#45b7d1", g.Nodes[6].Color)
		assert.True(t, len(g.Edges) >= 7 && len(g.Edges) <= 17)
		for _, e := range g.Edges[:7] {
			assert.Equal(t, me, e.From)
		}
		require.NotNil(t, g.Series)
		assert.Len(t, g.Series.Overview, 30)
		assert.Equal(t, "2024-03-15", g.Series.Overview[29].Date)
		assert.Equal(t, "2024-02-15", g.Series.Overview[0].Date)
		assert.Len(t, g.Series.Timeline, 24)
		assert.Equal(t, "12:00 AM", g.Series.Timeline[0].Time)
		assert.Equal(t, "01:00 PM", g.Series.Timeline[13].Time)
	}
}

func TestMockDeterministic(t *testing.T) {
	a, _ := json.Marshal(newTestMock(7).Steps(me))
	b, _ := json.Marshal(newTestMock(7).Steps(me))
	assert.Equal(t, string(a), string(b))
}

func TestMockAnalyze(t *testing.T) {
	var got []Update
	err := newTestMock(1).Analyze(context.Background(), me, func(u Update) error {
		got = append(got, u)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 13)
	assert.Equal(t, "Analysis complete", got[12].Status)

	// consumer gone
	n := 0
	err = newTestMock(1).Analyze(context.Background(), me, func(u Update) error {
		n++
		if n == 3 {
			return errors.New("broken pipe")
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 3, n)
}

func TestMockCanceled(t *testing.T) {
	m := NewMock(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	n := 0
	done := make(chan error)
	go func() {
		done <- m.Analyze(ctx, me, func(Update) error { n++; return nil })
	}()
	time.Sleep(2 * MockFirstDelay)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("Analyze did not stop")
	}
}

func TestMockTransactions(t *testing.T) {
	txs, err := newTestMock(3).Transactions(context.Background(), me, 25)
	require.NoError(t, err)
	require.Len(t, txs, 25)
	for i, tx := range txs {
		require.Len(t, tx.NativeTransfers, 1)
		tr := tx.NativeTransfers[0]
		assert.True(t, tr.From == me || tr.To == me)
		assert.True(t, tr.Amount >= 10_000_000 && tr.Amount <= 5_000_000_000, "amount %d", tr.Amount)
		if i > 0 {
			assert.Less(t, tx.Timestamp, txs[i-1].Timestamp)
		}
	}

	g := BuildGraph(me, txs)
	assert.Len(t, g.TransactionFlows, 25)
	assert.LessOrEqual(t, len(g.Nodes), 9)
}

func TestMockTransactionsLimit(t *testing.T) {
	cases := []struct {
		limit, want int
	}{
		{0, 0},
		{-5, 0},
		{MockMaxTransactions + 1, MockMaxTransactions},
		{1 << 62, MockMaxTransactions},
	}
	for _, c := range cases {
		txs, err := newTestMock(1).Transactions(context.Background(), me, c.limit)
		require.NoError(t, err, "limit %d", c.limit)
		assert.Len(t, txs, c.want, "limit %d", c.limit)
	}
}
