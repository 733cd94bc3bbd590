package analysis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeTx(t *testing.T) {
	cases := []struct {
		name     string
		tx       string
		sig      interface{}
		accounts interface{}
	}{
		{"signatureRecord", `{"signature":"sig1","blockTime":1700000000,"slot":5}`, "sig1", []interface{}{}},
		{"txHash", `{"txHash":"h1","accountKeys":["a","b"]}`, "h1", []interface{}{"a", "b"}},
		{"emptySignatureFallsBack", `{"signature":"","id":"id1","accounts":[]}`, "id1", []interface{}{}},
		{"rpcTransaction", `{"blockTime":1,"transaction":{"signatures":["s9"],"message":{"accountKeys":["k"],` +
			`"instructions":[{"programId":"p"}]}}}`, "s9", []interface{}{"k"}},
		{"nothing", `{}`, nil, []interface{}{}},
	}
	for _, c := range cases {
		s := SummarizeTx(json.RawMessage(c.tx))
		assert.Equal(t, c.sig, s.Signature, c.name)
		assert.Equal(t, c.accounts, s.Accounts, c.name)
		assert.JSONEq(t, c.tx, string(s.Raw), c.name)
	}

	s := SummarizeTx(json.RawMessage(`{"parsed":{"instructions":[1]},"tokenTransfers":[{"mint":"m"}],"blockTime":7}`))
	assert.Equal(t, []interface{}{float64(1)}, s.Instructions)
	assert.Equal(t, []interface{}{map[string]interface{}{"mint": "m"}}, s.TokenTransfers)
	assert.Equal(t, float64(7), s.BlockTime)
}

func TestAggregate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	doc, err := Aggregate([]json.RawMessage{json.RawMessage(`{"signature":"a"}`), json.RawMessage(`{"signature":"b"}`)},
		json.RawMessage(`{"risk_score":5}`), me, "notes here", now)
	require.NoError(t, err)

	var c struct {
		Target     string `json:"target_address"`
		Count      int    `json:"helix_tx_count"`
		Txs        []map[string]interface{}
		Metasleuth map[string]interface{}
		Notes      string
		FetchedAt  int64 `json:"fetched_at"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &c))
	assert.Equal(t, me, c.Target)
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, "b", c.Txs[1]["signature"])
	assert.Equal(t, float64(5), c.Metasleuth["risk_score"])
	assert.Equal(t, "notes here", c.Notes)
	assert.Equal(t, int64(1700000000), c.FetchedAt)
	assert.Contains(t, doc, "\n  \"target_address\"")

	doc, err = Aggregate(nil, nil, me, "", now)
	require.NoError(t, err)
	assert.Contains(t, doc, `"metasleuth": null`)
	assert.Contains(t, doc, `"txs": []`)
}
