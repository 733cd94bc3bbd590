package analysis

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// TxSummary is the part of a transaction handed to the language model. Raw keeps the whole transaction.
type TxSummary struct {
	Signature      interface{}     `json:"signature"`
	BlockTime      interface{}     `json:"blockTime"`
	Instructions   interface{}     `json:"instructions"`
	TokenTransfers interface{}     `json:"tokenTransfers"`
	Accounts       interface{}     `json:"accounts"`
	Raw            json.RawMessage `json:"raw"`
}

// Context is the document the threat analysis is run on.
type Context struct {
	TargetAddress string          `json:"target_address"`
	TxCount       int             `json:"helix_tx_count"`
	Txs           []TxSummary     `json:"txs"`
	Metasleuth    json.RawMessage `json:"metasleuth"`
	Notes         string          `json:"notes"`
	FetchedAt     int64           `json:"fetched_at"`
}

// truthy reports whether r holds a value other than null, false, zero, "" or an empty array or object.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) > 0
		}
		return len(r.Map()) > 0
	}
	return r.Exists()
}

// first returns the value of the first truthy path of tx, or def.
func first(tx []byte, def interface{}, paths ...string) interface{} {
	for _, p := range paths {
		if r := gjson.GetBytes(tx, p); truthy(r) {
			return r.Value()
		}
	}
	return def
}

// SummarizeTx picks the fields of a transaction the model needs. Signature records, enhanced transactions and
// getTransaction results are all understood.
func SummarizeTx(tx json.RawMessage) TxSummary {
	empty := []interface{}{}
	s := TxSummary{
		Signature:      first(tx, nil, "signature", "txHash", "id", "transaction.signatures.0"),
		Instructions:   first(tx, empty, "instructions", "parsed.instructions", "transaction.message.instructions"),
		TokenTransfers: first(tx, empty, "tokenTransfers"),
		Accounts:       first(tx, empty, "accounts", "accountKeys", "transaction.message.accountKeys"),
		Raw:            tx,
	}
	if bt := gjson.GetBytes(tx, "blockTime"); bt.Exists() {
		s.BlockTime = bt.Value()
	}
	if len(s.Raw) == 0 {
		s.Raw = json.RawMessage("null")
	}
	return s
}

// Aggregate builds the indented context document for target from its transactions and external risk score.
func Aggregate(txs []json.RawMessage, score json.RawMessage, target, notes string, now time.Time) (string, error) {
	c := Context{
		TargetAddress: target,
		TxCount:       len(txs),
		Txs:           make([]TxSummary, 0, len(txs)),
		Metasleuth:    score,
		Notes:         notes,
		FetchedAt:     now.Unix(),
	}
	if len(c.Metasleuth) == 0 {
		c.Metasleuth = json.RawMessage("null")
	}
	for _, tx := range txs {
		c.Txs = append(c.Txs, SummarizeTx(tx))
	}

	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
