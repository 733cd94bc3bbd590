// Package helius implements chain.Solana on top of the Helius RPC (JSON-RPC 2.0) and enhanced transactions APIs.
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/twputra/sentrysol-beta-v2/lib/chain"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
)

// Timeout applies to every upstream request.
const Timeout = 15 * time.Second

// TokenProgram is the SPL token program owning fungible token accounts.
const TokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// maximum response body read, indexer pages can be large
const maxBody = 16 << 20

// Helius is a client of the Helius APIs.
type Helius struct {
	rpc string // JSON-RPC url, api key included
	api string // enhanced API base url
	key string
	c   *http.Client
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("helius rpc error %d: %s", e.Code, e.Message)
}

// New returns a client for the given RPC and enhanced API locations, authenticated with key.
func New(rpcURL, apiURL, key string) (*Helius, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("helius: bad rpc url: %w", err)
	}
	if key != "" {
		q := u.Query()
		q.Set("api-key", key)
		u.RawQuery = q.Encode()
	}

	return &Helius{rpc: u.String(), api: apiURL, key: key, c: &http.Client{Timeout: Timeout}}, nil
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call posts a JSON-RPC request and returns its result member.
func (h *Helius) call(ctx context.Context, method string, params interface{}) (res json.RawMessage, err error) {
	defer func() { metrics.Upstream("helius", err) }()

	body, err := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	b, err := h.do(ctx, http.MethodPost, h.rpc, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var r response
	if err = json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%s: cannot decode response: %w", method, err)
	}
	if r.Error != nil {
		return nil, r.Error
	}
	if len(r.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", method, chain.ErrNoResult)
	}

	return r.Result, nil
}

func (h *Helius) do(ctx context.Context, method, u string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d", chain.ErrStatus, resp.StatusCode)
	}

	return b, nil
}

// array splits a JSON array into its elements. Anything else yields no elements.
func array(raw json.RawMessage) []json.RawMessage {
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil
	}
	items := res.Array()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it.Raw))
	}
	return out
}

// Signatures calls getSignaturesForAddress.
func (h *Helius) Signatures(ctx context.Context, address string, limit int) ([]json.RawMessage, error) {
	res, err := h.call(ctx, "getSignaturesForAddress", []interface{}{address, map[string]int{"limit": limit}})
	if err != nil {
		return nil, err
	}
	return array(res), nil
}

// Transaction calls getTransaction at finalized commitment. A null result returns chain.ErrNoTrx.
func (h *Helius) Transaction(ctx context.Context, signature string) (json.RawMessage, error) {
	res, err := h.call(ctx, "getTransaction", []interface{}{signature, map[string]interface{}{
		"commitment":                     "finalized",
		"maxSupportedTransactionVersion": 0,
	}})
	if err != nil {
		return nil, err
	}
	if gjson.ParseBytes(res).Type == gjson.Null {
		return nil, chain.ErrNoTrx
	}
	return res, nil
}

// TokenAccounts calls getTokenAccountsByOwner for the SPL token program.
func (h *Helius) TokenAccounts(ctx context.Context, owner string) ([]json.RawMessage, error) {
	res, err := h.call(ctx, "getTokenAccountsByOwner", []interface{}{
		owner,
		map[string]string{"programId": TokenProgram},
		map[string]string{"encoding": "jsonParsed"},
	})
	if err != nil {
		return nil, err
	}
	return array(json.RawMessage(gjson.GetBytes(res, "value").Raw)), nil
}

// TokenAccountTotal calls the DAS getTokenAccounts method with a page of one and returns its total.
func (h *Helius) TokenAccountTotal(ctx context.Context, owner string) (int, error) {
	res, err := h.call(ctx, "getTokenAccounts", map[string]interface{}{"owner": owner, "limit": 1})
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(res, "total").Int()), nil
}

// Assets calls the DAS getAssetsByOwner method, fungible tokens excluded.
func (h *Helius) Assets(ctx context.Context, owner string, limit int) ([]json.RawMessage, error) {
	res, err := h.call(ctx, "getAssetsByOwner", map[string]interface{}{
		"ownerAddress": owner,
		"page":         1,
		"limit":        limit,
		"sortBy":       map[string]string{"sortBy": "created", "sortDirection": "asc"},
		"options": map[string]bool{
			"showFungible":      false,
			"showNativeBalance": false,
			"showZeroBalance":   false,
		},
	})
	if err != nil {
		return nil, err
	}
	return array(json.RawMessage(gjson.GetBytes(res, "items").Raw)), nil
}

// Balance calls getBalance.
func (h *Helius) Balance(ctx context.Context, address string) (uint64, error) {
	res, err := h.call(ctx, "getBalance", []interface{}{address})
	if err != nil {
		return 0, err
	}
	v := gjson.GetBytes(res, "value")
	if !v.Exists() {
		return 0, fmt.Errorf("getBalance: %w", chain.ErrNoResult)
	}
	return v.Uint(), nil
}

// AccountInfo calls getAccountInfo with parsed encoding.
func (h *Helius) AccountInfo(ctx context.Context, address string) (json.RawMessage, error) {
	return h.call(ctx, "getAccountInfo", []interface{}{address, map[string]string{"encoding": "jsonParsed"}})
}

// MultipleAccounts calls getMultipleAccounts with parsed encoding.
func (h *Helius) MultipleAccounts(ctx context.Context, addresses []string) (json.RawMessage, error) {
	return h.call(ctx, "getMultipleAccounts", []interface{}{addresses, map[string]string{"encoding": "jsonParsed"}})
}

// EnhancedTransactions reads /addresses/{address}/transactions from the enhanced API.
func (h *Helius) EnhancedTransactions(ctx context.Context, address string, limit int) (txs []chain.EnhancedTx,
	err error) {
	defer func() { metrics.Upstream("helius", err) }()

	q := url.Values{}
	q.Set("api-key", h.key)
	q.Set("limit", fmt.Sprint(limit))
	u := fmt.Sprintf("%s/addresses/%s/transactions?%s", h.api, url.PathEscape(address), q.Encode())

	b, err := h.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("enhanced transactions: %w", err)
	}
	if err = json.Unmarshal(b, &txs); err != nil {
		return nil, fmt.Errorf("enhanced transactions: cannot decode response: %w", err)
	}

	return txs, nil
}
