package helius

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/twputra/sentrysol-beta-v2/lib/chain"
)

const addr = "86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY"

// results holds the canned JSON-RPC result of each method.
var results = map[string]string{
	"getSignaturesForAddress": `[{"signature":"sig1","blockTime":1700000000},{"signature":"sig2","blockTime":1699999000}]`,
	"getTransaction":          `{"blockTime":1700000000,"transaction":{"signatures":["sig1"]}}`,
	"getTokenAccountsByOwner": `{"context":{"slot":1},"value":[{"pubkey":"acc1"},{"pubkey":"acc2"},{"pubkey":"acc3"}]}`,
	"getTokenAccounts":        `{"total":7,"limit":1,"token_accounts":[{"address":"acc1"}]}`,
	"getAssetsByOwner":        `{"total":1,"items":[{"id":"nft1","interface":"V1_NFT"}]}`,
	"getBalance":              `{"context":{"slot":1},"value":2500000000}`,
	"getAccountInfo":          `{"context":{"slot":1},"value":{"executable":false,"lamports":2500000000}}`,
	"getMultipleAccounts":     `{"context":{"slot":1},"value":[{"lamports":2500000000}]}`,
}

// node mocks the Helius RPC and enhanced API endpoints, checking the api key on every request.
func node(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if r.Method == http.MethodGet {
			if r.URL.Path != "/v0/addresses/"+addr+"/transactions" || r.URL.Query().Get("limit") != "2" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			io.WriteString(w, `[{"signature":"s1","timestamp":1700000000,"type":"TRANSFER",`+
				`"nativeTransfers":[{"fromUserAccount":"a","toUserAccount":"b","amount":2000000000}],`+
				`"accountData":[{"account":"a"},{"account":"b"}]}]`)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JSONRPC != "2.0" {
			t.Errorf("bad request:%v %+v", err, req)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		res, ok := results[req.Method]
		if !ok {
			io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`)
			return
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+res+`}`)
	}))
}

func TestHelius(t *testing.T) {
	srv := node(t)
	defer srv.Close()

	h, err := New(srv.URL+"/", srv.URL+"/v0", "secret")
	if err != nil {
		t.Fatalf("New:%v", err)
	}
	ctx := context.Background()

	sigs, err := h.Signatures(ctx, addr, 10)
	if err != nil || len(sigs) != 2 || !strings.Contains(string(sigs[0]), "sig1") {
		t.Errorf("Signatures err:%v sigs:%s", err, sigs)
	}

	if tx, err := h.Transaction(ctx, "sig1"); err != nil || !strings.Contains(string(tx), "1700000000") {
		t.Errorf("Transaction err:%v tx:%s", err, tx)
	}

	if acc, err := h.TokenAccounts(ctx, addr); err != nil || len(acc) != 3 {
		t.Errorf("TokenAccounts err:%v acc:%s", err, acc)
	}

	if total, err := h.TokenAccountTotal(ctx, addr); err != nil || total != 7 {
		t.Errorf("TokenAccountTotal err:%v total:%d", err, total)
	}

	if assets, err := h.Assets(ctx, addr, 50); err != nil || len(assets) != 1 {
		t.Errorf("Assets err:%v assets:%s", err, assets)
	}

	if bal, err := h.Balance(ctx, addr); err != nil || bal != 2500000000 {
		t.Errorf("Balance err:%v bal:%d", err, bal)
	}

	if info, err := h.AccountInfo(ctx, addr); err != nil || !strings.Contains(string(info), "executable") {
		t.Errorf("AccountInfo err:%v info:%s", err, info)
	}

	if m, err := h.MultipleAccounts(ctx, []string{addr}); err != nil || !strings.Contains(string(m), "lamports") {
		t.Errorf("MultipleAccounts err:%v m:%s", err, m)
	}

	txs, err := h.EnhancedTransactions(ctx, addr, 2)
	if err != nil || len(txs) != 1 {
		t.Fatalf("EnhancedTransactions err:%v txs:%+v", err, txs)
	}
	if txs[0].NativeTransfers[0].Amount != 2*chain.LamportsPerSOL || len(txs[0].Accounts()) != 2 {
		t.Errorf("unexpected transaction %+v", txs[0])
	}
}

func TestHeliusErrors(t *testing.T) {
	srv := node(t)
	defer srv.Close()
	ctx := context.Background()

	// wrong key
	h, _ := New(srv.URL, srv.URL+"/v0", "wrong")
	if _, err := h.Balance(ctx, addr); !errors.Is(err, chain.ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}
	if _, err := h.EnhancedTransactions(ctx, addr, 2); !errors.Is(err, chain.ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}

	// rpc error object
	saved := results["getBalance"]
	delete(results, "getBalance")
	defer func() { results["getBalance"] = saved }()

	h, _ = New(srv.URL, srv.URL+"/v0", "secret")
	_, err := h.Balance(ctx, addr)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected RPCError, got %v", err)
	}
}

func TestTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
	}))
	defer srv.Close()

	h, _ := New(srv.URL, srv.URL, "")
	if _, err := h.Transaction(context.Background(), "missing"); !errors.Is(err, chain.ErrNoTrx) {
		t.Errorf("expected ErrNoTrx, got %v", err)
	}
}

func TestCanceled(t *testing.T) {
	srv := node(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, _ := New(srv.URL, srv.URL+"/v0", "secret")
	if _, err := h.Signatures(ctx, addr, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
