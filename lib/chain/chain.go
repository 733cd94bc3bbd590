// Package chain defines the interface required from the blockchain indexers the live analysis reads from. Chain data
// is never decoded from raw blocks: indexers return JSON that the analysis keeps mostly opaque.
package chain

import (
	"context"
	"encoding/json"
	"errors"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Solana is the set of indexer calls used by the live analysis. Raw results are the "result" member of the JSON-RPC
// response.
type Solana interface {
	// Signatures returns the most recent signature records of address, newest first.
	Signatures(ctx context.Context, address string, limit int) ([]json.RawMessage, error)
	Transaction(ctx context.Context, signature string) (json.RawMessage, error)
	// TokenAccounts returns the SPL token accounts owned by owner.
	TokenAccounts(ctx context.Context, owner string) ([]json.RawMessage, error)
	// TokenAccountTotal returns how many token accounts owner holds, as counted by the DAS index.
	TokenAccountTotal(ctx context.Context, owner string) (int, error)
	// Assets returns the non fungible assets owned by owner.
	Assets(ctx context.Context, owner string, limit int) ([]json.RawMessage, error)
	// Balance returns the balance of address in lamports.
	Balance(ctx context.Context, address string) (uint64, error)
	AccountInfo(ctx context.Context, address string) (json.RawMessage, error)
	MultipleAccounts(ctx context.Context, addresses []string) (json.RawMessage, error)
	// EnhancedTransactions returns parsed transactions of address, newest first.
	EnhancedTransactions(ctx context.Context, address string, limit int) ([]EnhancedTx, error)
}

// EnhancedTx is a parsed transaction as returned by the Helius enhanced transactions API.
type EnhancedTx struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"` // unix seconds
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	Fee             uint64           `json:"fee"`
	FeePayer        string           `json:"feePayer"`
	Description     string           `json:"description"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
	AccountData     []AccountData    `json:"accountData"`
}

// NativeTransfer is a SOL movement inside a transaction, in lamports.
type NativeTransfer struct {
	From   string `json:"fromUserAccount"`
	To     string `json:"toUserAccount"`
	Amount uint64 `json:"amount"`
}

// TokenTransfer is an SPL token movement inside a transaction.
type TokenTransfer struct {
	From   string  `json:"fromUserAccount"`
	To     string  `json:"toUserAccount"`
	Amount float64 `json:"tokenAmount"`
	Mint   string  `json:"mint"`
}

// AccountData lists an account touched by a transaction.
type AccountData struct {
	Account             string `json:"account"`
	NativeBalanceChange int64  `json:"nativeBalanceChange"`
}

// Accounts returns the accounts touched by tx, in order.
func (tx EnhancedTx) Accounts() []string {
	a := make([]string, 0, len(tx.AccountData))
	for _, d := range tx.AccountData {
		a = append(a, d.Account)
	}
	return a
}

// Error codes.
var (
	ErrNoResult = errors.New("response does not contain a result")
	ErrNoTrx    = errors.New("transaction not found")
	ErrStatus   = errors.New("unexpected response status")
)
