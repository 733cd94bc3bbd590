// Package store defines the interface for the databases keeping the analysis history of wallet addresses.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Table (or collection) holding the analyses.
const Table = "wallet_analyses"

// DefaultLimit is the number of analyses returned by GetHistory when no positive limit is given.
const DefaultLimit = 10

// Analysis is a completed wallet analysis.
type Analysis struct {
	ID            string          `json:"id"`
	WalletAddress string          `json:"wallet_address"`
	AnalysisData  json.RawMessage `json:"analysis_data"` // final update of the run
	RiskScore     float64         `json:"risk_score"`
	RiskLevel     string          `json:"risk_level"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DB defines the required methods of a history store.
type DB interface {
	// SaveAnalysis stores a and returns its id. Empty ids and zero creation times are filled in.
	SaveAnalysis(ctx context.Context, a Analysis) (string, error)
	// GetHistory returns up to limit analyses of address, newest first.
	GetHistory(ctx context.Context, address string, limit int) ([]Analysis, error)
	// DeleteHistory removes every analysis of address and returns how many were removed.
	DeleteHistory(ctx context.Context, address string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Errors returned
var (
	ErrNoAddress = errors.New("analysis has no wallet address")
	ErrNotFound  = errors.New("no analyses found for address")
	ErrNoData    = errors.New("analysis data must be a JSON value")
)

// Check validates a before saving and fills in its defaults.
func Check(a *Analysis, newID func() string, now func() time.Time) error {
	if a.WalletAddress == "" {
		return ErrNoAddress
	}
	if len(a.AnalysisData) == 0 || !json.Valid(a.AnalysisData) {
		return ErrNoData
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now().UTC()
	}
	return nil
}

// Limit returns limit, or DefaultLimit when limit is not positive.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
