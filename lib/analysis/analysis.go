// Package analysis produces the progress updates of a wallet security analysis.
//
// An Analyzer emits a sequence of Updates: steps with increasing progress, the last one (progress 100) carrying the
// analysis result, the detailed data and, when available, the transaction graph. Failures that stop the analysis
// are reported with a final update at step ErrorStep.
package analysis

import (
	"context"
	"errors"
)

// ErrorStep is the step of the update reporting a failed analysis.
const ErrorStep = -1

// Risk levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// ErrAborted is returned when the consumer of the updates went away.
var ErrAborted = errors.New("analysis aborted by consumer")

// Update is one progress message of an analysis.
type Update struct {
	Step             int                    `json:"step"`
	Status           string                 `json:"status"`
	Progress         int                    `json:"progress"`
	Data             map[string]interface{} `json:"data,omitempty"`
	AnalysisResult   interface{}            `json:"analysis_result,omitempty"`
	DetailedData     interface{}            `json:"detailed_data,omitempty"`
	TransactionGraph interface{}            `json:"transaction_graph,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Critical         bool                   `json:"critical,omitempty"`
}

// Complete reports whether u is the final update of a successful analysis.
func (u Update) Complete() bool {
	return u.Step > 0 && u.Progress >= 100 && u.Error == ""
}

// Failed returns the update reporting an analysis stopped by err.
func Failed(err error) Update {
	return Update{
		Step:     ErrorStep,
		Status:   "Analysis failed: " + err.Error(),
		Progress: 0,
		Error:    err.Error(),
		Critical: true,
	}
}

// Emit receives the updates of an analysis. An error stops the analysis.
type Emit func(Update) error

// Analyzer runs analyses.
type Analyzer interface {
	// Analyze emits the updates of the analysis of address. It returns when the last update was emitted, when emit
	// fails or when ctx is done.
	Analyze(ctx context.Context, address string, emit Emit) error
}

// RiskLevel maps a 0..100 score to a level: low below 30, medium below 70, high otherwise.
func RiskLevel(score float64) string {
	switch {
	case score < 30:
		return LevelLow
	case score < 70:
		return LevelMedium
	}
	return LevelHigh
}

// Confidence maps a 0..100 score to a threat confidence: High above 70, Medium above 40, Low otherwise.
func Confidence(score float64) string {
	switch {
	case score > 70:
		return "High"
	case score > 40:
		return "Medium"
	}
	return "Low"
}
