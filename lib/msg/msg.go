// Package msg defines the interface for the message brokers that carry analysis reports to other services (alerting,
// dashboards, compliance archives).
package msg

import (
	"strings"
	"sync"
	"time"
)

// Exchange receives every analysis report.
const Exchange = "ar"

// Report summarizes a completed analysis.
type Report struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Chain     string    `json:"chain"`
	RiskScore float64   `json:"risk_score"`
	RiskLevel string    `json:"risk_level"`
	Threats   []string  `json:"threats,omitempty"`
	Mode      string    `json:"mode"`
	Time      time.Time `json:"time"`
}

// RoutingKey returns the topic of r: <chain>.<level>.<address>, lower case chain and level. Consumers bind with
// patterns such as "solana.high.*" or "*.critical.*".
func (r Report) RoutingKey() string {
	level := strings.ToLower(r.RiskLevel)
	if level == "" {
		level = "unknown"
	}
	return strings.ToLower(r.Chain) + "." + level + "." + r.Address
}

// MsgBroker is the interface of a report broker.
type MsgBroker interface {
	Setup() error
	Close() error

	// SendReport publishes r to the reports exchange.
	SendReport(r Report) error
	// GetReports consumes the reports matching the binding pattern. The consumer must unlock mut after processing
	// each report, which acknowledges it.
	GetReports(queue, pattern string, mut *sync.Mutex) (<-chan Report, <-chan error, error)
}

// Nop is a broker that drops every report. It is used when no broker is configured.
type Nop struct{}

// Setup implements MsgBroker.
func (Nop) Setup() error { return nil }

// Close implements MsgBroker.
func (Nop) Close() error { return nil }

// SendReport implements MsgBroker.
func (Nop) SendReport(Report) error { return nil }

// GetReports implements MsgBroker. The returned channels never deliver.
func (Nop) GetReports(string, string, *sync.Mutex) (<-chan Report, <-chan error, error) {
	return make(chan Report), make(chan error), nil
}
