package analysis

import (
	"time"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/chain"
)

// Pattern thresholds.
const (
	LargeTransfer     = chain.LamportsPerSOL // lamports
	RapidInterval     = 60 * time.Second
	ManyCounterparts  = 100
	largeWeight       = 10
	rapidWeight       = 5
	counterpartWeight = 50
)

// Flow directions relative to the analysed address.
const (
	Inflow  = "inflow"
	Outflow = "outflow"
)

// Patterns are the transaction patterns found in an address history.
type Patterns struct {
	TotalTransactions  int                    `json:"total_transactions"`
	UniqueCounterparts int                    `json:"unique_counterparts"`
	LargeTransactions  []chain.NativeTransfer `json:"large_transactions"`
	RapidTransactions  []string               `json:"rapid_transactions"`
	SuspiciousTiming   []string               `json:"suspicious_timing"`
}

// PatternAnalysis scores an address history.
type PatternAnalysis struct {
	RiskScore            int      `json:"risk_score"`
	Patterns             Patterns `json:"patterns"`
	SuspiciousActivities []string `json:"suspicious_activities"`
}

// AnalyzePatterns scores txs: 10 points per transfer above 1 SOL, 5 per transaction less than a minute apart from
// the previous one and 50 when more than 100 distinct accounts were touched, capped at 100.
func AnalyzePatterns(txs []chain.EnhancedTx) PatternAnalysis {
	pa := PatternAnalysis{
		Patterns: Patterns{
			TotalTransactions: len(txs),
			LargeTransactions: []chain.NativeTransfer{},
			RapidTransactions: []string{},
			SuspiciousTiming:  []string{},
		},
		SuspiciousActivities: []string{},
	}
	if len(txs) == 0 {
		return pa
	}

	seen := make(map[string]struct{})
	for i, tx := range txs {
		for _, a := range tx.Accounts() {
			seen[a] = struct{}{}
		}
		for _, t := range tx.NativeTransfers {
			if t.Amount > LargeTransfer {
				pa.Patterns.LargeTransactions = append(pa.Patterns.LargeTransactions, t)
			}
		}
		if i > 0 {
			d := time.Duration(txs[i-1].Timestamp-tx.Timestamp) * time.Second
			if d < 0 {
				d = -d
			}
			if d < RapidInterval {
				pa.Patterns.RapidTransactions = append(pa.Patterns.RapidTransactions, tx.Signature)
			}
		}
	}
	pa.Patterns.UniqueCounterparts = len(seen)

	score := len(pa.Patterns.LargeTransactions)*largeWeight + len(pa.Patterns.RapidTransactions)*rapidWeight
	if pa.Patterns.UniqueCounterparts > ManyCounterparts {
		score += counterpartWeight
	}
	if score > 100 {
		score = 100
	}
	pa.RiskScore = score

	return pa
}

// Node is a vertex of a transaction graph. Styling fields are only set on fabricated graphs.
type Node struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Type   string  `json:"type,omitempty"`
	IsMain bool    `json:"isMain"`
	Color  string  `json:"color,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Font   *Font   `json:"font,omitempty"`
}

// Font styles a node label.
type Font struct {
	Color string `json:"color"`
}

// Edge aggregates the transfers from one account to another. Weight is the volume in SOL.
type Edge struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Weight float64    `json:"weight"`
	Count  int        `json:"count"`
	Type   string     `json:"type,omitempty"`
	Width  float64    `json:"width,omitempty"`
	Color  *EdgeColor `json:"color,omitempty"`
}

// EdgeColor styles an edge.
type EdgeColor struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// Flow is a single SOL transfer, tagged inflow or outflow.
type Flow struct {
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      float64   `json:"amount"` // SOL
	Token       string    `json:"token"`
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
}

// GraphSummary totals a graph.
type GraphSummary struct {
	TotalNodes  int     `json:"total_nodes"`
	TotalEdges  int     `json:"total_edges"`
	TotalVolume float64 `json:"total_volume"`
}

// Graph is the directed transaction graph around an address.
type Graph struct {
	Nodes            []Node       `json:"nodes"`
	Edges            []Edge       `json:"edges"`
	TransactionFlows []Flow       `json:"transaction_flows"`
	Summary          GraphSummary `json:"summary"`
	Series           *FlowSeries  `json:"flow_series,omitempty"`
}

// BuildGraph builds the graph of the SOL transfers in txs. The analysed address is the first node; other nodes and
// edges keep the order they first appear in. Transfers with an empty side are skipped.
func BuildGraph(addr string, txs []chain.EnhancedTx) Graph {
	g := Graph{
		Nodes:            []Node{{ID: addr, Label: address.Short(addr), Type: "main", IsMain: true}},
		Edges:            []Edge{},
		TransactionFlows: []Flow{},
	}
	nodes := map[string]struct{}{addr: {}}
	edges := make(map[[2]string]int) // index in g.Edges

	addNode := func(id string) {
		if _, ok := nodes[id]; !ok {
			nodes[id] = struct{}{}
			g.Nodes = append(g.Nodes, Node{ID: id, Label: address.Short(id), Type: "external"})
		}
	}

	for _, tx := range txs {
		ts := time.Unix(tx.Timestamp, 0).UTC()
		for _, t := range tx.NativeTransfers {
			if t.From == "" || t.To == "" {
				continue
			}
			addNode(t.From)
			addNode(t.To)

			amount := float64(t.Amount) / chain.LamportsPerSOL
			k := [2]string{t.From, t.To}
			if i, ok := edges[k]; ok {
				g.Edges[i].Weight += amount
				g.Edges[i].Count++
			} else {
				edges[k] = len(g.Edges)
				g.Edges = append(g.Edges, Edge{From: t.From, To: t.To, Weight: amount, Count: 1, Type: "transfer"})
			}

			dir := Inflow
			if t.From == addr {
				dir = Outflow
			}
			g.TransactionFlows = append(g.TransactionFlows, Flow{
				FromAddress: t.From,
				ToAddress:   t.To,
				Amount:      amount,
				Token:       "SOL",
				Signature:   tx.Signature,
				Timestamp:   ts,
				Type:        dir,
			})
		}
	}

	g.Summary = GraphSummary{TotalNodes: len(g.Nodes), TotalEdges: len(g.Edges)}
	for _, e := range g.Edges {
		g.Summary.TotalVolume += e.Weight
	}

	return g
}

// FlowReport splits the flows of a graph by direction.
type FlowReport struct {
	Address   string      `json:"address"`
	GraphData Graph       `json:"graph_data"`
	Inflow    []Flow      `json:"inflow_transactions"`
	Outflow   []Flow      `json:"outflow_transactions"`
	Summary   FlowSummary `json:"summary"`
}

// FlowSummary totals the flows of each direction.
type FlowSummary struct {
	TotalInflow  float64 `json:"total_inflow"`
	TotalOutflow float64 `json:"total_outflow"`
	InflowCount  int     `json:"inflow_count"`
	OutflowCount int     `json:"outflow_count"`
}

// SplitFlows returns the flow report of the graph g of addr.
func SplitFlows(addr string, g Graph) FlowReport {
	r := FlowReport{Address: addr, GraphData: g, Inflow: []Flow{}, Outflow: []Flow{}}
	for _, f := range g.TransactionFlows {
		if f.Type == Outflow {
			r.Outflow = append(r.Outflow, f)
			r.Summary.TotalOutflow += f.Amount
		} else {
			r.Inflow = append(r.Inflow, f)
			r.Summary.TotalInflow += f.Amount
		}
	}
	r.Summary.InflowCount, r.Summary.OutflowCount = len(r.Inflow), len(r.Outflow)

	return r
}
