package analysis

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/chain"
)

// Mock timings.
const (
	MockFirstDelay = 100 * time.Millisecond
	MockStepDelay  = 500 * time.Millisecond
)

// MockMaxTransactions bounds the history fabricated by Transactions.
const MockMaxTransactions = 1000

// Mock graph styling.
const (
	colorCenter = "#ff6b6b"
	colorNear   = "#4ecdc4"
	colorFar    = "#45b7d1"
	colorLabel  = "#ffffff"
	mockNodes   = 15
)

// NFT is a collectible summary.
type NFT struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

var mockNFTs = []NFT{
	{Name: "Solana Monkey #1234", Symbol: "SMB"},
	{Name: "DeGods #5678", Symbol: "DEGOD"},
	{Name: "Okay Bears #9012", Symbol: "BEAR"},
}

// Mock fabricates analyses without calling any upstream service. It is used for demos and front-end development.
type Mock struct {
	first time.Duration
	delay time.Duration

	mu  sync.Mutex // guards r
	r   *rand.Rand
	now func() time.Time
}

// NewMock returns a mock analyzer pausing delay between updates. A nil r seeds a random source.
func NewMock(delay time.Duration, r *rand.Rand) *Mock {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	first := MockFirstDelay
	if delay < first {
		first = delay
	}
	return &Mock{first: first, delay: delay, r: r, now: time.Now}
}

// Analyze implements Analyzer.
func (m *Mock) Analyze(ctx context.Context, addr string, emit Emit) error {
	steps := m.Steps(addr)

	t := time.NewTimer(m.first)
	defer t.Stop()

	for i, u := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := emit(u); err != nil {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		if i < len(steps)-1 {
			t.Reset(m.delay)
		}
	}

	return nil
}

// Steps returns the thirteen updates of a fabricated analysis of addr.
func (m *Mock) Steps(addr string) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.r
	totalTx := r.IntN(1000) + 50
	signatures := r.IntN(20) + 5
	tokens := r.IntN(15) + 2
	nfts := r.IntN(8) + 1
	score := r.IntN(100)
	level := RiskLevel(float64(score))
	walletScore := map[string]int{"risk_score": score}

	report := m.threats(addr, float64(score), level)
	graph := m.graph(addr)

	return []Update{
		{Step: 1, Status: "Fetching address history...", Progress: 10},
		{Step: 1, Status: "Address history fetched", Progress: 15,
			Data: map[string]interface{}{"transactions_count": totalTx}},
		{Step: 2, Status: "Getting transaction signatures...", Progress: 25},
		{Step: 2, Status: "Signatures retrieved", Progress: 35,
			Data: map[string]interface{}{"signatures_count": signatures}},
		{Step: 3, Status: "Analyzing token transfers...", Progress: 45},
		{Step: 3, Status: "Token and NFT metadata collected", Progress: 55,
			Data: map[string]interface{}{"tokens_analyzed": tokens, "nfts_found": nfts}},
		{Step: 4, Status: "Calculating wallet risk score...", Progress: 65},
		{Step: 4, Status: "Wallet score calculated", Progress: 75,
			Data: map[string]interface{}{"wallet_score": walletScore}},
		{Step: 5, Status: "Gathering additional data...", Progress: 80},
		{Step: 5, Status: "Additional data gathered", Progress: 85,
			Data: map[string]interface{}{"address_name": "Unknown", "balance_changes_count": 3}},
		{Step: 6, Status: "Aggregating context for analysis...", Progress: 90},
		{Step: 7, Status: "Running AI analysis...", Progress: 95},
		{
			Step:           8,
			Status:         "Analysis complete",
			Progress:       100,
			AnalysisResult: report,
			DetailedData: map[string]interface{}{
				"wallet_info": map[string]interface{}{
					"address":      addr,
					"address_name": "Unknown",
					"risk_score":   walletScore,
				},
				"transaction_summary": map[string]interface{}{
					"total_transactions": totalTx,
					"recent_signatures":  signatures,
					"balance_changes":    []interface{}{},
				},
				"token_analysis": map[string]interface{}{
					"tokens_found":   tokens,
					"token_metadata": []interface{}{},
					"nfts_found":     nfts,
					"nft_metadata":   mockNFTs[:r.IntN(3)+1],
				},
			},
			TransactionGraph: graph,
		},
	}
}

// threats fabricates the threat analysis. m.mu must be held.
func (m *Mock) threats(addr string, score float64, level string) ThreatReport {
	evidence := map[string]string{
		"transaction_frequency": "Above average",
		"transaction_amounts":   "Consistently small values",
		"time_pattern":          "Regular intervals",
	}
	threats := []Threat{{
		ThreatType: "Suspicious Transaction Pattern",
		Reason: "High frequency of micro-transactions detected which may indicate automated trading or bot " +
			"activity",
		Confidence:         Confidence(score),
		SupportingEvidence: evidence,
		RecommendedActions: []string{
			"Monitor transaction patterns for irregularities",
			"Verify legitimacy of trading activities",
			"Check for bot or automation indicators",
		},
	}}
	if score > 60 {
		threats = append(threats, Threat{
			ThreatType:         "High Risk Score",
			Reason:             "Wallet has elevated risk indicators based on transaction history and connected addresses",
			Confidence:         "Medium",
			SupportingEvidence: evidence,
			RecommendedActions: []string{
				"Enhanced due diligence required",
				"Additional verification recommended",
				"Consider transaction limits",
			},
		})
	}

	return ThreatReport{ThreatAnalysis: ThreatAnalysis{
		Metadata: Metadata{
			TargetAddress:     addr,
			Chain:             "Solana",
			AnalysisTimestamp: m.now().UTC().Format(time.RFC3339Nano),
			DataSources:       DataSources,
		},
		PotentialThreats: threats,
		OverallRiskLevel: level,
		RiskScore:        score,
		RiskFactors: []string{
			"Transaction frequency patterns",
			"Connected address analysis",
			"Token interaction patterns",
		},
		IOC: IOC{
			Addresses:             []string{addr},
			TransactionSignatures: []string{address.RandomSignature(m.r), address.RandomSignature(m.r)},
			SuspiciousMints:       []string{},
			RelatedPrograms:       []string{address.Random(m.r)},
		},
		AdditionalNotes: fmt.Sprintf("Analysis completed for address %s. Risk assessment based on transaction "+
			"patterns, network analysis, and behavioral indicators.", addr),
	}}
}

// graph fabricates the network graph and flow series around addr. m.mu must be held.
func (m *Mock) graph(addr string) Graph {
	r := m.r
	nodes := []Node{{ID: addr, Label: address.Short(addr), Type: "main", IsMain: true, Color: colorCenter, Size: 30,
		Font: &Font{Color: colorLabel}}}
	for i := 0; i < mockNodes; i++ {
		id := address.Random(r)
		color := colorFar
		if i < 5 {
			color = colorNear
		}
		nodes = append(nodes, Node{ID: id, Label: address.Short(id), Type: "external", Color: color,
			Size: r.Float64()*20 + 10, Font: &Font{Color: colorLabel}})
	}

	edges := []Edge{}
	for i := 1; i < min(8, len(nodes)); i++ {
		edges = append(edges, Edge{From: nodes[0].ID, To: nodes[i].ID, Count: 1, Type: "transfer",
			Width: r.Float64()*5 + 1, Color: &EdgeColor{Color: colorLabel, Opacity: 0.7}})
	}
	for i := 0; i < 10; i++ {
		from, to := nodes[r.IntN(len(nodes))], nodes[r.IntN(len(nodes))]
		if from.ID != to.ID {
			edges = append(edges, Edge{From: from.ID, To: to.ID, Count: 1, Type: "transfer",
				Width: r.Float64()*3 + 1, Color: &EdgeColor{Color: colorLabel, Opacity: 0.5}})
		}
	}

	series := m.series()
	return Graph{
		Nodes:            nodes,
		Edges:            edges,
		TransactionFlows: []Flow{},
		Summary:          GraphSummary{TotalNodes: len(nodes), TotalEdges: len(edges)},
		Series:           &series,
	}
}

// FlowSeries is a fabricated 30 day flow history plus a 24 hour activity timeline.
type FlowSeries struct {
	Overview []FlowPoint     `json:"overview"`
	Inflow   []AmountPoint   `json:"inflow"`
	Outflow  []AmountPoint   `json:"outflow"`
	Timeline []TimelinePoint `json:"timeline"`
}

// FlowPoint is the SOL movement of one day.
type FlowPoint struct {
	Date    string  `json:"date"`
	Inflow  float64 `json:"inflow"`
	Outflow float64 `json:"outflow"`
	Net     float64 `json:"net"`
}

// AmountPoint is the volume and transaction count of one day in one direction.
type AmountPoint struct {
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	Transactions int     `json:"transactions"`
}

// TimelinePoint is the transaction count of one hour of the day.
type TimelinePoint struct {
	Time         string `json:"time"`
	Transactions int    `json:"transactions"`
}

// series fabricates the flow series ending today. m.mu must be held.
func (m *Mock) series() FlowSeries {
	r, now := m.r, m.now().UTC()
	var s FlowSeries

	for i := 29; i >= 0; i-- {
		d := now.AddDate(0, 0, -i).Format("2006-01-02")
		s.Overview = append(s.Overview, FlowPoint{Date: d, Inflow: r.Float64()*10 + 1, Outflow: r.Float64()*8 + 0.5,
			Net: r.Float64()*4 - 2})
		s.Inflow = append(s.Inflow, AmountPoint{Date: d, Amount: r.Float64()*10 + 1, Transactions: r.IntN(20) + 1})
		s.Outflow = append(s.Outflow, AmountPoint{Date: d, Amount: r.Float64()*8 + 0.5, Transactions: r.IntN(15) + 1})
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24; h++ {
		s.Timeline = append(s.Timeline, TimelinePoint{
			Time:         day.Add(time.Duration(h) * time.Hour).Format("03:04 PM"),
			Transactions: r.IntN(50),
		})
	}

	return s
}

// Transactions fabricates limit enhanced transactions of addr, newest first, each moving between 0.01 and 5 SOL
// from or to a random counterpart. Some land less than a minute apart. At most MockMaxTransactions are returned.
func (m *Mock) Transactions(_ context.Context, addr string, limit int) ([]chain.EnhancedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = max(0, min(limit, MockMaxTransactions))

	r := m.r
	peers := make([]string, 8)
	for i := range peers {
		peers[i] = address.Random(r)
	}

	ts := m.now().Unix()
	txs := make([]chain.EnhancedTx, 0, limit)
	for i := 0; i < limit; i++ {
		peer := peers[r.IntN(len(peers))]
		from, to := peer, addr
		if r.IntN(2) == 0 {
			from, to = addr, peer
		}
		amount := uint64(r.Float64()*4.99*chain.LamportsPerSOL) + chain.LamportsPerSOL/100

		txs = append(txs, chain.EnhancedTx{
			Signature:       address.RandomSignature(r),
			Timestamp:       ts,
			Type:            "TRANSFER",
			Source:          "SYSTEM_PROGRAM",
			Fee:             5000,
			FeePayer:        from,
			NativeTransfers: []chain.NativeTransfer{{From: from, To: to, Amount: amount}},
			AccountData:     []chain.AccountData{{Account: from}, {Account: to}},
		})
		ts -= int64(r.IntN(3600) + 10)
	}

	return txs, nil
}
