package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/chain"
	"github.com/twputra/sentrysol-beta-v2/lib/llm"
	"github.com/twputra/sentrysol-beta-v2/lib/risk"
)

// Page sizes of the indexer queries.
const (
	HistoryLimit   = 20
	SignatureLimit = 10
	AssetLimit     = 50
)

// NoAI is the analysis result when no language model is configured.
const NoAI = "AI analysis unavailable. Manual review recommended."

const liveNotes = "Real-time streaming analysis with Go backend"

// Completer is the language model used by the live analysis.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Live runs analyses on indexer data, an external risk score and a language model. Every collaborator but Chain may
// be nil; failed lookups are logged and degrade to empty data.
type Live struct {
	Chain chain.Solana
	Risk  risk.Scorer
	LLM   Completer
	Log   logrus.FieldLogger
	// Pause separates the announcement of a step from its work so clients see it before slow calls.
	Pause time.Duration

	now func() time.Time
}

// NewLive returns a live analyzer.
func NewLive(c chain.Solana, s risk.Scorer, l Completer, log logrus.FieldLogger) *Live {
	return &Live{Chain: c, Risk: s, LLM: l, Log: log, Pause: 100 * time.Millisecond, now: time.Now}
}

// run carries the state of one analysis.
type run struct {
	*Live
	ctx    context.Context
	addr   string
	solana bool
	log    logrus.FieldLogger
	emit   Emit
}

// send emits u, pausing after announcements.
func (r *run) send(u Update, pause bool) error {
	if err := r.emit(u); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if !pause || r.Pause <= 0 {
		return nil
	}
	t := time.NewTimer(r.Pause)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-t.C:
		return nil
	}
}

// Analyze implements Analyzer. Failing to read the address history stops the analysis with an ErrorStep update.
func (l *Live) Analyze(ctx context.Context, addr string, emit Emit) error {
	c, err := address.Validate(addr)
	if err != nil {
		return err
	}
	r := &run{Live: l, ctx: ctx, addr: addr, solana: c == address.Solana, emit: emit,
		log: l.Log.WithField("address", addr)}

	err = r.analyze()
	if err != nil && !errors.Is(err, ErrAborted) && !errors.Is(err, context.Canceled) {
		r.log.WithError(err).Error("analysis failed")
		if eerr := emit(Failed(err)); eerr != nil {
			r.log.WithError(eerr).Debug("cannot report failure")
		}
	}
	return err
}

func (r *run) analyze() error {
	// 1. history
	if err := r.send(Update{Step: 1, Status: "Fetching address history...", Progress: 10}, true); err != nil {
		return err
	}
	var history []json.RawMessage
	if r.solana {
		var err error
		if history, err = r.Chain.Signatures(r.ctx, r.addr, HistoryLimit); err != nil {
			return fmt.Errorf("cannot fetch address history: %w", err)
		}
	}
	if err := r.send(Update{Step: 1, Status: "Address history fetched", Progress: 15,
		Data: map[string]interface{}{"transactions_count": len(history)}}, false); err != nil {
		return err
	}

	// 2. signatures
	if err := r.send(Update{Step: 2, Status: "Getting transaction signatures...", Progress: 25}, true); err != nil {
		return err
	}
	var sigs []json.RawMessage
	if r.solana {
		var err error
		if sigs, err = r.Chain.Signatures(r.ctx, r.addr, SignatureLimit); err != nil {
			r.warn(err, "signatures")
		}
	}
	if err := r.send(Update{Step: 2, Status: "Signatures retrieved", Progress: 35,
		Data: map[string]interface{}{"signatures_count": len(sigs)}}, false); err != nil {
		return err
	}

	// 3. tokens and NFTs
	if err := r.send(Update{Step: 3, Status: "Analyzing token transfers...", Progress: 45}, true); err != nil {
		return err
	}
	tokens, nfts, total := r.tokens()
	data := map[string]interface{}{"tokens_analyzed": len(tokens), "nfts_found": len(nfts)}
	if total >= 0 {
		data["token_accounts_total"] = total
	}
	if err := r.send(Update{Step: 3, Status: "Token and NFT metadata collected", Progress: 55, Data: data},
		false); err != nil {
		return err
	}

	// 4. external risk score
	if err := r.send(Update{Step: 4, Status: "Calculating wallet risk score...", Progress: 65}, true); err != nil {
		return err
	}
	score := r.score()
	if err := r.send(Update{Step: 4, Status: "Wallet score calculated", Progress: 75,
		Data: map[string]interface{}{"wallet_score": score}}, false); err != nil {
		return err
	}

	// 5. additional data
	if err := r.send(Update{Step: 5, Status: "Gathering additional data...", Progress: 80}, true); err != nil {
		return err
	}
	more := r.additional(sigs)
	if err := r.send(Update{Step: 5, Status: "Additional data gathered", Progress: 85,
		Data: map[string]interface{}{"address_name": more.name, "balance_changes_count": more.balances()}},
		false); err != nil {
		return err
	}

	// 6. context
	if err := r.send(Update{Step: 6, Status: "Aggregating context for analysis...", Progress: 90}, true); err != nil {
		return err
	}
	txs := make([]json.RawMessage, 0, len(history)+1)
	if more.tx != nil {
		txs = append(txs, more.tx)
	}
	txs = append(txs, history...)
	doc, err := Aggregate(txs, score, r.addr, liveNotes, r.now())
	if err != nil {
		return fmt.Errorf("cannot aggregate context: %w", err)
	}

	// 7. language model
	if err = r.send(Update{Step: 7, Status: "Running AI analysis...", Progress: 95}, true); err != nil {
		return err
	}
	result := r.threats(doc)

	// 8. report
	return r.send(Update{
		Step:           8,
		Status:         "Analysis complete",
		Progress:       100,
		AnalysisResult: result,
		DetailedData: map[string]interface{}{
			"wallet_info": map[string]interface{}{
				"address":      r.addr,
				"address_name": more.name,
				"risk_score":   score,
			},
			"transaction_summary": map[string]interface{}{
				"total_transactions": len(history),
				"recent_signatures":  len(sigs),
				"balance_changes":    more.balance,
			},
			"token_analysis": map[string]interface{}{
				"tokens_found":   len(tokens),
				"token_metadata": head(tokens, 5),
				"nfts_found":     len(nfts),
				"nft_metadata":   head(nfts, 3),
			},
			"webhook_events": more.accounts,
		},
	}, false)
}

func (r *run) warn(err error, what string) {
	r.log.WithError(err).WithField("lookup", what).Warn("lookup failed, continuing without it")
}

// tokens returns the token accounts, the NFTs and the DAS token account total (-1 when unknown).
func (r *run) tokens() (tokens, nfts []json.RawMessage, total int) {
	total = -1
	if !r.solana {
		return nil, nil, total
	}

	var err error
	if tokens, err = r.Chain.TokenAccounts(r.ctx, r.addr); err != nil {
		r.warn(err, "token accounts")
	}
	if nfts, err = r.Chain.Assets(r.ctx, r.addr, AssetLimit); err != nil {
		r.warn(err, "assets")
	}
	if n, err := r.Chain.TokenAccountTotal(r.ctx, r.addr); err != nil {
		r.warn(err, "token account total")
	} else {
		total = n
	}

	return tokens, nfts, total
}

// score returns the external risk assessment, or a zero score carrying the error.
func (r *run) score() json.RawMessage {
	fallback := func(err error) json.RawMessage {
		b, _ := json.Marshal(map[string]interface{}{"risk_score": 0, "error": err.Error()})
		return b
	}
	if r.Risk == nil {
		return fallback(risk.ErrNoKey)
	}
	s, err := r.Risk.Score(r.ctx, r.addr)
	if err != nil {
		r.warn(err, "risk score")
		return fallback(err)
	}
	return s
}

// extra holds the step 5 lookups.
type extra struct {
	tx       json.RawMessage
	balance  interface{}
	name     string
	accounts json.RawMessage
}

func (e extra) balances() int {
	if e.balance == nil {
		return 0
	}
	return 1
}

// additional runs the step 5 lookups concurrently. Each failure only empties its own field.
func (r *run) additional(sigs []json.RawMessage) extra {
	e := extra{name: "Unknown", accounts: json.RawMessage("{}")}
	if !r.solana {
		return e
	}

	var g errgroup.Group
	if len(sigs) > 0 {
		if sig := gjson.GetBytes(sigs[0], "signature").String(); sig != "" {
			g.Go(func() error {
				tx, err := r.Chain.Transaction(r.ctx, sig)
				if err != nil {
					r.warn(err, "transaction")
					return nil
				}
				e.tx = tx
				return nil
			})
		}
	}
	g.Go(func() error {
		lamports, err := r.Chain.Balance(r.ctx, r.addr)
		if err != nil {
			r.warn(err, "balance")
			return nil
		}
		e.balance = map[string]interface{}{"lamports": lamports, "sol": float64(lamports) / chain.LamportsPerSOL}
		return nil
	})
	var name string
	g.Go(func() error {
		info, err := r.Chain.AccountInfo(r.ctx, r.addr)
		if err != nil {
			r.warn(err, "account info")
			return nil
		}
		name = accountName(info)
		return nil
	})
	g.Go(func() error {
		acc, err := r.Chain.MultipleAccounts(r.ctx, []string{r.addr})
		if err != nil {
			r.warn(err, "multiple accounts")
			return nil
		}
		e.accounts = acc
		return nil
	})
	_ = g.Wait()

	if name != "" {
		e.name = name
	}
	return e
}

// accountName labels an account from its parsed info: programs and token accounts are named, wallets stay
// unknown.
func accountName(info json.RawMessage) string {
	v := gjson.GetBytes(info, "value")
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.Get("executable").Bool():
		return "Program"
	case v.Get("data.program").String() != "":
		return "Account owned by " + v.Get("data.program").String()
	}
	return ""
}

// threats runs the threat analysis on the context document.
func (r *run) threats(doc string) interface{} {
	if r.LLM == nil {
		return NoAI
	}
	text, err := r.LLM.Complete(r.ctx, llm.ThreatPrompt(doc, r.now()))
	if err != nil {
		r.warn(err, "threat analysis")
		return "Error with AI analysis: " + err.Error()
	}
	return ParseLLMResult(text)
}

func head(s []json.RawMessage, n int) []json.RawMessage {
	if len(s) > n {
		return s[:n]
	}
	if s == nil {
		return []json.RawMessage{}
	}
	return s
}
