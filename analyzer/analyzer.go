// Package analyzer implements the SentrySol analyzer microservice.
//
// The service exposes a RESTful API to run wallet security analyses. Analyses are streamed to clients as
// Server-Sent Events (or websocket frames) while they run, then saved to the history database and published to the
// message broker. Chat endpoints answer wallet security questions, either with a language model or, in mock mode,
// with canned replies.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/cache"
	"github.com/twputra/sentrysol-beta-v2/lib/chain"
	"github.com/twputra/sentrysol-beta-v2/lib/config"
	"github.com/twputra/sentrysol-beta-v2/lib/llm"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/msg"
	"github.com/twputra/sentrysol-beta-v2/lib/store"
	"github.com/twputra/sentrysol-beta-v2/lib/store/db"
)

// Version is reported by the home endpoint.
const Version = "1.0.0"

// saveTimeout bounds saving and publishing a finished analysis, which outlives the client request.
const saveTimeout = 10 * time.Second

// TxSource returns the parsed transactions the flow graph and quick analyses are built from.
type TxSource interface {
	Transactions(ctx context.Context, address string, limit int) ([]chain.EnhancedTx, error)
}

// FromChain returns the TxSource reading the enhanced transactions of c.
func FromChain(c chain.Solana) TxSource {
	return chainTxs{c}
}

type chainTxs struct{ c chain.Solana }

func (s chainTxs) Transactions(ctx context.Context, addr string, limit int) ([]chain.EnhancedTx, error) {
	return s.c.EnhancedTransactions(ctx, addr, limit)
}

// Chatter is the language model answering chat requests.
type Chatter interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
	Stream(ctx context.Context, msgs []llm.Message) (*llm.Stream, error)
}

// Deps are the collaborators of the service. Analyzer and Txs are required; the others may be nil.
type Deps struct {
	Analyzer analysis.Analyzer
	Txs      TxSource
	LLM      Chatter
	DB       store.DB
	Broker   msg.MsgBroker
	Cache    cache.Cache
	Log      logrus.FieldLogger
}

// Analyzer contains the data necessary to deliver the service.
type Analyzer struct {
	conf config.ServiceConfig
	an   analysis.Analyzer
	txs  TxSource
	llm  Chatter
	db   store.DB
	mb   msg.MsgBroker
	c    cache.Cache
	log  logrus.FieldLogger

	heartbeat time.Duration // between heartbeat frames, 0 disables them
	chatDelay time.Duration // between words of a mock chat reply
	now       func() time.Time

	srv servers
}

// New returns a new analyzer service.
func New(conf config.ServiceConfig, d Deps) *Analyzer {
	if d.Broker == nil {
		d.Broker = msg.Nop{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &Analyzer{
		conf:      conf,
		an:        d.Analyzer,
		txs:       d.Txs,
		llm:       d.LLM,
		db:        d.DB,
		mb:        d.Broker,
		c:         d.Cache,
		log:       d.Log,
		heartbeat: time.Duration(conf.Heartbeat) * time.Second,
		chatDelay: 50 * time.Millisecond,
		now:       time.Now,
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to the message
// broker, cache and database.
func (a *Analyzer) Stop(ctx context.Context) {
	a.shutdown(ctx)

	if err := a.mb.Close(); err != nil {
		a.log.WithError(err).Error("error closing message broker")
	}
	if a.c != nil {
		if err := a.c.Close(); err != nil {
			a.log.WithError(err).Error("error closing cache")
		}
	}
	if a.db != nil {
		err := db.Close(a.db)
		a.log.WithField("db", a.conf.DBType).WithError(err).Info("disconnected database")
	}
}

// record saves a completed analysis to the history and publishes its report.
func (a *Analyzer) record(addr string, final analysis.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	log := a.log.WithField("address", addr)

	sum := analysis.Summarize(final)
	id := ""
	if a.db != nil {
		data, err := json.Marshal(final)
		if err == nil {
			id, err = a.db.SaveAnalysis(ctx, store.Analysis{
				WalletAddress: addr,
				AnalysisData:  data,
				RiskScore:     sum.RiskScore,
				RiskLevel:     sum.RiskLevel,
			})
		}
		if err != nil {
			log.WithError(err).Error("cannot save analysis")
		}
	}
	if id == "" {
		id = uuid.New().String()
	}

	c, _ := address.Validate(addr)
	r := msg.Report{
		ID:        id,
		Address:   addr,
		Chain:     string(c),
		RiskScore: sum.RiskScore,
		RiskLevel: sum.RiskLevel,
		Threats:   sum.Threats,
		Mode:      a.conf.Mode,
		Time:      a.now().UTC(),
	}
	if err := a.mb.SendReport(r); err != nil {
		log.WithError(err).Error("cannot publish analysis report")
	}
	log.WithFields(logrus.Fields{"id": id, "risk_score": sum.RiskScore, "risk_level": sum.RiskLevel}).
		Info("analysis completed")
}

// run runs the analysis of addr, passing every update to send and calling beat every heartbeat period while the
// analysis is quiet. Send and beat are only called from the calling goroutine.
func (a *Analyzer) run(ctx context.Context, addr string, send func(analysis.Update) error, beat func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := a.now()
	updates := make(chan analysis.Update)
	errc := make(chan error, 1)
	go func() {
		defer close(updates)
		errc <- a.an.Analyze(ctx, addr, func(u analysis.Update) error {
			select {
			case updates <- u:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if a.heartbeat > 0 {
		ticker = time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	var final *analysis.Update
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				err := <-errc
				a.finished(addr, final, err, start)
				return err
			}
			if err := send(u); err != nil {
				err = fmt.Errorf("%w: %v", analysis.ErrAborted, err)
				a.finished(addr, nil, err, start)
				return err
			}
			if ticker != nil {
				ticker.Reset(a.heartbeat)
			}
			if u.Complete() {
				final = &u
			}

		case <-tick:
			if err := beat(); err != nil {
				err = fmt.Errorf("%w: %v", analysis.ErrAborted, err)
				a.finished(addr, nil, err, start)
				return err
			}
		}
	}
}

func (a *Analyzer) finished(addr string, final *analysis.Update, err error, start time.Time) {
	d := a.now().Sub(start)
	switch {
	case err != nil && isClosed(err):
		metrics.Analysis(a.conf.Mode, "aborted", d)
		a.log.WithField("address", addr).Info("client went away, analysis aborted")
	case err != nil:
		metrics.Analysis(a.conf.Mode, "error", d)
		a.log.WithField("address", addr).WithError(err).Warn("analysis did not complete")
	case final == nil:
		metrics.Analysis(a.conf.Mode, "incomplete", d)
	default:
		metrics.Analysis(a.conf.Mode, "ok", d)
		a.record(addr, *final)
	}
}
