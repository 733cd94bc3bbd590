package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/store"
)

// Page sizes. MaxLimit is the largest page of the Helius enhanced transactions API.
const (
	FlowLimit  = 50
	QuickLimit = 20
	MaxLimit   = 100
)

// pingTimeout bounds each dependency check of the health endpoint.
const pingTimeout = 2 * time.Second

// Errors returned to client requests.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrBadLimit    = fmt.Errorf("invalid limit: has to be an integer between 1 and %d", MaxLimit)
	ErrNoMessage   = errors.New("message is required")
	ErrNoDB        = errors.New("no history database configured")
	ErrNoTxs       = errors.New("transaction history unavailable")
	ErrRateLimited = errors.New("rate limit exceeded, retry later")
)

// Dependency states reported by the health endpoint.
const (
	Connected     = "connected"
	Disconnected  = "disconnected"
	NotConfigured = "not configured"
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  json.RawMessage `json:"body"`
	Error string          `json:"error,omitempty"`
}

// reply writes the JSON response with status.
func (a *Analyzer) reply(rw http.ResponseWriter, status int, body interface{}, err error) {
	var res Response
	if err != nil {
		res.Error = err.Error()
	}
	if body != nil {
		b, merr := json.Marshal(body)
		if merr != nil {
			a.log.WithError(merr).Error("cannot encode response")
			status, res.Error = http.StatusInternalServerError, merr.Error()
		} else {
			res.Body = b
		}
	}

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// status maps an error to the http status replied.
func status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, address.ErrInvalid), errors.Is(err, ErrBadRequest), errors.Is(err, ErrBadLimit),
		errors.Is(err, ErrNoMessage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoDB):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoTxs):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// limitParam reads the limit query parameter, def when absent. Limits above MaxLimit are rejected.
func limitParam(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > MaxLimit {
		return 0, ErrBadLimit
	}
	return n, nil
}

// homeHandler replies the service banner and the endpoint list.
func (a *Analyzer) homeHandler(rw http.ResponseWriter, r *http.Request) {
	a.reply(rw, http.StatusOK, map[string]interface{}{
		"message": "SentrySol Backend API is running",
		"version": Version,
		"mode":    a.conf.Mode,
		"endpoints": map[string]string{
			"health":           "/health",
			"analyze":          "/analyze/{address}",
			"analyze_ws":       "/ws/analyze/{address}",
			"chat":             "/chat",
			"chat_analyze":     "/chat/analyze",
			"chat_stream":      "/chat-sentrysol-stream",
			"transaction_flow": "/transaction-flow/{address}",
			"history":          "/history/{address}",
		},
	}, nil)
}

// Health is the body of the health endpoint.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Mode      string            `json:"mode"`
	Services  map[string]string `json:"services"`
}

// healthHandler replies the state of the service and of each of its dependencies.
func (a *Analyzer) healthHandler(rw http.ResponseWriter, r *http.Request) {
	configured := func(ok bool) string {
		if ok {
			return Connected
		}
		return Disconnected
	}
	ping := func(p func(context.Context) error) string {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := p(ctx); err != nil {
			a.log.WithError(err).Warn("health check failed")
			return Disconnected
		}
		return Connected
	}

	h := Health{
		Status:    "healthy",
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Mode:      a.conf.Mode,
		Services: map[string]string{
			"helius_api":     configured(a.conf.HeliusKey != ""),
			"metasleuth_api": configured(a.conf.BlockSecKey != ""),
			"mistral_ai":     configured(a.llm != nil),
			"database":       NotConfigured,
			"cache":          NotConfigured,
			"broker":         NotConfigured,
		},
	}
	if a.db != nil {
		h.Services["database"] = ping(a.db.Ping)
	}
	if a.c != nil {
		h.Services["cache"] = ping(a.c.Ping)
	}
	if a.conf.MbType != "" {
		h.Services["broker"] = Connected
	}

	a.reply(rw, http.StatusOK, h, nil)
}

// flowHandler replies the transaction graph of an address and its flows split by direction.
func (a *Analyzer) flowHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res analysis.FlowReport

	addr := mux.Vars(r)["address"]

	defer func() {
		// reply to requester accordingly
		if err != nil {
			a.log.WithField("address", addr).WithError(err).Warn("transaction flow failed")
			a.reply(rw, status(err), nil, err)
			return
		}
		a.reply(rw, http.StatusOK, res, nil)
	}()

	if _, err = address.Validate(addr); err != nil {
		return
	}
	var limit int
	if limit, err = limitParam(r, FlowLimit); err != nil {
		return
	}
	if a.txs == nil {
		err = ErrNoTxs
		return
	}
	txs, terr := a.txs.Transactions(r.Context(), addr, limit)
	if terr != nil {
		err = errors.Join(ErrNoTxs, terr)
		return
	}

	res = analysis.SplitFlows(addr, analysis.BuildGraph(addr, txs))
}

// historyHandler replies (GET) or removes (DELETE) the stored analyses of an address.
func (a *Analyzer) historyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res interface{}

	addr := mux.Vars(r)["address"]

	defer func() {
		if err != nil {
			a.reply(rw, status(err), nil, err)
			return
		}
		a.reply(rw, http.StatusOK, res, nil)
	}()

	if _, err = address.Validate(addr); err != nil {
		return
	}
	if a.db == nil {
		err = ErrNoDB
		return
	}

	if r.Method == http.MethodDelete {
		var n int64
		if n, err = a.db.DeleteHistory(r.Context(), addr); err == nil {
			a.log.WithField("address", addr).Infof("deleted %d analyses", n)
			res = map[string]int64{"deleted": n}
		}
		return
	}

	var limit int
	if limit, err = limitParam(r, store.Limit(a.conf.HistoryLimit)); err != nil {
		return
	}
	var h []store.Analysis
	if h, err = a.db.GetHistory(r.Context(), addr, limit); err == nil {
		if h == nil {
			h = []store.Analysis{}
		}
		res = h
	}
}
