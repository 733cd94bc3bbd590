package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15 * time.Second

var (
	errNoRoute = errors.New("no such endpoint")
	errMethod  = errors.New("method not allowed")
)

// servers holds the http and https servers of the API.
type servers struct {
	mu sync.Mutex
	s  *http.Server  // http server
	ss *http.Server  // https server
	sc chan struct{} // closed when the servers have shut down
}

// Router returns the API handler. Every route is also served under /api.
func (a *Analyzer) Router() http.Handler {
	r := mux.NewRouter()
	a.routes(r)
	a.routes(r.PathPrefix("/api").Subrouter())
	r.NotFoundHandler = http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		a.reply(rw, http.StatusNotFound, nil, errNoRoute)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		a.reply(rw, http.StatusMethodNotAllowed, nil, errMethod)
	})
	r.Use(a.logRequests, a.instrument)

	return a.cors(a.limit(r))
}

func (a *Analyzer) routes(r *mux.Router) {
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/analyze/{address}", a.analyzeHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/analyze/{address}", a.wsAnalyzeHandler).Methods(http.MethodGet)
	r.HandleFunc("/chat", a.chatHandler).Methods(http.MethodPost)
	r.HandleFunc("/chat/analyze", a.chatAnalyzeHandler).Methods(http.MethodPost)
	r.HandleFunc("/chat-sentrysol-stream", a.chatStreamHandler).Methods(http.MethodPost)
	r.HandleFunc("/transaction-flow/{address}", a.flowHandler).Methods(http.MethodGet)
	r.HandleFunc("/history/{address}", a.historyHandler).Methods(http.MethodGet, http.MethodDelete)
}

// Init sets up and starts the http/https servers to service the RESTful API. If sslPort, sslCert and sslKey are
// informed, it will start an https (TLS) server on the specified endpoint. Init blocks until Stop is called.
func (a *Analyzer) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	h := a.Router()
	errs := make(chan error, 2)

	a.srv.mu.Lock()
	a.srv.sc = make(chan struct{})
	sc := a.srv.sc
	// start http server
	if port != "" {
		a.srv.s = newServer(h, endpoint+":"+port)
		go func() { errs <- a.srv.s.ListenAndServe() }()
		a.log.Infof("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		a.srv.ss = newServer(h, endpoint+":"+sslPort)
		go func() { errs <- a.srv.ss.ListenAndServeTLS(sslCert, sslKey) }()
		a.log.Infof("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	a.srv.mu.Unlock()

	// wait for servers to be shutdown, or for one of them to fail
	var msgs []string
	select {
	case <-sc:
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			msgs = append(msgs, err.Error())
			a.shutdown(context.Background())
		}
	}
	for len(errs) > 0 {
		if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return "servers shut down"
	}
	return fmt.Sprintf("servers shut down with errors: %s", strings.Join(msgs, "; "))
}

func newServer(h http.Handler, addr string) *http.Server {
	// streaming handlers lift the write deadline for their own responses
	return &http.Server{
		Handler:           h,
		Addr:              addr,
		ReadHeaderTimeout: timeout,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       4 * timeout,
	}
}

// shutdown stops the servers started by Init, waiting for open requests until ctx is done.
func (a *Analyzer) shutdown(ctx context.Context) {
	a.srv.mu.Lock()
	defer a.srv.mu.Unlock()

	for name, s := range map[string]*http.Server{"http": a.srv.s, "https": a.srv.ss} {
		if s == nil {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			a.log.WithError(err).Errorf("error in %s server shutdown", name)
		}
	}
	if a.srv.sc != nil {
		close(a.srv.sc) // close server channel to indicate shutdowns have finished
		a.srv.sc = nil
	}
}
