package analyzer

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

// maxLimiters bounds the per client limiters kept in memory; the set is reset when it grows past it.
const maxLimiters = 10000

// recorder captures the status of a response. It keeps the flushing and hijacking abilities of the wrapped writer,
// which the streaming handlers need.
type recorder struct {
	http.ResponseWriter
	status int
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *recorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// route returns the path template of the matched route, or the request path.
func route(r *http.Request) string {
	if cr := mux.CurrentRoute(r); cr != nil {
		if t, err := cr.GetPathTemplate(); err == nil {
			return t
		}
	}
	return r.URL.Path
}

// logRequests logs every request once served.
func (a *Analyzer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: rw}
		next.ServeHTTP(rec, r)

		a.log.WithFields(logrus.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"uri":      r.RequestURI,
			"status":   rec.code(),
			"duration": time.Since(start),
		}).Info("httpreq")
	})
}

// instrument records the request metrics by route template.
func (a *Analyzer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: rw}
		next.ServeHTTP(rec, r)
		metrics.Request(r.Method, route(r), rec.code(), time.Since(start))
	})
}

// cors sets the CORS headers for the allowed origins and answers preflight requests.
func (a *Analyzer) cors(next http.Handler) http.Handler {
	all := util.In(a.conf.Origins, "*")
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (all || util.In(a.conf.Origins, origin)) {
			h := rw.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, Authorization")
			h.Set("Access-Control-Max-Age", "3600")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// limiters keeps a token bucket per client address.
type limiters struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rate  rate.Limit
	burst int
}

func (l *limiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.m == nil || len(l.m) > maxLimiters {
		l.m = make(map[string]*rate.Limiter)
	}
	lim, ok := l.m[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.m[key] = lim
	}
	return lim
}

// client returns the host part of the remote address of r.
func client(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limit rejects clients exceeding the configured request rate with 429.
func (a *Analyzer) limit(next http.Handler) http.Handler {
	if a.conf.RateLimit <= 0 {
		return next
	}
	l := &limiters{rate: rate.Limit(a.conf.RateLimit), burst: a.conf.Burst}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !l.get(client(r)).Allow() {
			a.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "path": r.URL.Path}).Warn("rate limit exceeded")
			rw.Header().Set("Retry-After", "1")
			a.reply(rw, http.StatusTooManyRequests, nil, ErrRateLimited)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
