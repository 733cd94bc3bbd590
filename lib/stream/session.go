// Package stream consumes the analysis and chat streams of a SentrySol server.
//
// A Session follows one analysis: it checks the server health, reads the update stream, reconnects when the stream
// closes unexpectedly and gives up on idle or overlong analyses. Progress, log lines and results are delivered through
// callbacks, all invoked from the goroutine running Session.Run.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/twputra/sentrysol-beta-v2/lib/sse"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

// State is the connection state of a Session.
type State int

// Session states. Done, Failed and Stopped are final.
const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Done
	Failed
	Stopped
)

var stateNames = [...]string{"idle", "connecting", "open", "reconnecting", "done", "failed", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Final reports whether no more transitions can follow s.
func (s State) Final() bool {
	return s == Done || s == Failed || s == Stopped
}

// Default timings.
const (
	IdleWarn       = 60 * time.Second
	IdleTimeout    = 120 * time.Second
	CheckEvery     = 30 * time.Second
	MaxDuration    = 10 * time.Minute
	ReconnectUntil = 8 * time.Minute
	MaxReconnect   = 5 * time.Second
	// running time is logged every RunningEvery once the analysis passed it
	RunningEvery = 2 * time.Minute
)

// Errors returned by Run.
var (
	ErrUnhealthy = errors.New("backend health check failed")
	ErrIdle      = errors.New("no activity on the analysis stream")
	ErrTimeout   = errors.New("analysis timeout reached")
	ErrGaveUp    = errors.New("maximum analysis time reached, not reconnecting")
	ErrCritical  = errors.New("critical analysis error")
	ErrRejected  = errors.New("analysis request rejected")
	ErrRunning   = errors.New("session already started")
)

// Options tune a Session. Zero durations take the defaults above.
type Options struct {
	Client         *http.Client
	Log            logrus.FieldLogger
	IdleWarn       time.Duration
	IdleTimeout    time.Duration
	CheckEvery     time.Duration
	MaxDuration    time.Duration
	ReconnectUntil time.Duration
	RunningEvery   time.Duration
	// Backoff returns the pause before reconnecting. Defaults to min(5s, 1s + rand*2s).
	Backoff func() time.Duration
}

func (o *Options) defaults() {
	if o.Client == nil {
		// no client timeout: the stream is long lived and bounded by MaxDuration
		o.Client = &http.Client{}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	set := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	set(&o.IdleWarn, IdleWarn)
	set(&o.IdleTimeout, IdleTimeout)
	set(&o.CheckEvery, CheckEvery)
	set(&o.MaxDuration, MaxDuration)
	set(&o.ReconnectUntil, ReconnectUntil)
	set(&o.RunningEvery, RunningEvery)
	if o.Backoff == nil {
		o.Backoff = Backoff
	}
}

// Backoff returns the default reconnect pause, min(5s, 1s + rand*2s).
func Backoff() time.Duration {
	return min(MaxReconnect, time.Second+time.Duration(rand.Float64()*float64(2*time.Second)))
}

// Session follows the analysis of one address.
type Session struct {
	// Callbacks, all optional. They must not block for long: they run on the stream goroutine.
	OnLog      func(line string)
	OnProgress func(progress int)
	OnResult   func(result json.RawMessage)
	OnState    func(State)

	server string
	addr   string
	opt    Options

	mu      sync.Mutex // guards the fields below
	state   State
	result  json.RawMessage
	started bool
	cancel  context.CancelFunc
	stopped bool

	start time.Time
	last  time.Time // last activity
}

// NewSession returns a session analysing addr on the server at base URL server.
func NewSession(server, addr string, opt Options) *Session {
	opt.defaults()
	return &Session{server: strings.TrimRight(server, "/"), addr: addr, opt: opt}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the last analysis result received, nil if none.
func (s *Session) Result() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop ends the session. It may be called any number of times, from any goroutine.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.OnState != nil {
		s.OnState(st)
	}
}

func (s *Session) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	s.opt.Log.WithField("address", s.addr).Debug(line)
	if s.OnLog != nil {
		s.OnLog(line)
	}
}

func (s *Session) progress(p int) {
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

func (s *Session) keep(result json.RawMessage) {
	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	if s.OnResult != nil {
		s.OnResult(result)
	}
}

// Run follows the analysis until it completes, fails or the session is stopped. It returns nil when the analysis
// completed or was stopped.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opt.MaxDuration)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrRunning
	}
	s.started = true
	if s.stopped {
		s.mu.Unlock()
		s.setState(Stopped)
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.start = time.Now()
	s.progress(0)
	s.setState(Connecting)
	s.logf("Connecting to SentrySol-Core")

	if err := s.health(ctx); err != nil {
		if ctx.Err() != nil {
			return s.finish(ctx, ctx.Err())
		}
		return s.finish(ctx, fmt.Errorf("%w: %v", ErrUnhealthy, err))
	}
	s.logf("Backend is healthy, starting analysis...")

	for {
		err := s.connect(ctx)
		if err == nil {
			return s.finish(ctx, nil)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return s.finish(ctx, err)
		}

		// the stream went away before [DONE]
		if time.Since(s.start) > s.opt.ReconnectUntil {
			s.logf("Maximum analysis time reached - not reconnecting")
			return s.finish(ctx, ErrGaveUp)
		}
		s.setState(Reconnecting)
		s.logf("Connection lost, attempting reconnect...")

		t := time.NewTimer(s.opt.Backoff())
		select {
		case <-ctx.Done():
			t.Stop()
			return s.finish(ctx, ctx.Err())
		case <-t.C:
		}
		s.setState(Connecting)
	}
}

// finish moves the session to its final state.
func (s *Session) finish(ctx context.Context, err error) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	switch {
	case err == nil:
		s.setState(Done)
		return nil
	case stopped && errors.Is(err, context.Canceled):
		s.logf("Analysis stopped")
		s.setState(Stopped)
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded:
		err = fmt.Errorf("%w (%v)", ErrTimeout, s.opt.MaxDuration)
		s.logf("Analysis timeout reached (%v) - stopping analysis", s.opt.MaxDuration)
	}
	s.opt.Log.WithField("address", s.addr).WithError(err).Warn("analysis stream failed")
	s.setState(Failed)
	return err
}

func (s *Session) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.opt.Client.Do(req)
	if err != nil {
		s.logf("Backend Error: %v", err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logf("Backend Error: health check returned %d", resp.StatusCode)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// connect reads one connection of the analysis stream. It returns nil on [DONE] and io.ErrUnexpectedEOF when the
// stream ended, or could not be opened, in a way worth a reconnection.
func (s *Session) connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u := s.server + "/analyze/" + url.PathEscape(s.addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.opt.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logf("Connection error: %v", err)
		return io.ErrUnexpectedEOF
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(b, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, msg)
	case resp.StatusCode != http.StatusOK:
		s.logf("Connection error: status %d", resp.StatusCode)
		return io.ErrUnexpectedEOF
	}

	s.setState(Open)
	s.logf("Successfully connected to analysis stream")
	s.last = time.Now()

	events := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := sse.NewScanner(resp.Body)
		for sc.Next() {
			select {
			case events <- sc.Event().Data:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	tick := time.NewTicker(s.opt.CheckEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data := <-events:
			s.last = time.Now()
			done, err := s.handle(data)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case err := <-readErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				s.logf("Connection closed: %v", err)
			} else {
				s.logf("Connection closed")
			}
			return io.ErrUnexpectedEOF

		case <-tick.C:
			if err := s.check(); err != nil {
				return err
			}
		}
	}
}

// check runs on every tick of an open stream.
func (s *Session) check() error {
	idle := time.Since(s.last)
	switch {
	case idle > s.opt.IdleTimeout:
		s.logf("Connection timeout - no activity for %v", s.opt.IdleTimeout)
		s.logf("Closing connection due to timeout")
		return ErrIdle
	case idle > s.opt.IdleWarn:
		s.logf("No activity for %ds (timeout in %ds)", int(idle.Seconds()),
			int((s.opt.IdleTimeout - idle + time.Second - 1).Seconds()))
	}

	// log the running time once per RunningEvery, past the first one
	total, every := time.Since(s.start), s.opt.RunningEvery
	if total > every && total/every != (total-s.opt.CheckEvery)/every {
		s.logf("Analysis running for %dm %ds...", int(total.Minutes()), int(total.Seconds())%60)
	}
	return nil
}

// frame is the part of an update the session reads.
type frame struct {
	Step     int    `json:"step"`
	Status   string `json:"status"`
	Progress *int   `json:"progress"`
	Error    string `json:"error"`
	Critical bool   `json:"critical"`
}

// resultKeys mark the frames carrying analysis results.
var resultKeys = []string{"analysis_result", "detailed_data", "transaction_graph", "threat_analysis"}

// handle processes one frame. It returns true on [DONE].
func (s *Session) handle(data string) (bool, error) {
	switch {
	case data == sse.DoneData:
		s.logf("Analysis completed successfully in %ds!", int(time.Since(s.start).Seconds()))
		s.progress(100)
		return true, nil
	case sse.IsHeartbeat(data):
		s.logf("Heartbeat received - connection active")
		return false, nil
	case strings.TrimSpace(data) == "":
		return false, nil
	}

	var f frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		s.salvage(data, err)
		return false, nil
	}

	if f.Progress != nil {
		s.progress(*f.Progress)
	}
	if f.Status != "" {
		var b strings.Builder
		if f.Step != 0 {
			fmt.Fprintf(&b, "Step %d: ", f.Step)
		}
		b.WriteString(f.Status)
		if f.Progress != nil {
			fmt.Fprintf(&b, " (%d%%)", *f.Progress)
		}
		fmt.Fprintf(&b, " [%ds]", int(time.Since(s.start).Seconds()))
		s.logf("%s", b.String())

		if f.Step == 7 && f.Progress != nil && *f.Progress >= 95 {
			s.logf("SentrySol-Core analysis is running - this process takes time...")
		}
	}

	res := gjson.Parse(data)
	for _, k := range resultKeys {
		if res.Get(k).Exists() {
			s.keep(json.RawMessage(data))
			if res.Get("analysis_result").Exists() || res.Get("detailed_data").Exists() {
				s.logf("Analysis data received, processing results...")
			}
			break
		}
	}

	if f.Error != "" {
		s.logf("Warning: %s", f.Error)
		if f.Critical {
			s.logf("Critical error detected, stopping analysis")
			return false, fmt.Errorf("%w: %s", ErrCritical, f.Error)
		}
		s.logf("Non-critical error, continuing analysis...")
	}

	return false, nil
}

// salvage recovers results from a frame that is not valid JSON as a whole.
func (s *Session) salvage(data string, err error) {
	s.logf("Parse error: %v", err)
	if strings.Contains(data, `"analysis_result"`) || strings.Contains(data, `"detailed_data"`) {
		if o := util.Outermost(data); o != "" && json.Valid([]byte(o)) {
			s.keep(json.RawMessage(o))
			s.logf("Successfully extracted data from corrupted response")
		}
	}
	s.logf("Continuing streaming despite parse error...")
}
