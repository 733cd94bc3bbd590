package analyzer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/sse"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

// wsWriteWait bounds each websocket write.
const wsWriteWait = 10 * time.Second

// streaming lifts the server write deadline for a long lived response.
func streaming(rw http.ResponseWriter) {
	_ = http.NewResponseController(rw).SetWriteDeadline(time.Time{})
}

// analyzeHandler streams the analysis of an address as Server-Sent Events, ending with [DONE] once the analysis
// completed. The analysis stops when the client goes away.
func (a *Analyzer) analyzeHandler(rw http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	log := a.log.WithField("address", addr)

	if _, err := address.Validate(addr); err != nil {
		a.reply(rw, http.StatusBadRequest, nil, err)
		return
	}

	streaming(rw)
	w, err := sse.NewWriter(rw)
	if err != nil {
		a.reply(rw, http.StatusInternalServerError, nil, err)
		return
	}
	defer metrics.StreamOpened("sse")()
	log.Info("analysis stream opened")

	err = a.run(r.Context(), addr, func(u analysis.Update) error { return w.JSON(u) }, w.Heartbeat)
	if err != nil {
		log.WithError(err).Info("analysis stream closed")
		return
	}
	if err = w.Done(); err != nil {
		log.WithError(err).Debug("cannot write [DONE]")
	}
}

// wsAnalyzeHandler streams the analysis of an address over a websocket: one JSON text frame per update, then
// {"done": true}. Heartbeats are ping control frames.
func (a *Analyzer) wsAnalyzeHandler(rw http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	log := a.log.WithField("address", addr)

	if _, err := address.Validate(addr); err != nil {
		a.reply(rw, http.StatusBadRequest, nil, err)
		return
	}

	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	conn, err := up.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade replied to the client already
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer metrics.StreamOpened("websocket")()

	// the client only sends control frames; a read error means it went away
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(v interface{}) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	beat := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	}

	err = a.run(ctx, addr, func(u analysis.Update) error { return send(u) }, beat)
	if err != nil {
		log.WithError(err).Info("analysis websocket closed")
		return
	}
	if err = send(map[string]bool{"done": true}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}

// checkOrigin accepts websocket requests from the allowed CORS origins. Requests without an origin are not from a
// browser and are accepted.
func (a *Analyzer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || util.In(a.conf.Origins, "*") || util.In(a.conf.Origins, origin)
}

// isClosed reports whether err comes from a client that went away.
func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, analysis.ErrAborted) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
