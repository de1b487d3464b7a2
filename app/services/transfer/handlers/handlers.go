// Package handlers serves the progress of a transfer run to anyone watching,
// which is mostly useful while the run waits on a hardware wallet.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ardanlabs/ethtransfer/foundation/events"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// pingInterval is how often an idle websocket is checked.
const pingInterval = time.Second

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Build string
	Log   *zap.SugaredLogger
	Evts  *events.Events
}

// Mux constructs a http.Handler with all the routes defined.
func Mux(cfg MuxConfig) http.Handler {
	h := Handlers{
		Build: cfg.Build,
		Log:   cfg.Log,
		Evts:  cfg.Evts,
		WS: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := httptreemux.NewContextMux()
	mux.GET("/v1/events", h.Events)
	mux.GET("/v1/readiness", h.Readiness)

	return mux
}

// =============================================================================

// Handlers manages the set of progress endpoints.
type Handlers struct {
	Build string
	Log   *zap.SugaredLogger
	Evts  *events.Events
	WS    websocket.Upgrader
}

// Events handles a web socket to stream run events to a client.
func (h Handlers) Events(w http.ResponseWriter, r *http.Request) {
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Errorw("events", "status", "upgrade failed", "ERROR", err)
		return
	}
	defer c.Close()

	id := uuid.NewString()
	h.Log.Infow("events", "status", "client connected", "clientid", id, "remote", r.RemoteAddr)
	defer h.Log.Infow("events", "status", "client disconnected", "clientid", id)

	ch := h.Evts.Acquire(id)
	defer h.Evts.Release(id)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, open := <-ch:
			if !open {
				c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"))
				return
			}

			if err := c.WriteJSON(e); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// Readiness reports the service is up along with the build.
func (h Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status    string `json:"status"`
		Build     string `json:"build"`
		Listeners int    `json:"listeners"`
	}{
		Status:    "ok",
		Build:     h.Build,
		Listeners: h.Evts.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.Errorw("readiness", "ERROR", err)
	}
}
