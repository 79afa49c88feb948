package pool

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Diagnostics are served on localhost only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// setupServer builds the diagnostics HTTP server: liveness, pool snapshot,
// manual refresh, and a websocket stream of snapshots for a live dashboard
// or in-app connectivity indicator.
func (a *App) setupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods(http.MethodGet)

	r.Handle("/poolz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Router.PoolHealthSnapshot())
	})).Methods(http.MethodGet)

	r.Handle("/refresh", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a.Router.ForceRefresh(req.Context())
		w.WriteHeader(http.StatusAccepted)
	})).Methods(http.MethodPost)

	r.Handle("/poolz/ws", http.HandlerFunc(a.snapshotStream)).Methods(http.MethodGet)

	a.Server = &http.Server{Addr: a.Config.API.Addr, Handler: r}
}

// snapshotStream pushes a pool snapshot over the websocket every few seconds
// until the client goes away.
func (a *App) snapshotStream(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(a.Router.PoolHealthSnapshot()); err != nil {
				return
			}
		}
	}
}
