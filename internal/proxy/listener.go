// Package proxy accepts client WebSocket connections and hands them to the
// supervisor.
package proxy

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sc2proxy/pkg/logger"
)

// Listener is the client-facing WebSocket endpoint. Upgraded connections are
// delivered on Clients; the supervisor drains the channel from its control
// loop.
type Listener struct {
	srv      *http.Server
	clients  chan *Client
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewListener creates a listener bound to addr. Run must be called to start
// serving.
func NewListener(addr string) *Listener {
	l := &Listener{
		clients: make(chan *Client, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.Component("proxy"),
	}

	r := mux.NewRouter()
	// SC2 clients connect to /sc2api; accept the bare root as well since some
	// bot frameworks dial it.
	r.HandleFunc("/sc2api", l.handleWebSocket)
	r.HandleFunc("/", l.handleWebSocket)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	l.srv = &http.Server{
		Addr:        addr,
		Handler:     r,
		IdleTimeout: 120 * time.Second,
	}
	return l
}

// Run serves until the listener fails or is closed. Accept errors inside the
// HTTP server are logged and survived; only a listen failure returns.
func (l *Listener) Run() error {
	l.log.Info().Str("addr", l.srv.Addr).Msg("listening for clients")
	err := l.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Clients delivers accepted connections.
func (l *Listener) Clients() <-chan *Client { return l.clients }

// Close stops accepting connections.
func (l *Listener) Close() {
	_ = l.srv.Close()
}

func (l *Listener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := NewClient(conn)
	l.log.Info().Str("peer", client.Addr()).Msg("connection accepted")
	l.clients <- client
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
