package live

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub streams broker channels to websocket clients.
type Hub struct {
	broker   Broker
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHub creates a hub. allowOrigin decides cross-origin upgrades; nil allows
// every origin.
func NewHub(broker Broker, log *zap.Logger, allowOrigin func(origin string) bool) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin(origin)
			},
		},
	}
}

// Serve upgrades the request and forwards every message published on channel
// until the client disconnects or the request context ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, err := h.broker.Subscribe(ctx, channel)
	if err != nil {
		h.log.Error("live subscribe failed", zap.String("channel", channel), zap.Error(err))
		http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	h.log.Debug("live client connected", zap.String("channel", channel))

	// read pump: only control frames are expected; any error ends the session
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
