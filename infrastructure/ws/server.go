package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"webchat/runtime"
	"webchat/services"
)

// Server upgrades HTTP requests to websocket connections and hands each one
// to the hub as a fresh unauthenticated session.
type Server struct {
	log             *slog.Logger
	hub             *runtime.Hub
	auth            services.IAuthService
	upgrader        websocket.Upgrader
	sendBuffer      int
	maxPayloadBytes int
}

func NewServer(log *slog.Logger, hub *runtime.Hub, auth services.IAuthService,
	sendBuffer, maxPayloadBytes int) *Server {
	return &Server{
		log:  log,
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The room is open to any origin, auth happens in-protocol.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuffer:      sendBuffer,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// Handler returns the endpoint clients connect to. The connection lifecycle
// is tied to ctx, not to the request context, so an HTTP server shutdown
// does not tear down live chats before the hub had a chance to drain.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(s.log, conn, s.hub, s.auth, s.sendBuffer, s.maxPayloadBytes)
		s.hub.OpenSession(ctx, client.ID(), client)
		s.log.Debug("connection established", "connection_id", client.ID(), "remote", r.RemoteAddr)

		go client.WritePump()
		client.ReadPump(ctx)
	})
}
