package internal

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request, registers the connection and greets it with
// the history and online list.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Warn(request.Context(), "websocket upgrade failed", "err", err)
		return
	}

	// the request context ends when this handler returns
	ctx := context.WithoutCancel(request.Context())
	client := newClient(uuid.NewString(), s.hub, s.engine, websocketConn, s.logger)
	s.metrics.IncConn()
	client.logger.Debug(ctx, "websocket connected", "remote", request.RemoteAddr)

	s.engine.Connect(ctx, client.id, func() {
		s.hub.register(client)
	})

	go client.writePump()
	go client.readPump(ctx, s.metrics.DecConn)
}
