package internal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"lanchat/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMsgSize     = 1 << 20
	sendQueueDepth = 256
)

// Client is one websocket connection.
type Client struct {
	id     string
	hub    *Hub
	engine *Engine
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger
}

func newClient(id string, hub *Hub, engine *Engine, conn *websocket.Conn, logger logging.Logger) *Client {
	return &Client{
		id:     id,
		hub:    hub,
		engine: engine,
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		logger: logger.With("conn", id),
	}
}

// readPump feeds inbound frames to the engine until the connection fails,
// then runs the disconnect sequence.
func (client *Client) readPump(ctx context.Context, onClose func()) {
	defer func() {
		client.hub.unregister(client)
		client.conn.Close()
		client.engine.Disconnect(ctx, client.id)
		if onClose != nil {
			onClose()
		}
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				client.logger.Debug(ctx, "websocket read failed", "err", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := client.engine.Dispatch(ctx, client.id, payload); err != nil {
			client.logger.Debug(ctx, "inbound event dropped", "err", err)
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					client.logger.Debug(context.Background(), "websocket write failed", "err", err)
				}
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
