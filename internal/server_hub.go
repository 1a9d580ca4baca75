package internal

import (
	"context"
	"encoding/json"
	"sync"

	"lanchat/internal/logging"
)

// Hub tracks live websocket clients by connection id and fans encoded events
// out to their send queues. A client whose queue is full is dropped rather
// than waited on.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]*Client
	metrics *Metrics
	logger  logging.Logger
}

func NewHub(metrics *Metrics, logger logging.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		metrics: metrics,
		logger:  logger,
	}
}

func (hub *Hub) Size() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

func (hub *Hub) register(client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.clients[client.id] = client
}

// unregister removes the client and closes its queue. It reports false when
// the client was already gone.
func (hub *Hub) unregister(client *Client) bool {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if current, exists := hub.clients[client.id]; !exists || current != client {
		return false
	}
	delete(hub.clients, client.id)
	close(client.send)
	return true
}

// Send queues an event for one connection.
func (hub *Hub) Send(connID, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		hub.logger.Error(context.Background(), "encode event failed", "event", event, "err", err)
		return
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if client, ok := hub.clients[connID]; ok {
		hub.enqueueLocked(client, frame)
	}
}

// Broadcast queues an event for every connection.
func (hub *Hub) Broadcast(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		hub.logger.Error(context.Background(), "encode event failed", "event", event, "err", err)
		return
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for _, client := range hub.clients {
		hub.enqueueLocked(client, frame)
	}
}

func (hub *Hub) enqueueLocked(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		// slow consumer: closing the queue makes writePump hang up.
		close(client.send)
		delete(hub.clients, client.id)
		hub.metrics.IncDroppedClient()
		hub.logger.Warn(context.Background(), "dropping slow client", "conn", client.id)
	}
}

func encodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload})
}
