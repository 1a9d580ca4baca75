package internal

import (
	"lanchat/internal/logging"
	"lanchat/internal/storage"
)

const DefaultMaxFileSize = 50 << 20

// Server bundles what the HTTP and websocket handlers need.
type Server struct {
	engine      *Engine
	hub         *Hub
	blobs       storage.BlobStore
	metrics     *Metrics
	logger      logging.Logger
	maxFileSize int64
}

func NewServer(engine *Engine, hub *Hub, blobs storage.BlobStore, metrics *Metrics, logger logging.Logger, maxFileSize int64) *Server {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Server{
		engine:      engine,
		hub:         hub,
		blobs:       blobs,
		metrics:     metrics,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

func (s *Server) Engine() *Engine {
	return s.engine
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}
