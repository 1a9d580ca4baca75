package internal

import (
	"context"
	"time"

	"lanchat/internal/logging"
	"lanchat/internal/models"
)

const DefaultSweepInterval = time.Minute

// SweepResult summarizes one expiry pass.
type SweepResult struct {
	Expired      int
	BlobsRemoved int
	Pruned       int
}

// Sweep drops messages older than the retention window together with the
// blobs only they referenced, then tells every connection about the new
// history. Running it twice in a row changes nothing the second time.
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	result := SweepResult{Pruned: e.uploads.Prune(now.Add(-e.uploadTTL))}

	retained := make([]models.Message, 0, len(e.history))
	var expired []models.Message
	for _, msg := range e.history {
		if msg.Expired(now, e.retention) {
			expired = append(expired, msg)
			continue
		}
		retained = append(retained, msg)
	}
	if len(expired) == 0 {
		return result
	}

	e.history = retained
	released := make(map[string]struct{})
	for _, msg := range expired {
		if !msg.HasBlob() || e.referencedLocked(msg.StoredFileName) {
			continue
		}
		if _, done := released[msg.StoredFileName]; done {
			continue
		}
		released[msg.StoredFileName] = struct{}{}
		e.removeBlobLocked(ctx, msg.StoredFileName)
		result.BlobsRemoved++
	}
	result.Expired = len(expired)

	e.persistLocked(ctx)
	e.files.Rebuild(e.history)
	e.metrics.AddExpired(result.Expired)
	e.transport.Broadcast(EventLoadMessages, e.snapshotLocked())
	e.logger.Info(ctx, "expired messages swept",
		"expired", result.Expired,
		"blobs", result.BlobsRemoved,
		"retained", len(e.history),
	)
	return result
}

func (e *Engine) referencedLocked(stored string) bool {
	for i := range e.history {
		if e.history[i].HasBlob() && e.history[i].StoredFileName == stored {
			return true
		}
	}
	return false
}

// Sweeper runs Engine.Sweep once at start and then every interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   logging.Logger
}

func NewSweeper(engine *Engine, interval time.Duration, logger logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.engine.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
			s.engine.Sweep(ctx)
		}
	}
}
