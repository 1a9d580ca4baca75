// Package storage persists chat history and uploaded blobs.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lanchat/internal/models"
)

var tracer = otel.Tracer("lanchat-storage")

// HistoryStore persists the whole history as one ordered document.
//
// Load never returns a nil slice. A missing or unreadable document yields an
// empty history; the error, if any, is diagnostic only.
// Save replaces the stored history and reports failures to the caller.
type HistoryStore interface {
	Load(ctx context.Context) ([]models.Message, error)
	Save(ctx context.Context, messages []models.Message) error
	Close() error
}

// JSONHistory keeps the history as a pretty-printed JSON array in one file.
type JSONHistory struct {
	path string
}

func NewJSONHistory(path string) *JSONHistory {
	return &JSONHistory{path: path}
}

func (h *JSONHistory) Path() string {
	return h.path
}

func (h *JSONHistory) Load(ctx context.Context) ([]models.Message, error) {
	_, span := tracer.Start(ctx, "history.load", trace.WithAttributes(attribute.String("path", h.path)))
	defer span.End()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Message{}, nil
		}
		span.RecordError(err)
		return []models.Message{}, fmt.Errorf("read history: %w", err)
	}
	var messages []models.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		span.RecordError(err)
		return []models.Message{}, fmt.Errorf("parse history %s: %w", h.path, err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}

// Save writes to a sibling temp file and renames it over the document so a
// crash mid-write leaves the previous history intact.
func (h *JSONHistory) Save(ctx context.Context, messages []models.Message) error {
	_, span := tracer.Start(ctx, "history.save", trace.WithAttributes(
		attribute.String("path", h.path),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	if messages == nil {
		messages = []models.Message{}
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		span.RecordError(err)
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		_ = os.Remove(tmp)
		span.RecordError(err)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func (h *JSONHistory) Close() error {
	return nil
}
