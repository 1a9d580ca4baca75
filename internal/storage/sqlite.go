package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"lanchat/internal/models"
)

const defaultBusyTimeout = 5000

// SQLiteHistory keeps the history in a single messages table. Save swaps the
// table contents inside one transaction.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens (and migrates) the database at path. Call Close when done.
func NewSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	if path == "" {
		path = "messages.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	h := &SQLiteHistory{db: db}
	if err := h.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (h *SQLiteHistory) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			position INTEGER PRIMARY KEY,
			id INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_timestamp ON messages(timestamp);`,
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (h *SQLiteHistory) Load(ctx context.Context) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "history.load")
	defer span.End()

	rows, err := h.db.QueryContext(ctx, `SELECT payload FROM messages ORDER BY position`)
	if err != nil {
		span.RecordError(err)
		return []models.Message{}, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			span.RecordError(err)
			return []models.Message{}, fmt.Errorf("scan history: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			span.RecordError(err)
			return []models.Message{}, fmt.Errorf("parse history row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return []models.Message{}, fmt.Errorf("read history: %w", err)
	}
	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}

func (h *SQLiteHistory) Save(ctx context.Context, messages []models.Message) (err error) {
	ctx, span := tracer.Start(ctx, "history.save", trace.WithAttributes(attribute.Int("messages", len(messages))))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages(position, id, timestamp, payload) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, msg := range messages {
		payload, encErr := json.Marshal(msg)
		if encErr != nil {
			err = fmt.Errorf("encode message %s: %w", msg.ID, encErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, i, int64(msg.ID), msg.Timestamp, string(payload)); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}
