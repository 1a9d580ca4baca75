// Package models holds the chat history records shared by the engine, the
// history stores, and the terminal client.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType discriminates the history record variants. Text messages carry
// no type on the wire.
type MessageType string

const (
	TypeText  MessageType = ""
	TypeFile  MessageType = "file"
	TypeImage MessageType = "image"
)

// MessageID is unique within a history. Ids assigned by the engine increase
// strictly in append order.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := ParseMessageID(raw)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	parsed, err := ParseMessageID(number.String())
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseMessageID parses a decimal id. Integral floats such as "1.7e15" are
// accepted since browsers may serialize large ids that way.
func ParseMessageID(raw string) (MessageID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("message id: empty")
	}
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return MessageID(value), nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value != float64(int64(value)) {
		return 0, fmt.Errorf("message id: invalid value %q", raw)
	}
	return MessageID(int64(value)), nil
}

// Message is one history record. Text messages use Body; file and image
// messages describe a stored blob.
type Message struct {
	ID             MessageID   `json:"id"`
	Nickname       string      `json:"nickname"`
	Type           MessageType `json:"type,omitempty"`
	Body           string      `json:"message,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FilePath       string      `json:"filePath,omitempty"`
	DownloadPath   string      `json:"downloadPath,omitempty"`
	StoredFileName string      `json:"storedFileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	Timestamp      int64       `json:"timestamp"`
	UploadID       string      `json:"uploadId,omitempty"`
}

// MarshalJSON always writes fileSize for file and image records, zero-byte
// files included.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Type != TypeFile && m.Type != TypeImage {
		return json.Marshal(plain(m))
	}
	return json.Marshal(struct {
		plain
		FileSize int64 `json:"fileSize"`
	}{plain: plain(m), FileSize: m.FileSize})
}

// HasBlob reports whether the record references an uploaded blob.
func (m Message) HasBlob() bool {
	return (m.Type == TypeFile || m.Type == TypeImage) && m.StoredFileName != ""
}

// Time converts the epoch-millisecond timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Expired reports whether the record is at least retention old at now.
func (m Message) Expired(now time.Time, retention time.Duration) bool {
	return now.UnixMilli()-m.Timestamp >= retention.Milliseconds()
}
