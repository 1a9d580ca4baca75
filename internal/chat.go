package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"path"
	"strings"

	"lanchat/internal/models"
	"lanchat/internal/storage"
)

// Event names carried in the "event" field of every websocket frame.
const (
	EventSetNickname     = "set nickname"
	EventChatMessage     = "chat message"
	EventFileMessage     = "file message"
	EventImageMessage    = "image message"
	EventDeleteMessage   = "delete message"
	EventMessageDeleted  = "message deleted"
	EventLoadMessages    = "load messages"
	EventOnlineUsers     = "update online users"
	EventUploadStarted   = "file upload started"
	EventUploadProgress  = "file upload progress"
	EventUploadFailed    = "file upload failed"
	EventUploadCompleted = "file upload completed"
	EventServerHealth    = "server health"
)

const (
	DefaultSocketPath = "/socket"
	AnonymousNickname = "Anonymous"
	filesPrefix       = "/files/"
	downloadPrefix    = "/download/"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FilePath is the inline URL path of a stored blob.
func FilePath(stored string) string {
	return filesPrefix + url.PathEscape(stored)
}

// DownloadPath is the attachment URL path of a stored blob.
func DownloadPath(stored string) string {
	return downloadPrefix + url.PathEscape(stored)
}

// FileUpload is the inbound payload of file and image messages and the
// response body of POST /upload.
type FileUpload struct {
	FileName       string `json:"fileName"`
	StoredFileName string `json:"storedFileName"`
	FilePath       string `json:"filePath"`
	DownloadPath   string `json:"downloadPath,omitempty"`
	FileSize       int64  `json:"fileSize"`
	UploadID       string `json:"uploadId,omitempty"`
}

type UploadStartedEvent struct {
	UploadID  string `json:"uploadId"`
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	Nickname  string `json:"nickname"`
	Timestamp int64  `json:"timestamp"`
}

type UploadProgressEvent struct {
	UploadID string `json:"uploadId"`
	Percent  int    `json:"percent"`
	Nickname string `json:"nickname"`
}

type UploadFailedEvent struct {
	UploadID string `json:"uploadId"`
	Error    string `json:"error"`
	Nickname string `json:"nickname"`
}

type UploadCompletedEvent struct {
	UploadID  string           `json:"uploadId"`
	MessageID models.MessageID `json:"messageId"`
	Nickname  string           `json:"nickname"`
}

type HealthEvent struct {
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

type uploadStartedPayload struct {
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type uploadProgressPayload struct {
	UploadID string   `json:"uploadId"`
	Percent  *float64 `json:"percent"`
}

type uploadFailedPayload struct {
	UploadID string `json:"uploadId"`
	Error    string `json:"error"`
}

var errMalformed = errors.New("malformed payload")

// decodeText accepts a bare JSON string or an object holding the string under
// key.
func decodeText(data json.RawMessage, key string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", errMalformed
	}
	var text string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return "", err
		}
		return text, nil
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return "", err
	}
	raw, ok := object[key]
	if !ok {
		return "", errMalformed
	}
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", err
	}
	return text, nil
}

// decodeMessageID accepts a number, a quoted number, or {"id": ...}.
func decodeMessageID(data json.RawMessage) (models.MessageID, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, errMalformed
	}
	var id models.MessageID
	if data[0] == '{' {
		var wrapped struct {
			ID *models.MessageID `json:"id"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return 0, err
		}
		if wrapped.ID == nil {
			return 0, errMalformed
		}
		return *wrapped.ID, nil
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// normalizeUpload resolves the stored and display names of an inbound file or
// image message. Paths supplied by the client are never trusted; only the base
// name is taken from them.
func normalizeUpload(in FileUpload) (stored, display string, ok bool) {
	stored = strings.TrimSpace(in.StoredFileName)
	if stored == "" && in.FilePath != "" {
		raw := in.FilePath
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
		stored = path.Base(strings.ReplaceAll(raw, "\\", "/"))
	}
	if storage.ValidName(stored) != nil || in.FileSize < 0 {
		return "", "", false
	}
	display = strings.TrimSpace(in.FileName)
	if display == "" {
		display = stored
	}
	return stored, display, true
}
