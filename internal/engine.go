package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lanchat/internal/logging"
	"lanchat/internal/models"
	"lanchat/internal/storage"
)

const (
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultUploadSessionTTL = 10 * time.Minute
	DefaultFlushInterval    = 5 * time.Second

	defaultUploadFailure = "upload failed"
)

// Transport delivers events to websocket connections. Both methods are called
// with the engine lock held and must not block.
type Transport interface {
	Send(connID, event string, payload any)
	Broadcast(event string, payload any)
}

type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRetention sets how long messages live before the sweep removes them.
func WithRetention(retention time.Duration) EngineOption {
	return func(e *Engine) {
		e.retention = retention
	}
}

// WithUploadSessionTTL sets how long finished upload sessions are remembered.
func WithUploadSessionTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.uploadTTL = ttl
	}
}

// Health reports the engine state served by /healthz.
type Health struct {
	Degraded bool
	Error    string
	Messages int
	Online   int
	Uploads  int
}

// Engine owns the chat state: history, presence, the file index and upload
// sessions. Every operation runs its whole read-modify-persist-broadcast
// sequence under one mutex, so all connections observe the same order.
type Engine struct {
	mutex     sync.Mutex
	history   []models.Message
	presence  *PresenceRegistry
	files     *FileIndex
	uploads   *UploadTracker
	ids       idGenerator
	store     storage.HistoryStore
	blobs     storage.BlobStore
	transport Transport
	metrics   *Metrics
	logger    logging.Logger
	now       func() time.Time
	retention time.Duration
	uploadTTL time.Duration
	dirty     bool
	saveErr   error
}

func NewEngine(store storage.HistoryStore, blobs storage.BlobStore, transport Transport, metrics *Metrics, logger logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		history:   []models.Message{},
		presence:  NewPresenceRegistry(),
		files:     NewFileIndex(),
		uploads:   NewUploadTracker(),
		store:     store,
		blobs:     blobs,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		retention: DefaultRetention,
		uploadTTL: DefaultUploadSessionTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces the in-memory history with the stored one. An unreadable
// store leaves the engine with an empty history.
func (e *Engine) Load(ctx context.Context) int {
	messages, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn(ctx, "history unreadable, starting empty", "err", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.history = messages
	for _, msg := range messages {
		e.ids.observe(msg.ID)
	}
	e.files.Rebuild(e.history)
	e.logger.Info(ctx, "history loaded", "messages", len(messages))
	return len(messages)
}

// Connect greets a new connection with the history and the online list.
// register, when set, attaches the connection to the transport under the
// engine lock, so no event can reach it before its history snapshot.
func (e *Engine) Connect(ctx context.Context, connID string, register func()) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if register != nil {
		register()
	}
	e.transport.Send(connID, EventLoadMessages, e.snapshotLocked())
	e.transport.Send(connID, EventOnlineUsers, e.presence.Snapshot())
	if e.dirty {
		e.transport.Send(connID, EventServerHealth, HealthEvent{Degraded: true, Error: e.saveErr.Error()})
	}
	e.logger.Debug(ctx, "connection greeted", "conn", connID, "messages", len(e.history))
}

// Disconnect drops the connection from presence and tells everyone else.
// Upload sessions it owns are left to expire.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.presence.Remove(connID)
	e.transport.Broadcast(EventOnlineUsers, e.presence.Snapshot())
	e.logger.Debug(ctx, "connection left", "conn", connID, "online", e.presence.Len())
}

// SetNickname names the connection. Blank nicknames are ignored.
func (e *Engine) SetNickname(ctx context.Context, connID, nickname string) bool {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.presence.Set(connID, nickname)
	e.transport.Broadcast(EventOnlineUsers, e.presence.Snapshot())
	e.logger.Info(ctx, "nickname set", "conn", connID, "nickname", nickname)
	return true
}

// PostChat appends a text message. The body is kept verbatim; bodies made only
// of whitespace are dropped.
func (e *Engine) PostChat(ctx context.Context, connID, body string) (models.Message, bool) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	msg := models.Message{
		ID:        e.ids.next(now),
		Nickname:  e.nicknameLocked(connID),
		Body:      body,
		Timestamp: now.UnixMilli(),
	}
	e.appendLocked(ctx, msg, EventChatMessage)
	return msg, true
}

// PostFile appends a file message for an uploaded blob and resolves the
// matching upload session when the message carries its id.
func (e *Engine) PostFile(ctx context.Context, connID string, in FileUpload) (models.Message, bool) {
	stored, display, ok := normalizeUpload(in)
	if !ok {
		return models.Message{}, false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	msg := models.Message{
		ID:             e.ids.next(now),
		Nickname:       e.nicknameLocked(connID),
		Type:           models.TypeFile,
		FileName:       display,
		FilePath:       FilePath(stored),
		DownloadPath:   DownloadPath(stored),
		StoredFileName: stored,
		FileSize:       in.FileSize,
		Timestamp:      now.UnixMilli(),
		UploadID:       strings.TrimSpace(in.UploadID),
	}
	e.files.Record(stored, display)
	e.appendLocked(ctx, msg, EventFileMessage)

	if msg.UploadID != "" {
		if session, ok := e.uploads.Complete(msg.UploadID, connID, msg.ID, now); ok {
			e.metrics.IncUpload(UploadCompleted)
			e.transport.Broadcast(EventUploadCompleted, UploadCompletedEvent{
				UploadID:  session.ID,
				MessageID: msg.ID,
				Nickname:  session.Nickname,
			})
		}
	}
	return msg, true
}

// PostImage appends an image message for a pasted image.
func (e *Engine) PostImage(ctx context.Context, connID string, in FileUpload) (models.Message, bool) {
	stored, display, ok := normalizeUpload(in)
	if !ok {
		return models.Message{}, false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	msg := models.Message{
		ID:             e.ids.next(now),
		Nickname:       e.nicknameLocked(connID),
		Type:           models.TypeImage,
		FileName:       display,
		FilePath:       FilePath(stored),
		StoredFileName: stored,
		FileSize:       in.FileSize,
		Timestamp:      now.UnixMilli(),
	}
	e.appendLocked(ctx, msg, EventImageMessage)
	return msg, true
}

// Delete removes the message with id. Unknown ids are a no-op.
func (e *Engine) Delete(ctx context.Context, id models.MessageID) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	idx := -1
	for i := range e.history {
		if e.history[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.logger.Debug(ctx, "delete of unknown message ignored", "id", id)
		return false
	}

	removed := e.history[idx]
	e.history = append(e.history[:idx], e.history[idx+1:]...)
	if removed.HasBlob() {
		e.releaseBlobLocked(ctx, removed.StoredFileName)
	}
	e.persistLocked(ctx)
	e.metrics.IncDeleted()
	e.transport.Broadcast(EventMessageDeleted, removed.ID)
	e.logger.Info(ctx, "message deleted", "id", removed.ID, "type", string(removed.Type))
	return true
}

// StartUpload opens an upload session owned by connID and announces it.
func (e *Engine) StartUpload(ctx context.Context, connID, uploadID, fileName string, fileSize int64) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.now()
	session, ok := e.uploads.Start(UploadSession{
		ID:        strings.TrimSpace(uploadID),
		FileName:  uploadLabel(fileName),
		FileSize:  fileSize,
		Owner:     connID,
		Nickname:  e.nicknameLocked(connID),
		StartedAt: now,
	})
	if !ok {
		e.logger.Debug(ctx, "upload start rejected", "conn", connID, "upload", uploadID)
		return false
	}
	e.metrics.IncUpload(UploadInProgress)
	e.transport.Broadcast(EventUploadStarted, UploadStartedEvent{
		UploadID:  session.ID,
		FileName:  session.FileName,
		FileSize:  session.FileSize,
		Nickname:  session.Nickname,
		Timestamp: now.UnixMilli(),
	})
	return true
}

// ProgressUpload relays a clamped progress percentage for an upload owned by
// connID.
func (e *Engine) ProgressUpload(ctx context.Context, connID, uploadID string, percent float64) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	session, ok := e.uploads.Progress(strings.TrimSpace(uploadID), connID, percent)
	if !ok {
		e.logger.Debug(ctx, "upload progress rejected", "conn", connID, "upload", uploadID)
		return false
	}
	e.transport.Broadcast(EventUploadProgress, UploadProgressEvent{
		UploadID: session.ID,
		Percent:  session.Percent,
		Nickname: session.Nickname,
	})
	return true
}

// FailUpload marks an upload failed. An empty connID is used for failures
// detected by the server.
func (e *Engine) FailUpload(ctx context.Context, connID, uploadID, reason string) bool {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultUploadFailure
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	session, ok := e.uploads.Fail(strings.TrimSpace(uploadID), connID, e.now())
	if !ok {
		e.logger.Debug(ctx, "upload failure rejected", "conn", connID, "upload", uploadID)
		return false
	}
	e.metrics.IncUpload(UploadFailed)
	e.transport.Broadcast(EventUploadFailed, UploadFailedEvent{
		UploadID: session.ID,
		Error:    reason,
		Nickname: session.Nickname,
	})
	e.logger.Info(ctx, "upload failed", "upload", session.ID, "file", session.FileName, "reason", reason)
	return true
}

// RecordFile remembers the display name of a freshly stored blob.
func (e *Engine) RecordFile(stored, display string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.files.Record(stored, display)
}

// DisplayName returns the name a stored blob should be downloaded as.
func (e *Engine) DisplayName(stored string) string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.files.DisplayName(stored)
}

// Upload returns a copy of an upload session.
func (e *Engine) Upload(uploadID string) (UploadSession, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.uploads.Get(uploadID)
}

// Messages returns a copy of the history.
func (e *Engine) Messages() []models.Message {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.snapshotLocked()
}

// Online returns the nicknames currently listed.
func (e *Engine) Online() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.presence.Snapshot()
}

func (e *Engine) Health() Health {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	health := Health{
		Degraded: e.dirty,
		Messages: len(e.history),
		Online:   e.presence.Len(),
		Uploads:  e.uploads.Len(),
	}
	if e.saveErr != nil {
		health.Error = e.saveErr.Error()
	}
	return health
}

// Flush retries a failed save. It returns nil when the durable copy is
// current.
func (e *Engine) Flush(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.dirty {
		return nil
	}
	e.persistLocked(ctx)
	if e.dirty {
		return e.saveErr
	}
	return nil
}

// RunFlusher calls Flush every interval until ctx is done.
func (e *Engine) RunFlusher(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn(ctx, "history flush failed", "err", err)
			}
		}
	}
}

func (e *Engine) nicknameLocked(connID string) string {
	if nickname, ok := e.presence.Nickname(connID); ok {
		return nickname
	}
	return AnonymousNickname
}

func (e *Engine) snapshotLocked() []models.Message {
	out := make([]models.Message, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) appendLocked(ctx context.Context, msg models.Message, event string) {
	e.history = append(e.history, msg)
	e.persistLocked(ctx)
	e.metrics.IncMessage(msg.Type)
	e.transport.Broadcast(event, msg)
	e.logger.Debug(ctx, "message appended", "id", msg.ID, "event", event, "nickname", msg.Nickname)
}

// persistLocked saves the whole history. A failure keeps the in-memory state,
// marks the engine dirty and announces degraded health once; the next
// successful save clears it.
func (e *Engine) persistLocked(ctx context.Context) {
	err := e.store.Save(ctx, e.history)
	if err != nil {
		e.metrics.IncPersistFailure()
		e.logger.Error(ctx, "persist history failed", "err", err, "messages", len(e.history))
		e.saveErr = err
		if !e.dirty {
			e.dirty = true
			e.metrics.SetDegraded(true)
			e.transport.Broadcast(EventServerHealth, HealthEvent{Degraded: true, Error: err.Error()})
		}
		return
	}
	if e.dirty {
		e.dirty = false
		e.saveErr = nil
		e.metrics.SetDegraded(false)
		e.transport.Broadcast(EventServerHealth, HealthEvent{Degraded: false})
		e.logger.Info(ctx, "history persisted again", "messages", len(e.history))
	}
}

// releaseBlobLocked forgets and deletes a blob no remaining message refers to.
func (e *Engine) releaseBlobLocked(ctx context.Context, stored string) {
	if e.referencedLocked(stored) {
		return
	}
	e.files.Forget(stored)
	e.removeBlobLocked(ctx, stored)
}

func (e *Engine) removeBlobLocked(ctx context.Context, stored string) {
	err := e.blobs.Remove(ctx, stored)
	switch {
	case err == nil:
		e.metrics.IncBlobRemoved()
	case errors.Is(err, storage.ErrBlobNotFound):
		e.logger.Debug(ctx, "blob already gone", "file", stored)
	default:
		e.logger.Warn(ctx, "remove blob failed", "file", stored, "err", err)
	}
}

func uploadLabel(fileName string) string {
	if name := strings.TrimSpace(fileName); name != "" {
		return name
	}
	return unnamedFile
}
