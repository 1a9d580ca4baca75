package internal

import (
	"math"
	"time"

	"lanchat/internal/models"
)

type UploadState int

const (
	UploadInProgress UploadState = iota
	UploadCompleted
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case UploadInProgress:
		return "in-progress"
	case UploadCompleted:
		return "completed"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UploadSession follows one client upload from start to its terminal state.
type UploadSession struct {
	ID         string
	FileName   string
	FileSize   int64
	Owner      string
	Nickname   string
	Percent    int
	State      UploadState
	MessageID  models.MessageID
	StartedAt  time.Time
	ResolvedAt time.Time
}

func (s UploadSession) Terminal() bool {
	return s.State != UploadInProgress
}

// UploadTracker holds the upload sessions keyed by the client-generated id.
// Sessions move in-progress -> completed | failed and never leave a terminal
// state.
//
// Not safe for concurrent use; the engine serializes access.
type UploadTracker struct {
	sessions map[string]*UploadSession
}

func NewUploadTracker() *UploadTracker {
	return &UploadTracker{sessions: make(map[string]*UploadSession)}
}

// Start registers a new in-progress session. Empty or already tracked ids
// are rejected.
func (t *UploadTracker) Start(session UploadSession) (UploadSession, bool) {
	if session.ID == "" {
		return UploadSession{}, false
	}
	if _, exists := t.sessions[session.ID]; exists {
		return UploadSession{}, false
	}
	if session.FileSize < 0 {
		session.FileSize = 0
	}
	session.State = UploadInProgress
	session.Percent = 0
	stored := session
	t.sessions[session.ID] = &stored
	return stored, true
}

// Progress records a percentage for an in-progress session owned by owner.
func (t *UploadTracker) Progress(id, owner string, percent float64) (UploadSession, bool) {
	clamped, ok := ClampPercent(percent)
	if !ok {
		return UploadSession{}, false
	}
	session, ok := t.sessions[id]
	if !ok || session.Terminal() || session.Owner != owner {
		return UploadSession{}, false
	}
	session.Percent = clamped
	return *session, true
}

// Complete resolves an in-progress session owned by owner with the message
// that published the file.
func (t *UploadTracker) Complete(id, owner string, messageID models.MessageID, now time.Time) (UploadSession, bool) {
	session, ok := t.sessions[id]
	if !ok || session.Terminal() || session.Owner != owner {
		return UploadSession{}, false
	}
	session.State = UploadCompleted
	session.Percent = 100
	session.MessageID = messageID
	session.ResolvedAt = now
	return *session, true
}

// Fail resolves an in-progress session. An empty owner marks a failure
// detected by the server itself, which may fail any session.
func (t *UploadTracker) Fail(id, owner string, now time.Time) (UploadSession, bool) {
	session, ok := t.sessions[id]
	if !ok || session.Terminal() {
		return UploadSession{}, false
	}
	if owner != "" && session.Owner != owner {
		return UploadSession{}, false
	}
	session.State = UploadFailed
	session.ResolvedAt = now
	return *session, true
}

func (t *UploadTracker) Get(id string) (UploadSession, bool) {
	session, ok := t.sessions[id]
	if !ok {
		return UploadSession{}, false
	}
	return *session, true
}

// Prune forgets terminal sessions resolved before cutoff and returns how many
// were dropped.
func (t *UploadTracker) Prune(cutoff time.Time) int {
	pruned := 0
	for id, session := range t.sessions {
		if session.Terminal() && session.ResolvedAt.Before(cutoff) {
			delete(t.sessions, id)
			pruned++
		}
	}
	return pruned
}

func (t *UploadTracker) Len() int {
	return len(t.sessions)
}

// ClampPercent rounds p and clamps it to [0, 100]. NaN and infinities are
// rejected.
func ClampPercent(p float64) (int, bool) {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	rounded := math.Round(p)
	switch {
	case rounded < 0:
		return 0, true
	case rounded > 100:
		return 100, true
	default:
		return int(rounded), true
	}
}
