// Package uploads tracks resumable blob upload sessions. A session is
// created by POST, extended by PATCH, and finalized by PUT with a digest;
// DELETE or the inactivity janitor cancels it. Appends on one session are
// serialized by a per-session mutex, so concurrent PATCHes queue instead
// of conflicting.
package uploads

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/wharf/internal/db/queries"
	"github.com/bnema/wharf/internal/metrics"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/pkg/digest"
	"github.com/bnema/wharf/pkg/logger"
)

var (
	// ErrSessionUnknown is returned for ids with no live session.
	ErrSessionUnknown = errors.New("upload session unknown")
	// ErrBlobTooLarge is returned when a session exceeds the configured cap.
	ErrBlobTooLarge = errors.New("blob exceeds maximum size")
)

// Session is one in-flight upload. The streaming hasher lives in the
// stage; after a crash a session cannot be resumed and is reaped by the
// janitor instead.
type Session struct {
	mu        sync.Mutex
	ID        string
	Repo      string
	stage     *storage.Stage
	CreatedAt time.Time
}

// Manager owns all live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store    *storage.Store
	database *sql.DB
	ttl      time.Duration
	maxBytes int64
}

// NewManager creates a session manager. maxBytes caps total blob size;
// ttl is the inactivity window after which the janitor cancels a session.
func NewManager(store *storage.Store, database *sql.DB, ttl time.Duration, maxBytes int64) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		database: database,
		ttl:      ttl,
		maxBytes: maxBytes,
	}
}

// Start opens a new session for repo and returns it.
func (m *Manager) Start(repo string) (*Session, error) {
	id := uuid.NewString()
	stage, err := m.store.NewStage(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	if err := queries.CreateUploadSession(m.database, id, repo, stage.Path()); err != nil {
		_ = stage.Abort()
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Repo:      repo,
		stage:     stage,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	metrics.ActiveUploads.Inc()
	logger.Debug("Upload session started", "id", id, "repo", repo)
	return sess, nil
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, id)
	}
	return sess, nil
}

// Append adds body bytes to the session at offset. A negative offset
// means "wherever the session currently is". Returns the new total
// length. A non-contiguous offset yields storage.ErrRangeInvalid with
// the committed length unchanged.
func (m *Manager) Append(id string, body io.Reader, offset int64) (int64, error) {
	sess, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if offset < 0 {
		offset = sess.stage.Size()
	}
	if m.maxBytes > 0 {
		body = io.LimitReader(body, m.maxBytes-sess.stage.Size()+1)
	}
	before := sess.stage.Size()
	length, err := sess.stage.Append(body, offset)
	written := length - before
	if written > 0 {
		metrics.UploadBytesTotal.Add(float64(written))
	}
	if err != nil {
		return length, err
	}
	if m.maxBytes > 0 && length > m.maxBytes {
		return length, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, length)
	}
	if err := queries.UpdateUploadSessionLength(m.database, id, length); err != nil {
		return length, err
	}
	return length, nil
}

// Finalize appends any trailing body bytes, verifies the expected digest
// against the streaming hash, and promotes the staged bytes into the
// blob store. On digest mismatch the session stays open so the client
// can retry or cancel.
func (m *Manager) Finalize(id string, body io.Reader, expected digest.Digest) (int64, error) {
	sess, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if body != nil {
		before := sess.stage.Size()
		length, err := sess.stage.Append(body, before)
		if n := length - before; n > 0 {
			metrics.UploadBytesTotal.Add(float64(n))
		}
		if err != nil {
			return length, err
		}
		if m.maxBytes > 0 && length > m.maxBytes {
			return length, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, length)
		}
	}

	size, err := sess.stage.Commit(m.store, expected)
	if err != nil {
		return sess.stage.Size(), err
	}

	m.remove(id)
	if err := queries.DeleteUploadSession(m.database, id); err != nil && !errors.Is(err, queries.ErrNotFound) {
		logger.Warn("Failed to delete finalized upload session row", "id", id, "error", err)
	}
	metrics.BlobBytesTotal.Add(float64(size))
	logger.Info("Blob upload finalized", "id", id, "repo", sess.Repo, "digest", expected, "size", size)
	return size, nil
}

// Status returns the committed byte length and bumps session activity.
func (m *Manager) Status(id string) (int64, error) {
	sess, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := queries.TouchUploadSession(m.database, id); err != nil {
		return sess.stage.Size(), err
	}
	return sess.stage.Size(), nil
}

// Cancel aborts the session and removes its staged bytes.
func (m *Manager) Cancel(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.stage.Abort(); err != nil {
		logger.Warn("Failed to remove staging file", "id", id, "error", err)
	}
	m.remove(id)
	if err := queries.DeleteUploadSession(m.database, id); err != nil && !errors.Is(err, queries.ErrNotFound) {
		return err
	}
	logger.Debug("Upload session canceled", "id", id)
	return nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		metrics.ActiveUploads.Dec()
	}
	m.mu.Unlock()
}
