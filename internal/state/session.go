package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/bankdesk/internal/types"
)

// SessionStore is a JSON-file-backed session store.
// Each session is stored in sessions/<sessionID>/session.json; the same
// directory holds the session's event log and artifacts.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id))
}

func (s *SessionStore) sessionPath(id types.SessionID) string {
	return filepath.Join(s.sessionDir(id), "session.json")
}

// load reads one session record. Caller must hold the lock.
func (s *SessionStore) load(id types.SessionID) (*types.Session, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if session.ExtractedData == nil {
		session.ExtractedData = make(map[string]string)
	}
	return &session, nil
}

// save writes one session record atomically. Caller must hold the lock.
func (s *SessionStore) save(session *types.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return writeFileAtomic(s.sessionPath(session.ID), data)
}

// loadAll reads every session record. Directories without a session.json
// (for example ones holding only an orphaned event log) are skipped.
func (s *SessionStore) loadAll() ([]*types.Session, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []*types.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		session, err := s.load(types.SessionID(entry.Name()))
		if errors.Is(err, types.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Create stores a new session. A non-empty key must not belong to another session.
func (s *SessionStore) Create(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sessionPath(session.ID)); err == nil {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	if session.Key != "" {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		for _, existing := range all {
			if existing.Key == session.Key {
				return fmt.Errorf("%w: %s", ErrKeyInUse, session.Key)
			}
		}
	}
	return s.save(session)
}

// Get returns the session with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(id)
}

// FindByKey returns the session owning the given channel key.
func (s *SessionStore) FindByKey(_ context.Context, key types.SessionKey) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	for _, session := range all {
		if session.Key == key {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w: key %s", types.ErrSessionNotFound, key)
}

// Update replaces the stored record of an existing session.
func (s *SessionStore) Update(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sessionPath(session.ID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrSessionNotFound, session.ID)
		}
		return fmt.Errorf("stat session: %w", err)
	}
	return s.save(session)
}

// Delete removes the session and everything stored in its directory.
func (s *SessionStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sessionPath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
		}
		return fmt.Errorf("stat session: %w", err)
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// List returns all sessions.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadAll()
}
