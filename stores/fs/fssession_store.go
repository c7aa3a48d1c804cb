package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// FSSessionStore implements sp.SessionStore with one JSON file per token
// under {StoragePath}/sessions. Expired files are removed by Sweep.
type FSSessionStore struct {
	StoragePath string

	mu sync.Mutex // orders touch against delete
}

// NewFSSessionStore creates a filesystem-backed SessionStore rooted at storagePath
func NewFSSessionStore(storagePath string) *FSSessionStore {
	return &FSSessionStore{StoragePath: storagePath}
}

func (s *FSSessionStore) sessionPath(token string) string {
	return filepath.Join(s.StoragePath, "sessions", safeName(token))
}

func (s *FSSessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	data, err := jsonIndent(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomicFile(s.sessionPath(session.Token), data)
}

func (s *FSSessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	var session sp.Session
	if err := readJSON(s.sessionPath(token), &session); err != nil {
		if isNotExist(err) {
			return nil, sp.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *FSSessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, token)
	if err != nil {
		return err
	}
	session.ExpiresAt = expiresAt
	data, err := jsonIndent(session)
	if err != nil {
		return err
	}
	return writeAtomicFile(s.sessionPath(token), data)
}

func (s *FSSessionStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.sessionPath(token)); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// Sweep removes session files that expired before now
func (s *FSSessionStore) Sweep(now time.Time) (int, error) {
	dir := filepath.Join(s.StoragePath, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var session sp.Session
		if err := readJSON(path, &session); err != nil {
			continue
		}
		if session.IsExpired(now) && os.Remove(path) == nil {
			removed++
		}
	}
	return removed, nil
}
