// Package scs adapts any scs session backend (memstore, redisstore,
// sqlite3store, ...) to the session store contract.
package scs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// SessionStore implements sp.SessionStore over an scs.Store. Each session is
// committed as a JSON blob under its token with the session expiry, so
// backends drop expired entries on their own.
type SessionStore struct {
	Store scs.Store

	mu sync.Mutex // orders touch against delete
}

// NewSessionStore wraps store. A nil store means an in-memory scs memstore.
func NewSessionStore(store scs.Store) *SessionStore {
	if store == nil {
		store = memstore.New()
	}
	return &SessionStore{Store: store}
}

func (s *SessionStore) find(ctx context.Context, token string) ([]byte, bool, error) {
	if cs, ok := s.Store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, token)
	}
	return s.Store.Find(token)
}

func (s *SessionStore) commit(ctx context.Context, token string, b []byte, expiry time.Time) error {
	if cs, ok := s.Store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, token, b, expiry)
	}
	return s.Store.Commit(token, b, expiry)
}

func (s *SessionStore) delete(ctx context.Context, token string) error {
	if cs, ok := s.Store.(scs.CtxStore); ok {
		return cs.DeleteCtx(ctx, token)
	}
	return s.Store.Delete(token)
}

func (s *SessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, session.Token, data, session.ExpiresAt)
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	data, found, err := s.find(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sp.ErrSessionNotFound
	}
	var session sp.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, token)
	if err != nil {
		return err
	}
	session.ExpiresAt = expiresAt
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return s.commit(ctx, token, data, expiresAt)
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(ctx, token)
}
