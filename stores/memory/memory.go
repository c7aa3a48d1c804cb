// Package memory keeps accounts and sessions in process memory. It is meant
// for tests and single-process demos; nothing survives a restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// AccountStore implements sp.AccountStore over maps guarded by one mutex.
// The username and external identity indices are the uniqueness constraints.
type AccountStore struct {
	mu         sync.RWMutex
	accounts   map[string]*sp.Account
	byUsername map[string]string // username -> account id
	byExternal map[string]string // provider:subject -> account id
	now        func() time.Time
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:   make(map[string]*sp.Account),
		byUsername: make(map[string]string),
		byExternal: make(map[string]string),
		now:        time.Now,
	}
}

func (s *AccountStore) GetAccount(ctx context.Context, accountID string) (*sp.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, sp.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (s *AccountStore) FindByLocalUsername(ctx context.Context, name string) (*sp.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[name]
	if !ok {
		return nil, sp.ErrAccountNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *AccountStore) FindByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string) (*sp.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[sp.ExternalIdentityKey(provider, subjectID)]
	if !ok {
		return nil, sp.ErrAccountNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *AccountStore) FindOrCreateByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string, hints map[string]any) (*sp.Account, bool, error) {
	key := sp.ExternalIdentityKey(provider, subjectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byExternal[key]; ok {
		return s.accounts[id].Clone(), false, nil
	}
	acct := s.newAccount()
	acct.ExternalIdentities = map[sp.Provider]string{provider: subjectID}
	acct.Profile = maps.Clone(hints)
	s.accounts[acct.ID] = acct
	s.byExternal[key] = acct.ID
	return acct.Clone(), true, nil
}

func (s *AccountStore) CreateLocalAccount(ctx context.Context, name string, storedCredential string) (*sp.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[name]; taken {
		return nil, sp.ErrDuplicateIdentity
	}
	acct := s.newAccount()
	acct.Username = name
	acct.Credential = storedCredential
	s.accounts[acct.ID] = acct
	s.byUsername[name] = acct.ID
	return acct.Clone(), nil
}

func (s *AccountStore) UpdateCredential(ctx context.Context, accountID string, storedCredential string) error {
	return s.update(accountID, func(acct *sp.Account) error {
		acct.Credential = storedCredential
		return nil
	})
}

func (s *AccountStore) SetLocalCredential(ctx context.Context, accountID string, name string, storedCredential string) error {
	return s.update(accountID, func(acct *sp.Account) error {
		if holder, taken := s.byUsername[name]; taken && holder != accountID {
			return sp.ErrDuplicateIdentity
		}
		if acct.Username != "" && acct.Username != name {
			delete(s.byUsername, acct.Username)
		}
		acct.Username = name
		acct.Credential = storedCredential
		s.byUsername[name] = accountID
		return nil
	})
}

func (s *AccountStore) LinkExternalIdentity(ctx context.Context, accountID string, provider sp.Provider, subjectID string) error {
	key := sp.ExternalIdentityKey(provider, subjectID)
	return s.update(accountID, func(acct *sp.Account) error {
		if holder, taken := s.byExternal[key]; taken {
			if holder != accountID {
				return sp.ErrIdentityAlreadyLinked
			}
			return nil
		}
		if acct.ExternalIdentities == nil {
			acct.ExternalIdentities = make(map[sp.Provider]string)
		}
		if old, ok := acct.ExternalIdentities[provider]; ok {
			delete(s.byExternal, sp.ExternalIdentityKey(provider, old))
		}
		acct.ExternalIdentities[provider] = subjectID
		s.byExternal[key] = accountID
		return nil
	})
}

func (s *AccountStore) UpdateProfileSecret(ctx context.Context, accountID string, text string) error {
	return s.update(accountID, func(acct *sp.Account) error {
		acct.ProfileSecret = &text
		return nil
	})
}

func (s *AccountStore) ListProfileSecrets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for _, acct := range s.accounts {
		if acct.ProfileSecret != nil {
			out = append(out, *acct.ProfileSecret)
		}
	}
	return out, nil
}

// update applies fn to the stored account under the write lock. fn's changes
// are discarded if it fails.
func (s *AccountStore) update(accountID string, fn func(acct *sp.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return sp.ErrAccountNotFound
	}
	working := acct.Clone()
	if err := fn(working); err != nil {
		return err
	}
	working.UpdatedAt = s.now()
	working.Version++
	s.accounts[accountID] = working
	return nil
}

func (s *AccountStore) newAccount() *sp.Account {
	now := s.now()
	return &sp.Account{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// SessionStore implements sp.SessionStore over a map. Expired sessions are
// left for the manager to ignore and are dropped by Sweep.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sp.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]sp.Session)}
}

func (s *SessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = *session
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, sp.ErrSessionNotFound
	}
	return &session, nil
}

func (s *SessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return sp.ErrSessionNotFound
	}
	session.ExpiresAt = expiresAt
	s.sessions[token] = session
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Sweep drops sessions that expired before now and returns how many it removed
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}
