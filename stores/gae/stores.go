//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"maps"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// Kind constants for Datastore entities
const (
	KindAccount          = "Account"
	KindUsername         = "Username"
	KindExternalIdentity = "ExternalIdentity"
	KindSession          = "Session"
)

type namespaced struct {
	client    *datastore.Client
	namespace string
}

func (n namespaced) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = n.namespace
	return key
}

// ============================================================================
// AccountStore
// ============================================================================

// AccountStore implements sp.AccountStore using Google Cloud Datastore
type AccountStore struct {
	namespaced
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{namespaced{client: client, namespace: namespace}}
}

func (s *AccountStore) accountKey(accountID string) *datastore.Key {
	return s.namespacedKey(KindAccount, accountID)
}

func (s *AccountStore) usernameKey(name string) *datastore.Key {
	return s.namespacedKey(KindUsername, name)
}

func (s *AccountStore) identityKey(provider sp.Provider, subjectID string) *datastore.Key {
	return s.namespacedKey(KindExternalIdentity, sp.ExternalIdentityKey(provider, subjectID))
}

// getter reads one entity, from a transaction (tx.Get) or directly (clientGetter)
type getter func(key *datastore.Key, dst any) error

func (s *AccountStore) clientGetter(ctx context.Context) getter {
	return func(key *datastore.Key, dst any) error { return s.client.Get(ctx, key, dst) }
}

func (s *AccountStore) loadAccount(get getter, accountID string) (*sp.Account, error) {
	if accountID == "" {
		return nil, sp.ErrAccountNotFound
	}
	var entity AccountEntity
	if err := get(s.accountKey(accountID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sp.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) loadByIndex(get getter, key *datastore.Key) (*sp.Account, error) {
	var index IndexEntity
	if err := get(key, &index); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sp.ErrAccountNotFound
		}
		return nil, err
	}
	return s.loadAccount(get, index.AccountID)
}

func (s *AccountStore) GetAccount(ctx context.Context, accountID string) (*sp.Account, error) {
	return s.loadAccount(s.clientGetter(ctx), accountID)
}

func (s *AccountStore) FindByLocalUsername(ctx context.Context, name string) (*sp.Account, error) {
	return s.loadByIndex(s.clientGetter(ctx), s.usernameKey(name))
}

func (s *AccountStore) FindByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string) (*sp.Account, error) {
	return s.loadByIndex(s.clientGetter(ctx), s.identityKey(provider, subjectID))
}

// FindOrCreateByExternalIdentity reads and writes the identity entity in one
// transaction. Datastore aborts the loser of a concurrent creation, and the
// retry finds the winner's entity.
func (s *AccountStore) FindOrCreateByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string, hints map[string]any) (*sp.Account, bool, error) {
	if acct, err := s.FindByExternalIdentity(ctx, provider, subjectID); err == nil {
		return acct, false, nil
	} else if !errors.Is(err, sp.ErrAccountNotFound) {
		return nil, false, err
	}

	indexKey := s.identityKey(provider, subjectID)
	var result *sp.Account
	var created bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		result, created = nil, false
		acct, err := s.loadByIndex(tx.Get, indexKey)
		if err == nil {
			result = acct
			return nil
		}
		if !errors.Is(err, sp.ErrAccountNotFound) {
			return err
		}

		acct = newAccount()
		acct.ExternalIdentities = map[sp.Provider]string{provider: subjectID}
		acct.Profile = maps.Clone(hints)
		accountKey := s.accountKey(acct.ID)
		if _, err := tx.Put(accountKey, AccountToEntity(acct, accountKey)); err != nil {
			return err
		}
		if _, err := tx.Put(indexKey, &IndexEntity{Key: indexKey, AccountID: acct.ID, CreatedAt: acct.CreatedAt}); err != nil {
			return err
		}
		result, created = acct, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *AccountStore) CreateLocalAccount(ctx context.Context, name string, storedCredential string) (*sp.Account, error) {
	indexKey := s.usernameKey(name)
	var result *sp.Account
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IndexEntity
		err := tx.Get(indexKey, &existing)
		if err == nil {
			return sp.ErrDuplicateIdentity
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		acct := newAccount()
		acct.Username = name
		acct.Credential = storedCredential
		accountKey := s.accountKey(acct.ID)
		if _, err := tx.Put(accountKey, AccountToEntity(acct, accountKey)); err != nil {
			return err
		}
		if _, err := tx.Put(indexKey, &IndexEntity{Key: indexKey, AccountID: acct.ID, CreatedAt: acct.CreatedAt}); err != nil {
			return err
		}
		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AccountStore) UpdateCredential(ctx context.Context, accountID string, storedCredential string) error {
	return s.update(ctx, accountID, func(tx *datastore.Transaction, acct *sp.Account) error {
		acct.Credential = storedCredential
		return nil
	})
}

func (s *AccountStore) SetLocalCredential(ctx context.Context, accountID string, name string, storedCredential string) error {
	return s.update(ctx, accountID, func(tx *datastore.Transaction, acct *sp.Account) error {
		indexKey := s.usernameKey(name)
		var existing IndexEntity
		err := tx.Get(indexKey, &existing)
		if err == nil && existing.AccountID != accountID {
			return sp.ErrDuplicateIdentity
		}
		if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if acct.Username != "" && acct.Username != name {
			if err := tx.Delete(s.usernameKey(acct.Username)); err != nil {
				return err
			}
		}
		if _, err := tx.Put(indexKey, &IndexEntity{Key: indexKey, AccountID: accountID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		acct.Username = name
		acct.Credential = storedCredential
		return nil
	})
}

func (s *AccountStore) LinkExternalIdentity(ctx context.Context, accountID string, provider sp.Provider, subjectID string) error {
	return s.update(ctx, accountID, func(tx *datastore.Transaction, acct *sp.Account) error {
		indexKey := s.identityKey(provider, subjectID)
		var existing IndexEntity
		err := tx.Get(indexKey, &existing)
		if err == nil && existing.AccountID != accountID {
			return sp.ErrIdentityAlreadyLinked
		}
		if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if previous, ok := acct.ExternalIdentities[provider]; ok && previous != subjectID {
			if err := tx.Delete(s.identityKey(provider, previous)); err != nil {
				return err
			}
		}
		if _, err := tx.Put(indexKey, &IndexEntity{Key: indexKey, AccountID: accountID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		if acct.ExternalIdentities == nil {
			acct.ExternalIdentities = make(map[sp.Provider]string)
		}
		acct.ExternalIdentities[provider] = subjectID
		return nil
	})
}

func (s *AccountStore) UpdateProfileSecret(ctx context.Context, accountID string, text string) error {
	return s.update(ctx, accountID, func(tx *datastore.Transaction, acct *sp.Account) error {
		acct.ProfileSecret = &text
		return nil
	})
}

func (s *AccountStore) ListProfileSecrets(ctx context.Context) ([]string, error) {
	query := datastore.NewQuery(KindAccount).
		Namespace(s.namespace).
		FilterField("has_secret", "=", true)

	secrets := []string{}
	it := s.client.Run(ctx, query)
	for {
		var entity AccountEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, entity.ProfileSecret)
	}
	return secrets, nil
}

// update runs fn against the stored account inside a transaction and writes
// the result back with a bumped version
func (s *AccountStore) update(ctx context.Context, accountID string, fn func(tx *datastore.Transaction, acct *sp.Account) error) error {
	key := s.accountKey(accountID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		acct, err := s.loadAccount(tx.Get, accountID)
		if err != nil {
			return err
		}
		if err := fn(tx, acct); err != nil {
			return err
		}
		acct.UpdatedAt = time.Now()
		acct.Version++
		_, err = tx.Put(key, AccountToEntity(acct, key))
		return err
	})
	return err
}

func newAccount() *sp.Account {
	now := time.Now()
	return &sp.Account{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore implements sp.SessionStore using Google Cloud Datastore
type SessionStore struct {
	namespaced
}

// NewSessionStore creates a new Datastore-backed SessionStore
func NewSessionStore(client *datastore.Client, namespace string) *SessionStore {
	return &SessionStore{namespaced{client: client, namespace: namespace}}
}

func (s *SessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	key := s.namespacedKey(KindSession, session.Token)
	_, err := s.client.Put(ctx, key, &SessionEntity{
		Key:       key,
		AccountID: session.AccountID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	return err
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindSession, token), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sp.ErrSessionNotFound
		}
		return nil, err
	}
	return entity.ToSession(), nil
}

func (s *SessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	key := s.namespacedKey(KindSession, token)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity SessionEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return sp.ErrSessionNotFound
			}
			return err
		}
		entity.ExpiresAt = expiresAt
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Delete(ctx, s.namespacedKey(KindSession, token))
}

// DeleteExpiredSessions removes sessions that expired before now
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	query := datastore.NewQuery(KindSession).
		Namespace(s.namespace).
		FilterField("expires_at", "<=", now).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
