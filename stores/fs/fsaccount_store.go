package fs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// fsIndexEntry maps a unique key (a username or a provider identity) to the
// account holding it
type fsIndexEntry struct {
	Key       string    `json:"key"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FSAccountStore implements sp.AccountStore with one JSON file per account.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/
//	│   └── {account id}.json
//	├── usernames/
//	│   └── {hex(username)}.json            # {"account_id": ...}
//	└── identities/
//	    └── {hex(provider:subject)}.json    # {"account_id": ...}
//
// # Concurrency Model
//
// Index files are the uniqueness constraints. They are created exclusively
// (hard link of a complete temp file), so across processes exactly one writer
// claims a username or provider identity and everyone else re-reads the
// winner. Account files are replaced atomically; read-modify-write cycles on
// the same account are serialized within a process only.
type FSAccountStore struct {
	StoragePath string

	mu sync.Mutex // serializes account file updates
}

// NewFSAccountStore creates a filesystem-backed AccountStore rooted at storagePath
func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(accountID string) string {
	return filepath.Join(s.StoragePath, "accounts", filepath.Base(accountID)+".json")
}

func (s *FSAccountStore) usernamePath(name string) string {
	return filepath.Join(s.StoragePath, "usernames", safeName(name))
}

func (s *FSAccountStore) identityPath(provider sp.Provider, subjectID string) string {
	return filepath.Join(s.StoragePath, "identities", safeName(sp.ExternalIdentityKey(provider, subjectID)))
}

func (s *FSAccountStore) readAccount(accountID string) (*sp.Account, error) {
	if accountID == "" {
		return nil, sp.ErrAccountNotFound
	}
	var acct sp.Account
	if err := readJSON(s.accountPath(accountID), &acct); err != nil {
		if isNotExist(err) {
			return nil, sp.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (s *FSAccountStore) writeAccount(acct *sp.Account) error {
	data, err := jsonIndent(acct)
	if err != nil {
		return err
	}
	return writeAtomicFile(s.accountPath(acct.ID), data)
}

// readIndex returns the account id stored at an index path, or "" if absent
func (s *FSAccountStore) readIndex(path string) (string, error) {
	var entry fsIndexEntry
	if err := readJSON(path, &entry); err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return entry.AccountID, nil
}

// claimIndex points an index entry at accountID unless someone holds it
// already. Returns the id of the holder, which is accountID on success.
func (s *FSAccountStore) claimIndex(path, key, accountID string) (string, error) {
	data, err := jsonIndent(fsIndexEntry{Key: key, AccountID: accountID, CreatedAt: time.Now()})
	if err != nil {
		return "", err
	}
	err = createExclusiveFile(path, data)
	if err == nil {
		return accountID, nil
	}
	if !os.IsExist(err) {
		return "", err
	}
	holder, err := s.readIndex(path)
	if err != nil {
		return "", err
	}
	if holder == "" {
		return "", fmt.Errorf("index entry %q vanished while claiming it", key)
	}
	return holder, nil
}

func (s *FSAccountStore) lookup(path string) (*sp.Account, error) {
	id, err := s.readIndex(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, sp.ErrAccountNotFound
	}
	return s.readAccount(id)
}

func (s *FSAccountStore) GetAccount(ctx context.Context, accountID string) (*sp.Account, error) {
	return s.readAccount(accountID)
}

func (s *FSAccountStore) FindByLocalUsername(ctx context.Context, name string) (*sp.Account, error) {
	return s.lookup(s.usernamePath(name))
}

func (s *FSAccountStore) FindByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string) (*sp.Account, error) {
	return s.lookup(s.identityPath(provider, subjectID))
}

// FindOrCreateByExternalIdentity writes the new account first and then races
// for the identity index. Losers delete their account file and return the
// winner's.
func (s *FSAccountStore) FindOrCreateByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string, hints map[string]any) (*sp.Account, bool, error) {
	path := s.identityPath(provider, subjectID)
	if acct, err := s.lookup(path); err == nil {
		return acct, false, nil
	} else if !errors.Is(err, sp.ErrAccountNotFound) {
		return nil, false, err
	}

	acct := newAccount()
	acct.ExternalIdentities = map[sp.Provider]string{provider: subjectID}
	acct.Profile = maps.Clone(hints)
	if err := s.writeAccount(acct); err != nil {
		return nil, false, err
	}

	holder, err := s.claimIndex(path, sp.ExternalIdentityKey(provider, subjectID), acct.ID)
	if err != nil {
		os.Remove(s.accountPath(acct.ID))
		return nil, false, err
	}
	if holder != acct.ID {
		os.Remove(s.accountPath(acct.ID))
		existing, err := s.readAccount(holder)
		return existing, false, err
	}
	return acct, true, nil
}

func (s *FSAccountStore) CreateLocalAccount(ctx context.Context, name string, storedCredential string) (*sp.Account, error) {
	acct := newAccount()
	acct.Username = name
	acct.Credential = storedCredential
	if err := s.writeAccount(acct); err != nil {
		return nil, err
	}

	holder, err := s.claimIndex(s.usernamePath(name), name, acct.ID)
	if err != nil || holder != acct.ID {
		os.Remove(s.accountPath(acct.ID))
		if err != nil {
			return nil, err
		}
		return nil, sp.ErrDuplicateIdentity
	}
	return acct, nil
}

func (s *FSAccountStore) UpdateCredential(ctx context.Context, accountID string, storedCredential string) error {
	return s.update(accountID, func(acct *sp.Account) error {
		acct.Credential = storedCredential
		return nil
	})
}

func (s *FSAccountStore) SetLocalCredential(ctx context.Context, accountID string, name string, storedCredential string) error {
	if _, err := s.readAccount(accountID); err != nil {
		return err
	}
	path := s.usernamePath(name)
	holder, err := s.claimIndex(path, name, accountID)
	if err != nil {
		return err
	}
	if holder != accountID {
		return sp.ErrDuplicateIdentity
	}

	var previous string
	err = s.update(accountID, func(acct *sp.Account) error {
		previous = acct.Username
		acct.Username = name
		acct.Credential = storedCredential
		return nil
	})
	if err != nil {
		os.Remove(path)
		return err
	}
	if previous != "" && previous != name {
		os.Remove(s.usernamePath(previous))
	}
	return nil
}

func (s *FSAccountStore) LinkExternalIdentity(ctx context.Context, accountID string, provider sp.Provider, subjectID string) error {
	if _, err := s.readAccount(accountID); err != nil {
		return err
	}
	path := s.identityPath(provider, subjectID)
	holder, err := s.claimIndex(path, sp.ExternalIdentityKey(provider, subjectID), accountID)
	if err != nil {
		return err
	}
	if holder != accountID {
		return sp.ErrIdentityAlreadyLinked
	}

	var previous string
	err = s.update(accountID, func(acct *sp.Account) error {
		if acct.ExternalIdentities == nil {
			acct.ExternalIdentities = make(map[sp.Provider]string)
		}
		previous = acct.ExternalIdentities[provider]
		acct.ExternalIdentities[provider] = subjectID
		return nil
	})
	if err != nil {
		os.Remove(path)
		return err
	}
	if previous != "" && previous != subjectID {
		os.Remove(s.identityPath(provider, previous))
	}
	return nil
}

func (s *FSAccountStore) UpdateProfileSecret(ctx context.Context, accountID string, text string) error {
	return s.update(accountID, func(acct *sp.Account) error {
		acct.ProfileSecret = &text
		return nil
	})
}

func (s *FSAccountStore) ListProfileSecrets(ctx context.Context) ([]string, error) {
	dir := filepath.Join(s.StoragePath, "accounts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	secrets := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var acct sp.Account
		if err := readJSON(filepath.Join(dir, entry.Name()), &acct); err != nil {
			continue
		}
		if acct.ProfileSecret != nil {
			secrets = append(secrets, *acct.ProfileSecret)
		}
	}
	return secrets, nil
}

func (s *FSAccountStore) update(accountID string, fn func(acct *sp.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.readAccount(accountID)
	if err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	acct.UpdatedAt = time.Now()
	acct.Version++
	return s.writeAccount(acct)
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
