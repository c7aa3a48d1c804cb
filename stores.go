package secrets

import (
	"context"
	"maps"
	"time"
)

// Provider names the authority that vouches for an identity.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// Account is the durable identity record. It may be reachable through a local
// credential, through one or more external provider identities, or both.
type Account struct {
	ID                 string              `json:"id"`
	Username           string              `json:"username,omitempty"`   // local login name
	Credential         string              `json:"credential,omitempty"` // stored hash form, never plaintext
	ExternalIdentities map[Provider]string `json:"external_identities,omitempty"`
	ProfileSecret      *string             `json:"profile_secret,omitempty"`
	Profile            map[string]any      `json:"profile,omitempty"` // hints seeded by providers
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Version            int                 `json:"version"` // optimistic locking version
}

// HasLocalCredential reports whether the account supports password login.
func (a *Account) HasLocalCredential() bool {
	return a.Username != "" && a.Credential != ""
}

// ExternalID returns the subject id the provider issued for this account.
func (a *Account) ExternalID(provider Provider) (string, bool) {
	subject, ok := a.ExternalIdentities[provider]
	return subject, ok && subject != ""
}

// Clone returns a deep copy so stores can hand out records without sharing maps.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.ExternalIdentities = maps.Clone(a.ExternalIdentities)
	out.Profile = maps.Clone(a.Profile)
	if a.ProfileSecret != nil {
		secret := *a.ProfileSecret
		out.ProfileSecret = &secret
	}
	return &out
}

// ExternalIdentityKey creates a consistent key for a (provider, subject) pair
func ExternalIdentityKey(provider Provider, subjectID string) string {
	return string(provider) + ":" + subjectID
}

// AccountStore persists accounts. Lookups that miss return ErrAccountNotFound.
//
// FindOrCreateByExternalIdentity is the only operation with a cross-request
// contract: concurrent calls for the same (provider, subjectID) must create
// exactly one account and every caller must observe its id. Implementations
// enforce this with a uniqueness constraint and a re-read on conflict rather
// than a lock held across unrelated keys.
type AccountStore interface {
	// GetAccount retrieves an account by its id
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// FindByLocalUsername looks up the account that logs in with name
	FindByLocalUsername(ctx context.Context, name string) (*Account, error)

	// FindByExternalIdentity looks up the account holding (provider, subjectID)
	FindByExternalIdentity(ctx context.Context, provider Provider, subjectID string) (*Account, error)

	// FindOrCreateByExternalIdentity returns the account holding (provider, subjectID),
	// creating it seeded with hints if none exists
	FindOrCreateByExternalIdentity(ctx context.Context, provider Provider, subjectID string, hints map[string]any) (acct *Account, created bool, err error)

	// CreateLocalAccount creates a password account. Returns ErrDuplicateIdentity if name is taken
	CreateLocalAccount(ctx context.Context, name string, storedCredential string) (*Account, error)

	// UpdateCredential replaces the stored credential of an account
	UpdateCredential(ctx context.Context, accountID string, storedCredential string) error

	// SetLocalCredential adds password login to an existing account.
	// Returns ErrDuplicateIdentity if name belongs to a different account
	SetLocalCredential(ctx context.Context, accountID string, name string, storedCredential string) error

	// LinkExternalIdentity attaches (provider, subjectID) to an account.
	// Returns ErrIdentityAlreadyLinked if the pair belongs to a different account
	LinkExternalIdentity(ctx context.Context, accountID string, provider Provider, subjectID string) error

	// UpdateProfileSecret stores the opaque text submitted by the account owner
	UpdateProfileSecret(ctx context.Context, accountID string, text string) error

	// ListProfileSecrets returns every submitted profile secret
	ListProfileSecrets(ctx context.Context) ([]string, error)
}

// Session binds an opaque token to an account id. It references the account,
// it does not own it.
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session has passed its expiry at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists sessions by token.
type SessionStore interface {
	// SaveSession creates or replaces a session (upsert)
	SaveSession(ctx context.Context, session *Session) error

	// GetSession returns ErrSessionNotFound when the token is unknown
	GetSession(ctx context.Context, token string) (*Session, error)

	// TouchSession moves the expiry of an existing session. It must not
	// recreate a deleted session: returns ErrSessionNotFound instead
	TouchSession(ctx context.Context, token string, expiresAt time.Time) error

	// DeleteSession removes a session. Deleting an unknown token is not an error
	DeleteSession(ctx context.Context, token string) error
}
