package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// Authenticator is the entry point used by the web layer. Everything it
// needs (stores, strategies, policies) is passed in at construction; there
// is no package-level registry.
type Authenticator struct {
	Accounts   AccountStore
	Hashes     *HashPool
	Sessions   *SessionManager
	Dispatcher *Dispatcher
	Gate       Gate

	CreateAccount  CreateAccountFunc
	LinkPassword   LinkPasswordFunc
	UpdatePassword UpdatePasswordFunc
}

// New wires an Authenticator with a local strategy and one federated
// strategy per provider (Google and Facebook unless providers are given).
func New(cfg Config, accounts AccountStore, sessions SessionStore, providers ...Provider) (*Authenticator, error) {
	cfg.EnsureDefaults()
	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.RegistrationPolicy()
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		providers = []Provider{ProviderGoogle, ProviderFacebook}
	}

	hashes := NewHashPool(hasher, cfg.HashWorkers)
	strategies := []Strategy{NewLocalStrategy(accounts, hashes)}
	for _, p := range providers {
		if p == ProviderLocal {
			return nil, fmt.Errorf("provider name %q is reserved", p)
		}
		strategies = append(strategies, NewFederatedStrategy(p, accounts))
	}

	return &Authenticator{
		Accounts:       accounts,
		Hashes:         hashes,
		Sessions:       NewSessionManager(sessions, accounts, cfg.SessionPolicy()),
		Dispatcher:     NewDispatcher(cfg.StoreTimeout, strategies...),
		Gate:           Gate{LoginURL: cfg.LoginURL, CallbackURLParam: "callbackURL"},
		CreateAccount:  NewCreateAccountFunc(accounts, hashes, policy),
		LinkPassword:   NewLinkPasswordFunc(accounts, hashes, policy),
		UpdatePassword: NewUpdatePasswordFunc(accounts, hashes, policy),
	}, nil
}

// Register creates a password account. Returns ErrDuplicateIdentity if the
// username is taken.
func (a *Authenticator) Register(ctx context.Context, username, password string) (*Account, error) {
	return a.CreateAccount(ctx, Credentials{Username: username, Password: password})
}

// AddLocalCredential lets an existing account (typically created through a
// provider) log in with a username and password as well.
func (a *Authenticator) AddLocalCredential(ctx context.Context, accountID, username, password string) error {
	return a.LinkPassword(ctx, accountID, Credentials{Username: username, Password: password})
}

// ChangePassword replaces the password of an account that has one
func (a *Authenticator) ChangePassword(ctx context.Context, accountID, newPassword string) error {
	return a.UpdatePassword(ctx, accountID, newPassword)
}

// AuthenticateLocal verifies a username and password. Unknown usernames and
// wrong passwords both return ErrAuthenticationFailed.
func (a *Authenticator) AuthenticateLocal(ctx context.Context, username, password string) (*Account, error) {
	out := a.Dispatcher.Dispatch(ctx, string(ProviderLocal), LocalCredentials{Username: username, Password: password})
	return out.Account, out.Err()
}

// AuthenticateFederated resolves a validated provider assertion to its account,
// creating the account on first login.
func (a *Authenticator) AuthenticateFederated(ctx context.Context, assertion Assertion) (*Account, error) {
	out := a.Dispatcher.Dispatch(ctx, string(assertion.Provider), assertion)
	return out.Account, out.Err()
}

// LinkFederated attaches a provider identity to an existing account. Returns
// ErrIdentityAlreadyLinked if another account holds it.
func (a *Authenticator) LinkFederated(ctx context.Context, accountID string, assertion Assertion) error {
	if _, ok := a.Dispatcher.Strategy(string(assertion.Provider)); !ok || assertion.Provider == ProviderLocal {
		return errors.Join(ErrProviderError, fmt.Errorf("%w: %q", ErrUnknownStrategy, assertion.Provider))
	}
	if assertion.SubjectID == "" {
		return errors.Join(ErrProviderError, fmt.Errorf("assertion has no subject"))
	}
	if err := a.Accounts.LinkExternalIdentity(ctx, accountID, assertion.Provider, assertion.SubjectID); err != nil {
		return err
	}
	logger := logutil.GetOrDefault(ctx)
	logger.Info().Str("account_id", accountID).Str("provider", string(assertion.Provider)).Msg("linked provider identity")
	return nil
}

// StartSession mints a session token for accountID
func (a *Authenticator) StartSession(ctx context.Context, accountID string) (*Session, error) {
	return a.Sessions.Start(ctx, accountID)
}

// CurrentAccount returns the account behind token, or nil when the token is
// unknown, expired or revoked.
func (a *Authenticator) CurrentAccount(ctx context.Context, token string) (*Account, error) {
	return a.Sessions.Resolve(ctx, token)
}

// Logout revokes token. Calling it again is a no-op.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.Sessions.Revoke(ctx, token)
}

// CheckAccess resolves token and runs the access gate
func (a *Authenticator) CheckAccess(ctx context.Context, token string) (Decision, *Account, error) {
	acct, err := a.Sessions.Resolve(ctx, token)
	if err != nil {
		return Decision{}, nil, err
	}
	return a.Gate.Decide(acct), acct, nil
}

// SubmitSecret stores text as the profile secret of the caller behind token.
// Blank text is rejected.
func (a *Authenticator) SubmitSecret(ctx context.Context, token, text string) error {
	decision, acct, err := a.CheckAccess(ctx, token)
	if err != nil {
		return err
	}
	if !decision.Allow {
		return ErrNotAuthenticated
	}
	return a.saveSecret(ctx, acct, text)
}

// ListSecrets returns every submitted profile secret, to authenticated callers only
func (a *Authenticator) ListSecrets(ctx context.Context, token string) ([]string, error) {
	decision, acct, err := a.CheckAccess(ctx, token)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		return nil, ErrNotAuthenticated
	}
	return a.listSecrets(ctx, acct)
}

// saveSecret and listSecrets run after the gate has resolved acct; the HTTP
// handlers share them with the token based methods above.
func (a *Authenticator) saveSecret(ctx context.Context, acct *Account, text string) error {
	if acct == nil {
		return ErrNotAuthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NewAuthError(ErrCodeMissingField, "secret is required", "secret")
	}
	return a.Accounts.UpdateProfileSecret(ctx, acct.ID, text)
}

func (a *Authenticator) listSecrets(ctx context.Context, acct *Account) ([]string, error) {
	if acct == nil {
		return nil, ErrNotAuthenticated
	}
	return a.Accounts.ListProfileSecrets(ctx)
}
