package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// SessionManager converts verified accounts into opaque session tokens and
// back. Per token the lifecycle is Absent -> Active -> (Expired | Revoked);
// an expired or revoked token never becomes active again, callers must Start
// a new one.
//
// Only the account id is kept in the session; Resolve always re-reads the
// account so changes made elsewhere are never shadowed by a stale copy.
type SessionManager struct {
	Store    SessionStore
	Accounts AccountStore
	Policy   SessionPolicy

	// Now is the clock, replaceable in tests
	Now func() time.Time
}

func NewSessionManager(store SessionStore, accounts AccountStore, policy SessionPolicy) *SessionManager {
	return &SessionManager{Store: store, Accounts: accounts, Policy: policy, Now: time.Now}
}

func (m *SessionManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// Start mints a fresh session for accountID
func (m *SessionManager) Start(ctx context.Context, accountID string) (*Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("session: missing account id")
	}
	token, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := m.now()
	session := &Session{
		Token:     token,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: m.Policy.expiryAt(now, now),
	}
	if err := m.Store.SaveSession(ctx, session); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("session: failed to save: %w", err))
	}
	logger := logutil.GetOrDefault(ctx)
	logger.Info().Str("account_id", accountID).Str("token", logutil.TokenPrefix(token)).Time("expires_at", session.ExpiresAt).Msg("session started")
	return session, nil
}

// Resolve returns the account behind token. An unknown, expired or revoked
// token yields (nil, nil): it is an ordinary "not authenticated" result.
// The only write Resolve ever performs is the sliding expiry extension.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, nil
	}
	logger := logutil.GetOrDefault(ctx)
	session, err := retryRead(ctx, logger, "get_session", func() (*Session, error) {
		return m.Store.GetSession(ctx, token)
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	now := m.now()
	if session.IsExpired(now) {
		logger.Debug().Str("token", logutil.TokenPrefix(token)).Msg("session expired")
		return nil, nil
	}

	acct, err := retryRead(ctx, logger, "get_account", func() (*Account, error) {
		return m.Accounts.GetAccount(ctx, session.AccountID)
	})
	if errors.Is(err, ErrAccountNotFound) {
		logger.Warn().Str("account_id", session.AccountID).Msg("session refers to a missing account")
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if m.Policy.Sliding {
		if exp := m.Policy.expiryAt(session.CreatedAt, now); exp.After(session.ExpiresAt) {
			// Renewal is an optimisation; losing it only shortens the session.
			err := m.Store.TouchSession(ctx, token, exp)
			if errors.Is(err, ErrSessionNotFound) {
				// revoked while we were reading
				return nil, nil
			} else if err != nil {
				logger.Warn().Err(err).Str("token", logutil.TokenPrefix(token)).Msg("failed to renew session")
			}
		}
	}
	return acct, nil
}

// Revoke ends the session immediately. Revoking an unknown or already revoked
// token is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.Store.DeleteSession(ctx, token); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return errors.Join(ErrStoreUnavailable, fmt.Errorf("session: failed to delete: %w", err))
	}
	logger := logutil.GetOrDefault(ctx)
	logger.Info().Str("token", logutil.TokenPrefix(token)).Msg("session revoked")
	return nil
}
