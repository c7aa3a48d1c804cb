package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// CreateAccountFunc registers a new password account
type CreateAccountFunc func(ctx context.Context, creds Credentials) (*Account, error)

// LinkPasswordFunc adds password login to an existing account
type LinkPasswordFunc func(ctx context.Context, accountID string, creds Credentials) error

// UpdatePasswordFunc replaces the password of an account that already has one
type UpdatePasswordFunc func(ctx context.Context, accountID string, newPassword string) error

// NewCreateAccountFunc creates a CreateAccountFunc that validates, hashes and persists
func NewCreateAccountFunc(accounts AccountStore, hashes *HashPool, policy RegistrationPolicy) CreateAccountFunc {
	return func(ctx context.Context, creds Credentials) (*Account, error) {
		if authErr := policy.Validate(creds); authErr != nil {
			return nil, errors.Join(ErrInvalidRegistration, authErr)
		}
		username := NormalizeUsername(creds.Username)

		// Cheap pre-check so a taken name does not cost a hash; the store
		// still enforces uniqueness on insert.
		if _, err := accounts.FindByLocalUsername(ctx, username); err == nil {
			return nil, ErrDuplicateIdentity
		} else if !errors.Is(err, ErrAccountNotFound) {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		stored, err := hashes.Hash(ctx, creds.Password)
		if err != nil {
			return nil, err
		}

		acct, err := accounts.CreateLocalAccount(ctx, username, stored)
		if err != nil {
			if errors.Is(err, ErrDuplicateIdentity) {
				return nil, err
			}
			return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("failed to create account: %w", err))
		}

		logger := logutil.GetOrDefault(ctx)
		logger.Info().Str("account_id", acct.ID).Str("username", username).Msg("created local account")
		return acct, nil
	}
}

// NewLinkPasswordFunc creates a LinkPasswordFunc
func NewLinkPasswordFunc(accounts AccountStore, hashes *HashPool, policy RegistrationPolicy) LinkPasswordFunc {
	return func(ctx context.Context, accountID string, creds Credentials) error {
		if authErr := policy.Validate(creds); authErr != nil {
			return errors.Join(ErrInvalidRegistration, authErr)
		}
		username := NormalizeUsername(creds.Username)

		acct, err := accounts.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.HasLocalCredential() {
			// password changes go through UpdatePasswordFunc
			return fmt.Errorf("%w: account already has local credentials", ErrDuplicateIdentity)
		}
		if holder, err := accounts.FindByLocalUsername(ctx, username); err == nil && holder.ID != accountID {
			return ErrDuplicateIdentity
		}

		stored, err := hashes.Hash(ctx, creds.Password)
		if err != nil {
			return err
		}
		if err := accounts.SetLocalCredential(ctx, accountID, username, stored); err != nil {
			return err
		}

		logger := logutil.GetOrDefault(ctx)
		logger.Info().Str("account_id", accountID).Str("username", username).Msg("linked local credentials")
		return nil
	}
}

// NewUpdatePasswordFunc creates an UpdatePasswordFunc
func NewUpdatePasswordFunc(accounts AccountStore, hashes *HashPool, policy RegistrationPolicy) UpdatePasswordFunc {
	return func(ctx context.Context, accountID string, newPassword string) error {
		acct, err := accounts.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acct.HasLocalCredential() {
			return fmt.Errorf("%w: local auth not configured for this account", ErrUnknownIdentity)
		}
		if authErr := policy.Validate(Credentials{Username: acct.Username, Password: newPassword}); authErr != nil {
			return errors.Join(ErrInvalidRegistration, authErr)
		}

		stored, err := hashes.Hash(ctx, newPassword)
		if err != nil {
			return err
		}
		if err := accounts.UpdateCredential(ctx, accountID, stored); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		logger := logutil.GetOrDefault(ctx)
		logger.Info().Str("account_id", accountID).Msg("password updated")
		return nil
	}
}
