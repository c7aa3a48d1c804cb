package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// OutcomeKind classifies the result of a strategy
type OutcomeKind int

const (
	OutcomeVerified OutcomeKind = iota + 1
	OutcomeRejected
	OutcomeProviderError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeVerified:
		return "verified"
	case OutcomeRejected:
		return "rejected"
	case OutcomeProviderError:
		return "provider_error"
	}
	return "unknown"
}

// AuthOutcome is the transient result of running a Strategy. It is never persisted.
type AuthOutcome struct {
	Kind    OutcomeKind
	Account *Account // set when Verified
	Created bool     // the account was created by this authentication
	Reason  error    // set when Rejected or ProviderError
}

func Verified(acct *Account) AuthOutcome {
	return AuthOutcome{Kind: OutcomeVerified, Account: acct}
}

func Rejected(reason error) AuthOutcome {
	return AuthOutcome{Kind: OutcomeRejected, Reason: reason}
}

func ProviderFailure(detail error) AuthOutcome {
	return AuthOutcome{Kind: OutcomeProviderError, Reason: detail}
}

// Err converts the outcome into the error a caller-visible layer may see.
// Every rejection, whatever its reason, becomes ErrAuthenticationFailed.
func (o AuthOutcome) Err() error {
	switch o.Kind {
	case OutcomeVerified:
		return nil
	case OutcomeRejected:
		return ErrAuthenticationFailed
	default:
		if errors.Is(o.Reason, ErrStoreUnavailable) {
			return o.Reason
		}
		return errors.Join(ErrProviderError, o.Reason)
	}
}

// Input is what a strategy verifies. The set of inputs is closed.
type Input interface {
	isStrategyInput()
}

// LocalCredentials is the input of the local password strategy
type LocalCredentials struct {
	Username string
	Password string
}

// Assertion is a provider statement about who the caller is. It arrives
// already validated by the redirect/callback collaborator; strategies trust it.
type Assertion struct {
	Provider     Provider
	SubjectID    string
	ProfileHints map[string]any
}

func (LocalCredentials) isStrategyInput() {}
func (Assertion) isStrategyInput()        {}

// Strategy decides which account, if any, the caller is
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, input Input) AuthOutcome
}

// =============================================================================
// Local password strategy
// =============================================================================

// LocalStrategy verifies a username and password against the stored credential.
//
// Unknown users and accounts without a password verify against a dummy
// credential, so every failure costs one full hash comparison.
type LocalStrategy struct {
	Accounts AccountStore
	Hashes   *HashPool

	dummyOnce sync.Once
	dummy     string
}

func NewLocalStrategy(accounts AccountStore, hashes *HashPool) *LocalStrategy {
	return &LocalStrategy{Accounts: accounts, Hashes: hashes}
}

func (s *LocalStrategy) Name() string { return string(ProviderLocal) }

func (s *LocalStrategy) dummyCredential() string {
	s.dummyOnce.Do(func() {
		token, _ := GenerateSecureToken()
		stored, err := s.Hashes.Hasher.Hash(token)
		if err != nil {
			logger := logutil.GetOrDefault(context.Background())
			logger.Error().Err(err).Msg("failed to compute dummy credential")
		}
		s.dummy = stored
	})
	return s.dummy
}

func (s *LocalStrategy) Authenticate(ctx context.Context, input Input) AuthOutcome {
	creds, ok := input.(LocalCredentials)
	if !ok {
		return ProviderFailure(fmt.Errorf("local strategy: unexpected input %T", input))
	}
	logger := logutil.GetOrDefault(ctx)

	username := NormalizeUsername(creds.Username)
	acct, err := retryRead(ctx, logger, "find_by_username", func() (*Account, error) {
		return s.Accounts.FindByLocalUsername(ctx, username)
	})
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return ProviderFailure(err)
	}

	var reason error
	stored := s.dummyCredential()
	switch {
	case acct == nil:
		reason = ErrUnknownIdentity
	case !acct.HasLocalCredential():
		reason = ErrBadCredential
	default:
		stored = acct.Credential
	}

	match, err := s.Hashes.Verify(ctx, creds.Password, stored)
	if err != nil {
		return ProviderFailure(errors.Join(ErrStoreUnavailable, err))
	}
	if reason != nil {
		logger.Debug().Err(reason).Msg("local authentication rejected")
		return Rejected(reason)
	}
	if !match {
		logger.Debug().Err(ErrBadCredential).Str("account_id", acct.ID).Msg("local authentication rejected")
		return Rejected(ErrBadCredential)
	}

	if s.Hashes.NeedsRehash(acct.Credential) {
		s.upgradeCredential(ctx, acct, creds.Password)
	}
	return Verified(acct)
}

// upgradeCredential replaces a credential hashed with outdated parameters.
// Failure leaves the old credential in place, which still verifies.
func (s *LocalStrategy) upgradeCredential(ctx context.Context, acct *Account, password string) {
	logger := logutil.GetOrDefault(ctx)
	stored, err := s.Hashes.Hash(ctx, password)
	if err == nil {
		err = s.Accounts.UpdateCredential(ctx, acct.ID, stored)
	}
	if err != nil {
		logger.Warn().Err(err).Str("account_id", acct.ID).Msg("failed to upgrade credential hash")
		return
	}
	acct.Credential = stored
	logger.Info().Str("account_id", acct.ID).Msg("upgraded credential hash")
}

// =============================================================================
// Federated strategy
// =============================================================================

// FederatedStrategy maps a provider assertion onto the single account that
// holds (provider, subject), creating it on first sight.
type FederatedStrategy struct {
	Provider Provider
	Accounts AccountStore
}

func NewFederatedStrategy(provider Provider, accounts AccountStore) *FederatedStrategy {
	return &FederatedStrategy{Provider: provider, Accounts: accounts}
}

func (s *FederatedStrategy) Name() string { return string(s.Provider) }

func (s *FederatedStrategy) Authenticate(ctx context.Context, input Input) AuthOutcome {
	assertion, ok := input.(Assertion)
	if !ok {
		return ProviderFailure(fmt.Errorf("%s strategy: unexpected input %T", s.Provider, input))
	}
	if assertion.Provider != s.Provider {
		return ProviderFailure(fmt.Errorf("%s strategy: assertion is from %q", s.Provider, assertion.Provider))
	}
	if assertion.SubjectID == "" {
		return ProviderFailure(fmt.Errorf("%s strategy: assertion has no subject", s.Provider))
	}

	acct, created, err := s.Accounts.FindOrCreateByExternalIdentity(ctx, s.Provider, assertion.SubjectID, assertion.ProfileHints)
	if err != nil {
		return ProviderFailure(errors.Join(ErrStoreUnavailable, err))
	}
	if created {
		logger := logutil.GetOrDefault(ctx)
		logger.Info().Str("account_id", acct.ID).Str("provider", string(s.Provider)).Msg("created account from provider identity")
	}
	out := Verified(acct)
	out.Created = created
	return out
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher holds the configured strategies. Which strategy applies is chosen
// by the caller (the flow that was invoked), never inferred from the input.
type Dispatcher struct {
	// Timeout bounds every strategy run. Zero means no bound beyond the caller's context
	Timeout    time.Duration
	strategies map[string]Strategy
}

func NewDispatcher(timeout time.Duration, strategies ...Strategy) *Dispatcher {
	d := &Dispatcher{Timeout: timeout, strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		d.strategies[s.Name()] = s
	}
	return d
}

// Strategy returns the strategy registered under name
func (d *Dispatcher) Strategy(name string) (Strategy, bool) {
	s, ok := d.strategies[name]
	return s, ok
}

// Dispatch runs the named strategy. A strategy that does not finish within
// Timeout yields a ProviderError outcome; the caller is never left waiting.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input Input) AuthOutcome {
	strategy, ok := d.strategies[name]
	if !ok {
		return ProviderFailure(fmt.Errorf("%w: %q", ErrUnknownStrategy, name))
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	done := make(chan AuthOutcome, 1)
	go func() { done <- strategy.Authenticate(ctx, input) }()
	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return ProviderFailure(errors.Join(ErrStoreUnavailable, ctx.Err()))
	}
}
