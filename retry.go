package secrets

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// readRetryBackoff is the wait before the single retry of an idempotent read
var readRetryBackoff = 50 * time.Millisecond

// retryRead runs an idempotent store read, retrying once after a short backoff
// when it fails for a reason other than a miss. Errors that survive the retry
// are reported as ErrStoreUnavailable.
func retryRead[T any](ctx context.Context, logger zerolog.Logger, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readRetryBackoff
	b.RandomizationFactor = 0.2

	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrSessionNotFound) {
			return v, backoff.Permanent(err)
		}
		if attempt == 1 {
			logger.Warn().Err(err).Str("op", what).Msg("store read failed, retrying")
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrSessionNotFound) {
		return out, err
	}
	logger.Error().Err(err).Str("op", what).Msg("store read failed")
	return out, errors.Join(ErrStoreUnavailable, err)
}
