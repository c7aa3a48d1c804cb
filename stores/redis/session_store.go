// Package redis keeps sessions in Redis, one key per token with a TTL that
// tracks the session expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// DefaultKeyPrefix is prepended to every session token
const DefaultKeyPrefix = "session:"

// SessionStore implements sp.SessionStore on a go-redis client. Redis drops
// a key once its session expires, so no sweeper is needed.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSessionStore creates a Redis-backed session store
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client, prefix: DefaultKeyPrefix}
}

// WithPrefix returns a copy of the store that namespaces keys under prefix
func (r *SessionStore) WithPrefix(prefix string) *SessionStore {
	return &SessionStore{client: r.client, prefix: prefix}
}

func (r *SessionStore) key(token string) string {
	return r.prefix + token
}

func (r *SessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	if session.Token == "" || session.AccountID == "" {
		return fmt.Errorf("session: missing token or account id")
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(session.Token)).Err()
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(session.Token), data, ttl).Err()
}

func (r *SessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	val, err := r.client.Get(ctx, r.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sp.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var session sp.Session
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &session, nil
}

// TouchSession rewrites the session under WATCH, so a concurrent delete
// aborts the write instead of being undone by it.
func (r *SessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	key := r.key(token)
	touch := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sp.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var session sp.Session
		if err := json.Unmarshal(val, &session); err != nil {
			return fmt.Errorf("session: failed to unmarshal: %w", err)
		}
		session.ExpiresAt = expiresAt
		data, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("session: failed to marshal: %w", err)
		}

		ttl := time.Until(expiresAt)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ttl <= 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", TTL: ttl})
			return nil
		})
		return err
	}

	// a failed WATCH means the key changed underneath us; the retry sees the
	// new state, including a deletion
	for range 3 {
		err := r.client.Watch(ctx, touch, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (r *SessionStore) DeleteSession(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.key(token)).Err()
}
