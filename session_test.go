package secrets_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/stores/memory"
)

// fakeClock is a settable clock for session expiry tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakySessions fails the first `failures` reads
type flakySessions struct {
	*memory.SessionStore
	failures int32
	reads    atomic.Int32
}

var errTransient = errors.New("connection reset")

func (s *flakySessions) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	if s.reads.Add(1) <= s.failures {
		return nil, errTransient
	}
	return s.SessionStore.GetSession(ctx, token)
}

func newManager(t *testing.T, store sp.SessionStore, policy sp.SessionPolicy) (*sp.SessionManager, *fakeClock, string) {
	t.Helper()
	accounts := memory.NewAccountStore()
	acct, err := accounts.CreateLocalAccount(context.Background(), "alice", "unused")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := sp.NewSessionManager(store, accounts, policy)
	m.Now = clock.Now
	return m, clock, acct.ID
}

func TestSessionStartResolveRevoke(t *testing.T) {
	ctx := context.Background()
	m, _, accountID := newManager(t, memory.NewSessionStore(), sp.DefaultSessionPolicy())

	a, err := m.Start(ctx, accountID)
	require.NoError(t, err)
	b, err := m.Start(ctx, accountID)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	acct, err := m.Resolve(ctx, a.Token)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, accountID, acct.ID)

	require.NoError(t, m.Revoke(ctx, a.Token))
	acct, err = m.Resolve(ctx, a.Token)
	require.NoError(t, err)
	assert.Nil(t, acct)

	// other sessions of the same account are unaffected
	acct, err = m.Resolve(ctx, b.Token)
	require.NoError(t, err)
	assert.NotNil(t, acct)

	assert.NoError(t, m.Revoke(ctx, a.Token))
	assert.NoError(t, m.Revoke(ctx, ""))

	acct, err = m.Resolve(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, acct)
}

func TestSessionStartRequiresAccount(t *testing.T) {
	m, _, _ := newManager(t, memory.NewSessionStore(), sp.DefaultSessionPolicy())
	_, err := m.Start(context.Background(), "")
	assert.Error(t, err)
}

func TestSessionExpires(t *testing.T) {
	ctx := context.Background()
	m, clock, accountID := newManager(t, memory.NewSessionStore(), sp.SessionPolicy{TTL: time.Hour})

	session, err := m.Start(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), session.ExpiresAt)

	clock.Advance(59 * time.Minute)
	acct, err := m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.NotNil(t, acct)

	clock.Advance(time.Minute)
	acct, err = m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, acct, "a session is dead at exactly ExpiresAt")

	// stays dead
	clock.Advance(time.Hour)
	acct, err = m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestSessionSlidingRenewalIsCapped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	m, clock, accountID := newManager(t, store, sp.SessionPolicy{TTL: time.Hour, Sliding: true, MaxLifetime: 3 * time.Hour})
	start := clock.Now()

	session, err := m.Start(ctx, accountID)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	acct, err := m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	require.NotNil(t, acct)
	stored, err := store.GetSession(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, start.Add(90*time.Minute), stored.ExpiresAt)

	// keep it alive until the cap
	for i := 0; i < 4; i++ {
		clock.Advance(30 * time.Minute)
		acct, err = m.Resolve(ctx, session.Token)
		require.NoError(t, err)
		require.NotNil(t, acct)
	}
	stored, err = store.GetSession(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, start.Add(3*time.Hour), stored.ExpiresAt)

	clock.Advance(30 * time.Minute)
	acct, err = m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestRevokedSessionIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	m, clock, accountID := newManager(t, store, sp.SessionPolicy{TTL: time.Hour, Sliding: true})

	session, err := m.Start(ctx, accountID)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Resolve(ctx, session.Token)
			assert.NoError(t, err)
		}()
	}
	require.NoError(t, m.Revoke(ctx, session.Token))
	wg.Wait()

	_, err = store.GetSession(ctx, session.Token)
	assert.ErrorIs(t, err, sp.ErrSessionNotFound)
	acct, err := m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestSessionForMissingAccount(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, memory.NewSessionStore(), sp.DefaultSessionPolicy())

	session, err := m.Start(ctx, "deleted-account")
	require.NoError(t, err)
	acct, err := m.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestSessionResolveRetriesOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure", func(t *testing.T) {
		store := &flakySessions{SessionStore: memory.NewSessionStore(), failures: 1}
		m, _, accountID := newManager(t, store, sp.DefaultSessionPolicy())
		session, err := m.Start(ctx, accountID)
		require.NoError(t, err)

		acct, err := m.Resolve(ctx, session.Token)
		require.NoError(t, err)
		assert.NotNil(t, acct)
		assert.EqualValues(t, 2, store.reads.Load())
	})

	t.Run("persistent failure", func(t *testing.T) {
		store := &flakySessions{SessionStore: memory.NewSessionStore(), failures: 100}
		m, _, accountID := newManager(t, store, sp.DefaultSessionPolicy())
		session, err := m.Start(ctx, accountID)
		require.NoError(t, err)

		acct, err := m.Resolve(ctx, session.Token)
		assert.Nil(t, acct)
		assert.ErrorIs(t, err, sp.ErrStoreUnavailable)
		assert.ErrorIs(t, err, errTransient)
		assert.EqualValues(t, 2, store.reads.Load())
	})
}
