package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	sp "github.com/sofigonzalez2012/secrets-project"
)

type SessionStoreSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	store  *SessionStore
	ctx    context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.server = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.server.Addr()})
	s.store = NewSessionStore(s.client)
	s.ctx = context.Background()
}

func (s *SessionStoreSuite) TearDownTest() {
	s.client.Close()
}

func (s *SessionStoreSuite) save(token string, ttl time.Duration) {
	now := time.Now()
	s.Require().NoError(s.store.SaveSession(s.ctx, &sp.Session{
		Token:     token,
		AccountID: "acct-1",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}))
}

func (s *SessionStoreSuite) TestSaveAndGet() {
	s.save("tok", time.Hour)

	got, err := s.store.GetSession(s.ctx, "tok")
	s.Require().NoError(err)
	s.Equal("acct-1", got.AccountID)
	s.True(s.server.Exists("session:tok"))

	ttl := s.server.TTL("session:tok")
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 5)
}

func (s *SessionStoreSuite) TestMissing() {
	_, err := s.store.GetSession(s.ctx, "nope")
	s.ErrorIs(err, sp.ErrSessionNotFound)
}

func (s *SessionStoreSuite) TestKeyExpiresWithSession() {
	s.save("tok", time.Minute)
	s.server.FastForward(2 * time.Minute)

	_, err := s.store.GetSession(s.ctx, "tok")
	s.ErrorIs(err, sp.ErrSessionNotFound)
}

func (s *SessionStoreSuite) TestTouchExtends() {
	s.save("tok", time.Minute)
	later := time.Now().Add(3 * time.Hour)

	s.Require().NoError(s.store.TouchSession(s.ctx, "tok", later))
	got, err := s.store.GetSession(s.ctx, "tok")
	s.Require().NoError(err)
	s.WithinDuration(later, got.ExpiresAt, time.Second)
	s.Greater(s.server.TTL("session:tok"), time.Hour)
}

func (s *SessionStoreSuite) TestTouchDoesNotResurrect() {
	s.save("tok", time.Minute)
	s.Require().NoError(s.store.DeleteSession(s.ctx, "tok"))

	err := s.store.TouchSession(s.ctx, "tok", time.Now().Add(time.Hour))
	s.ErrorIs(err, sp.ErrSessionNotFound)
	s.False(s.server.Exists("session:tok"))
}

func (s *SessionStoreSuite) TestDeleteIsIdempotent() {
	s.save("tok", time.Minute)
	s.NoError(s.store.DeleteSession(s.ctx, "tok"))
	s.NoError(s.store.DeleteSession(s.ctx, "tok"))
}

func (s *SessionStoreSuite) TestPrefix() {
	store := s.store.WithPrefix("secrets:s:")
	now := time.Now()
	s.Require().NoError(store.SaveSession(s.ctx, &sp.Session{Token: "t", AccountID: "a", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	s.True(s.server.Exists("secrets:s:t"))
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}
