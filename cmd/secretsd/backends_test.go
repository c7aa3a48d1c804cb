package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

func TestOpenBackends(t *testing.T) {
	cases := []struct {
		accounts, sessions string
		sweeps             bool
	}{
		{"memory", "memory", true},
		{"memory", "scs", false},
		{"fs", "fs", true},
		{"sqlite", "sqlite", true},
	}
	for _, tc := range cases {
		t.Run(tc.accounts+"/"+tc.sessions, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			b, err := openBackends(ctx, storeOptions{
				Accounts:   tc.accounts,
				Sessions:   tc.sessions,
				DataDir:    dir,
				SQLitePath: filepath.Join(dir, "secrets.db"),
			})
			require.NoError(t, err)
			defer b.Close()
			assert.Equal(t, tc.sweeps, b.Sweep != nil)

			acct, err := b.Accounts.CreateLocalAccount(ctx, "alice", "hash")
			require.NoError(t, err)

			past := time.Now().Add(-time.Hour)
			require.NoError(t, b.Sessions.SaveSession(ctx, &sp.Session{
				Token: "expired-token", AccountID: acct.ID, CreatedAt: past.Add(-time.Hour), ExpiresAt: past,
			}))
			if b.Sweep != nil {
				removed, err := b.Sweep(ctx, time.Now())
				require.NoError(t, err)
				assert.Equal(t, 1, removed)
				_, err = b.Sessions.GetSession(ctx, "expired-token")
				assert.ErrorIs(t, err, sp.ErrSessionNotFound)
			}
		})
	}
}

func TestOpenBackendsUnknown(t *testing.T) {
	_, err := openBackends(context.Background(), storeOptions{Accounts: "etcd", Sessions: "memory"})
	assert.Error(t, err)

	_, err = openBackends(context.Background(), storeOptions{Accounts: "memory", Sessions: "etcd"})
	assert.Error(t, err)
}

func TestSQLiteLogsHideCredentials(t *testing.T) {
	var logs bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&logs))
	dir := t.TempDir()
	b, err := openBackends(ctx, storeOptions{
		Accounts:   "sqlite",
		Sessions:   "sqlite",
		SQLitePath: filepath.Join(dir, "secrets.db"),
	})
	require.NoError(t, err)
	defer b.Close()

	const stored = "$argon2id$v=19$m=65536,t=3,p=2$SECRETSALT$SECRETDIGEST"
	_, err = b.Accounts.CreateLocalAccount(ctx, "alice", stored)
	require.NoError(t, err)
	_, err = b.Accounts.CreateLocalAccount(ctx, "alice", stored)
	require.ErrorIs(t, err, sp.ErrDuplicateIdentity)

	_, err = b.Accounts.FindByLocalUsername(ctx, "nobody")
	require.ErrorIs(t, err, sp.ErrAccountNotFound)

	assert.NotContains(t, logs.String(), "SECRETDIGEST")
	assert.NotContains(t, logs.String(), "SECRETSALT")
	assert.NotContains(t, logs.String(), "record not found")
}
