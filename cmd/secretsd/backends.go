package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/datastore"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sp "github.com/sofigonzalez2012/secrets-project"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
	"github.com/sofigonzalez2012/secrets-project/stores/fs"
	"github.com/sofigonzalez2012/secrets-project/stores/gae"
	gormstore "github.com/sofigonzalez2012/secrets-project/stores/gorm"
	"github.com/sofigonzalez2012/secrets-project/stores/memory"
	redisstore "github.com/sofigonzalez2012/secrets-project/stores/redis"
	scsstore "github.com/sofigonzalez2012/secrets-project/stores/scs"
)

// storeOptions selects where accounts and sessions live
type storeOptions struct {
	Accounts string
	Sessions string

	DataDir          string
	SQLitePath       string
	RedisAddr        string
	DatastoreProject string
	Namespace        string
}

func (o *storeOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "accounts",
			Usage:       "Account backend: memory, fs, sqlite or datastore",
			Value:       "sqlite",
			EnvVars:     []string{"SECRETS_ACCOUNTS"},
			Destination: &o.Accounts,
		},
		&cli.StringFlag{
			Name:        "sessions",
			Usage:       "Session backend: memory, scs, fs, sqlite, redis or datastore",
			Value:       "sqlite",
			EnvVars:     []string{"SECRETS_SESSIONS"},
			Destination: &o.Sessions,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Root directory of the fs backends",
			Value:       "./data",
			EnvVars:     []string{"SECRETS_DATA_DIR"},
			Destination: &o.DataDir,
		},
		&cli.StringFlag{
			Name:        "sqlite",
			Usage:       "Path of the sqlite database",
			Value:       "secrets.db",
			EnvVars:     []string{"SECRETS_SQLITE_PATH"},
			Destination: &o.SQLitePath,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Address of the redis server used by the redis session backend",
			Value:       "localhost:6379",
			EnvVars:     []string{"SECRETS_REDIS_ADDR"},
			Destination: &o.RedisAddr,
		},
		&cli.StringFlag{
			Name:        "datastore-project",
			Usage:       "Google Cloud project of the datastore backends",
			EnvVars:     []string{"SECRETS_DATASTORE_PROJECT", "DATASTORE_PROJECT_ID"},
			Destination: &o.DatastoreProject,
		},
		&cli.StringFlag{
			Name:        "namespace",
			Usage:       "Datastore namespace",
			EnvVars:     []string{"SECRETS_DATASTORE_NAMESPACE"},
			Destination: &o.Namespace,
		},
	}
}

// sweepFunc removes sessions that expired before now
type sweepFunc func(ctx context.Context, now time.Time) (int, error)

// backends holds the opened stores and whatever must be closed with them
type backends struct {
	Accounts sp.AccountStore
	Sessions sp.SessionStore

	// Sweep is nil for backends that expire sessions on their own
	Sweep sweepFunc

	closers []func() error
}

func (b *backends) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// gormLogWriter sends gorm's statement log to zerolog
type gormLogWriter struct {
	logger zerolog.Logger
}

func (w gormLogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger logs failed and slow statements without their bound values,
// which include stored credentials. Misses are normal lookups and not logged.
func newGormLogger(l zerolog.Logger) logger.Interface {
	return logger.New(gormLogWriter{logger: l}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}

func openBackends(ctx context.Context, opts storeOptions) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()
	var db *gorm.DB
	openDB := func() (*gorm.DB, error) {
		if db != nil {
			return db, nil
		}
		opened, err := gorm.Open(sqlite.Open(opts.SQLitePath), &gorm.Config{
			TranslateError: true,
			Logger:         newGormLogger(logutil.GetOrDefault(ctx)),
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", opts.SQLitePath, err)
		}
		db = opened
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrating sqlite: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			b.closers = append(b.closers, sqlDB.Close)
		}
		return db, nil
	}
	var dsClient *datastore.Client
	openDatastore := func() (*datastore.Client, error) {
		if dsClient != nil {
			return dsClient, nil
		}
		client, err := datastore.NewClient(ctx, opts.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("opening datastore: %w", err)
		}
		dsClient = client
		b.closers = append(b.closers, dsClient.Close)
		return dsClient, nil
	}

	switch opts.Accounts {
	case "memory":
		b.Accounts = memory.NewAccountStore()
	case "fs":
		if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
			return nil, err
		}
		b.Accounts = fs.NewFSAccountStore(opts.DataDir)
	case "sqlite":
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		b.Accounts = gormstore.NewAccountStore(db)
	case "datastore":
		client, err := openDatastore()
		if err != nil {
			return nil, err
		}
		b.Accounts = gae.NewAccountStore(client, opts.Namespace)
	default:
		return nil, fmt.Errorf("unknown account backend %q", opts.Accounts)
	}

	switch opts.Sessions {
	case "memory":
		store := memory.NewSessionStore()
		b.Sessions = store
		b.Sweep = func(_ context.Context, now time.Time) (int, error) {
			return store.Sweep(now), nil
		}
	case "scs":
		b.Sessions = scsstore.NewSessionStore(nil)
	case "fs":
		if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
			return nil, err
		}
		store := fs.NewFSSessionStore(opts.DataDir)
		b.Sessions = store
		b.Sweep = func(_ context.Context, now time.Time) (int, error) {
			return store.Sweep(now)
		}
	case "sqlite":
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		store := gormstore.NewSessionStore(db)
		b.Sessions = store
		b.Sweep = func(ctx context.Context, now time.Time) (int, error) {
			n, err := store.DeleteExpiredSessions(ctx, now)
			return int(n), err
		}
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis %s: %w", opts.RedisAddr, err)
		}
		b.closers = append(b.closers, client.Close)
		b.Sessions = redisstore.NewSessionStore(client)
	case "datastore":
		client, err := openDatastore()
		if err != nil {
			return nil, err
		}
		store := gae.NewSessionStore(client, opts.Namespace)
		b.Sessions = store
		b.Sweep = store.DeleteExpiredSessions
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Sessions)
	}
	return b, nil
}
