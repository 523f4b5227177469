package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/grants"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/grants/redisrepo"
	grantsqlite "github.com/jrsteele09/go-oidc-engine/grants/sqliterepo"
	"github.com/jrsteele09/go-oidc-engine/internal/config"
	"github.com/jrsteele09/go-oidc-engine/internal/sqlitedb"
	"github.com/jrsteele09/go-oidc-engine/sessions"
	sessionrepofake "github.com/jrsteele09/go-oidc-engine/sessions/repofake"
	sessionsqlite "github.com/jrsteele09/go-oidc-engine/sessions/sqliterepo"
	"github.com/jrsteele09/go-oidc-engine/throttle"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
	"github.com/jrsteele09/go-oidc-engine/token/keys/filerepo"
	keyrepofake "github.com/jrsteele09/go-oidc-engine/token/keys/repofake"
	keysqlite "github.com/jrsteele09/go-oidc-engine/token/keys/sqliterepo"
)

// stores holds the operational stores of the configured backend.
type stores struct {
	grants   grants.Store
	sessions sessions.Store
	keys     keys.Store
	throttle throttle.PollingThrottle

	db    *sql.DB
	redis *redis.Client
}

func (s *stores) Close() error {
	var firstErr error
	if s.redis != nil {
		firstErr = s.redis.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openStores connects the grant, session and key stores. Redis holds grants and polling
// throttles only; sessions then live in SQLite.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		s.grants = grantrepofake.NewFakeGrantRepo()
		s.sessions = sessionrepofake.NewFakeSessionRepo()
	case config.StorageSQLite:
		db, err := s.sqlite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.grants = grantsqlite.New(db)
		s.sessions = sessionsqlite.New(db)
	case config.StorageRedis:
		client, err := connectRedis(ctx, cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		s.redis = client
		s.grants = redisrepo.New(client, cfg.Storage.Redis.KeyPrefix)
		s.throttle = throttle.NewRedis(client, cfg.Storage.Redis.KeyPrefix)
		db, err := s.sqlite(ctx, cfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.sessions = sessionsqlite.New(db)
	}

	switch cfg.KeyManagement.Store {
	case config.StorageFile:
		repo, err := filerepo.New(cfg.KeyManagement.KeyPath)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open key folder: %w", err)
		}
		s.keys = repo
	case config.StorageSQLite:
		db, err := s.sqlite(ctx, cfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.keys = keysqlite.New(db)
	default:
		logger.Warn().Msg("signing keys are kept in memory and change on every restart")
		s.keys = keyrepofake.NewFakeKeyRepo()
	}

	logger.Info().Str("backend", cfg.Storage.Backend).Str("keys", cfg.KeyManagement.Store).Msg("storage ready")
	return s, nil
}

// sqlite opens the shared database once.
func (s *stores) sqlite(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data folder: %w", err)
	}
	db, err := sqlitedb.Open(ctx, cfg.Storage.SQLite)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// connectRedis waits for the server to answer a ping.
func connectRedis(ctx context.Context, rc config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", rc.Addr).Msg("redis not ready")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	return client, nil
}
