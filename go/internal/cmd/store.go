package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/dbconfig"
	"github.com/mcdev12/spoker/go/internal/store"
	"github.com/mcdev12/spoker/go/internal/store/kvstore"
	"github.com/mcdev12/spoker/go/internal/store/memstore"
	"github.com/mcdev12/spoker/go/internal/store/pgstore"
	"github.com/mcdev12/spoker/go/internal/store/redisstore"
)

// setupStore opens the configured backend. The returned cleanup releases
// whatever the backend does not own itself.
func setupStore(ctx context.Context, config *Config) (*store.Store, func(), error) {
	backend, cleanup, err := openBackend(ctx, config)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("backend", config.Store.Backend).Msg("room store ready")
	return store.New(backend, store.Config{MaxRetries: config.Store.MaxRetries}), cleanup, nil
}

func openBackend(ctx context.Context, config *Config) (store.Backend, func(), error) {
	noop := func() {}

	switch config.Store.Backend {
	case BackendMemory:
		log.Warn().Msg("using in-memory room store, rooms are lost on restart")
		return memstore.New(), noop, nil

	case BackendNATS:
		kvConfig := kvstore.DefaultConfig()
		kvConfig.URL = config.Store.NATS.URL
		kvConfig.Bucket = config.Store.NATS.Bucket
		kvConfig.History = uint8(config.Store.NATS.History)
		kvConfig.Replicas = config.Store.NATS.Replicas
		kvConfig.Storage = jetstream.FileStorage
		backend, err := kvstore.New(ctx, kvConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open nats store: %w", err)
		}
		return backend, noop, nil

	case BackendPostgres:
		dbConfig := dbconfig.NewConfigFromEnv("spoker-server")
		database, err := setupDatabase(ctx, dbConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.EnsureSchema(ctx, database); err != nil {
			database.Close()
			return nil, nil, err
		}
		pgConfig := pgstore.DefaultConfig()
		pgConfig.DatabaseURL = dbConfig.DSN()
		pgConfig.NotifyChannel = config.Store.Postgres.NotifyChannel
		pgConfig.FallbackInterval = config.Store.Postgres.FallbackInterval
		backend, err := pgstore.New(database, pgConfig)
		if err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return backend, func() { database.Close() }, nil

	case BackendRedis:
		rc := redis.NewClient(&redis.Options{
			Addr:     config.Store.Redis.Addr,
			Password: config.Store.Redis.Password,
			DB:       config.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx).Err(); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		redisConfig := redisstore.DefaultConfig()
		redisConfig.KeyPrefix = config.Store.Redis.KeyPrefix
		return redisstore.New(rc, redisConfig), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
}
