package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pressline/conveyor/store"
	"github.com/pressline/conveyor/store/memory"
	"github.com/pressline/conveyor/store/mongo"
	"github.com/pressline/conveyor/store/postgres"
	"github.com/pressline/conveyor/store/redis"
	"github.com/pressline/conveyor/store/sqlite"
)

// openStore constructs the backend named by the configuration.
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		logger.Warn("using the in-memory store, jobs will not survive a restart")
		return memory.New(), nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("store postgres requires CONVEYOR_POSTGRES_DSN")
		}
		return postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))

	case "sqlite":
		return sqlite.New(cfg.SQLitePath, sqlite.WithLogger(logger))

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("store redis requires CONVEYOR_REDIS_ADDR")
		}
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redis.New(client, redis.WithLogger(logger)), nil

	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("store mongo requires CONVEYOR_MONGO_URI")
		}
		return mongo.New(ctx, cfg.MongoURI, cfg.MongoDB, mongo.WithLogger(logger))

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
