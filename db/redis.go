package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"soundroom/config"
	"soundroom/logger"
)

// ConnectRedis opens and pings the redis connection backing the presence
// mirror.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis",
		logger.String("host", cfg.RedisHost),
		logger.Int("db", cfg.RedisDB))
	return client, nil
}

// CloseRedis closes the client if it was opened.
func CloseRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
