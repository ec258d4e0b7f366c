// Package cache holds the shared Redis client used by the job queue and the rate limiter.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
)

var (
	client *redis.Client
	mu     sync.Mutex
)

// NewClient creates a Redis client from configuration and pings it once.
func NewClient(cfg *config.Config) *redis.Client {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.CacheAddr(),
		Password: cfg.CachePassword,
		DB:       cfg.CacheDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pong, err := c.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", cfg.CacheAddr(), err)
	} else {
		log.Infof("[Cache] Connected to Redis at %s: %s", cfg.CacheAddr(), pong)
	}
	return c
}

// SetupCache initializes the shared client.
func SetupCache(cfg *config.Config) *redis.Client {
	mu.Lock()
	defer mu.Unlock()
	client = NewClient(cfg)
	return client
}

// GetClient returns the shared client, or nil before SetupCache.
func GetClient() *redis.Client {
	mu.Lock()
	defer mu.Unlock()
	return client
}

// Close releases the shared client.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
