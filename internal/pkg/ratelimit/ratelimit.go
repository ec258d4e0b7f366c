// Package ratelimit throttles the public API and the payment webhook.
package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// limiterDatabase keeps limiter counters apart from the job queue (DB 0).
const limiterDatabase = 1

// NewStorage builds Redis storage for limiter counters from the shared cache client
// so every instance shares one budget. A nil client returns nil, which makes the
// limiter keep counters in memory.
func NewStorage(client *goredis.Client) fiber.Storage {
	if client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	addr := client.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: client.Options().Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// Config configures one limiter.
type Config struct {
	Max     int
	Window  time.Duration
	Storage fiber.Storage
	// Key identifies the caller; defaults to the client IP.
	Key func(c *fiber.Ctx) string
}

// New returns a limiter middleware answering JSON 429 when the budget is spent.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	keyFn := cfg.Key
	if keyFn == nil {
		keyFn = func(c *fiber.Ctx) string { return c.IP() }
	}

	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Window,
		Storage:      cfg.Storage,
		KeyGenerator: keyFn,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	})
}
