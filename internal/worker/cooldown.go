package worker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Clock is the time source of the sweeper
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Cooldown throttles repeated actions per key
type Cooldown interface {
	// Allow reports whether key is past its cooldown and, if so, arms it for window
	Allow(ctx context.Context, key string, window time.Duration) bool
}

// MemoryCooldown keeps next-allowed times in process memory. State is lost on restart,
// so a restarted agent may log or submit once more before the window applies again.
type MemoryCooldown struct {
	clock Clock
	mu    sync.Mutex
	next  map[string]time.Time
}

// NewMemoryCooldown creates a process-local cooldown
func NewMemoryCooldown(clock Clock) *MemoryCooldown {
	return &MemoryCooldown{
		clock: clock,
		next:  make(map[string]time.Time),
	}
}

func (c *MemoryCooldown) Allow(ctx context.Context, key string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if next, ok := c.next[key]; ok && now.Before(next) {
		return false
	}
	c.next[key] = now.Add(window)

	// drop expired keys so finished transfers do not accumulate
	for k, next := range c.next {
		if !now.Before(next) && k != key {
			delete(c.next, k)
		}
	}
	return true
}

// RedisCooldown shares cooldowns between agent instances with SET NX PX
type RedisCooldown struct {
	client   *redis.Client
	prefix   string
	failOpen bool
	logger   *zap.Logger
}

// NewRedisCooldown creates a shared cooldown. failOpen chooses the answer when redis is unreachable.
func NewRedisCooldown(client *redis.Client, prefix string, failOpen bool, logger *zap.Logger) *RedisCooldown {
	return &RedisCooldown{
		client:   client,
		prefix:   prefix,
		failOpen: failOpen,
		logger:   logger,
	}
}

func (c *RedisCooldown) Allow(ctx context.Context, key string, window time.Duration) bool {
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, window).Result()
	if err != nil {
		c.logger.Warn("Cooldown store unavailable",
			zap.String("key", key),
			zap.Bool("fail_open", c.failOpen),
			zap.Error(err))
		return c.failOpen
	}
	return ok
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
