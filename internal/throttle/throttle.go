package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis failure.
var ErrUnavailable = errors.New("throttle: redis unavailable")

const keyPrefix = "sessiond:login:"

// Config tunes the failed-login window.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// Limiter counts failed logins per key in fixed Redis windows. After
// MaxAttempts failures a key is blocked until its window expires.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New returns a limiter. Non-positive settings fall back to 5 attempts per
// 15 minutes.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	return &Limiter{redis: client, config: cfg}
}

// Blocked reports whether any key has used up its attempt budget.
func (l *Limiter) Blocked(ctx context.Context, keys ...string) (bool, error) {
	for _, key := range keys {
		count, err := l.redis.Get(ctx, keyPrefix+key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if count >= int64(l.config.MaxAttempts) {
			return true, nil
		}
	}
	return false, nil
}

// Fail records one failed attempt against every key.
func (l *Limiter) Fail(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := l.incrementWithTTL(ctx, keyPrefix+key); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the counters, called after a successful login.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// incrementWithTTL bumps key inside MULTI/EXEC. SET NX opens the fixed
// window together with its TTL and INCR keeps that TTL, so a counter never
// exists without an expiry.
func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, l.config.Cooldown)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return incr.Val(), nil
}
