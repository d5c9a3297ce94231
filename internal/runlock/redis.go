package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only when it still holds our token, so a lease
// that outlived its TTL cannot drop someone else's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// refreshScript resets the TTL only while the key still holds our token.
const refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// RedisLocker holds a lock as a Redis key with a TTL.
type RedisLocker struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	newToken func() string
}

func NewRedis(client *redis.Client, key string, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, newToken: uuid.NewString}, nil
}

// NewRedisURL parses a redis:// URL and builds the locker on a new client.
func NewRedisURL(rawURL, key string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), key, ttl)
}

func (l *RedisLocker) Acquire(ctx context.Context) (Lease, error) {
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire redis lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: l.client, key: l.key, token: token, ttl: l.ttl}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (r *redisLease) Refresh(ctx context.Context) error {
	n, err := r.client.Eval(ctx, refreshScript, []string{r.key}, r.token, r.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("refresh redis lock: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	err := r.client.Eval(ctx, releaseScript, []string{r.key}, r.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release redis lock: %w", err)
	}
	return nil
}
