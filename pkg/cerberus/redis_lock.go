package cerberus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another host is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a lease in Redis. TTL bounds how long a crashed holder can
// block others.
type RedisLock struct {
	client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewRedisLock(addr, key string, ttl time.Duration) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLock{client: client, Key: key, TTL: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (func() error, error) {
	host, _ := os.Hostname()
	token := fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.New().String())

	ok, err := l.client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return nil, NewLockError(l.Key, err)
	}
	if !ok {
		return nil, NewLockError(l.Key, ErrLocked)
	}

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.Key}, token).Err(); err != nil {
			return NewLockError(l.Key, err)
		}
		return nil
	}, nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}
