package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "channelsync:job:"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisStore keeps leases as keys with a TTL; the value is the holder's token.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(jobName string) string {
	return redisKeyPrefix + jobName
}

func (s *RedisStore) Acquire(ctx context.Context, jobName, _ string, token string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := s.client.SetNX(ctx, s.key(jobName), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set job lock in redis: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Refresh(ctx context.Context, jobName, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.client, []string{s.key(jobName)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh job lock in redis: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, jobName, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(jobName)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release job lock in redis: %w", err)
	}
	return nil
}

// Owner derives the owner from the stored token, which is "<owner>:<uuid>".
func (s *RedisStore) Owner(ctx context.Context, jobName string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(jobName)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get job lock from redis: %w", err)
	}
	if i := strings.LastIndex(val, ":"); i >= 0 {
		return val[:i], true, nil
	}
	return val, true, nil
}
