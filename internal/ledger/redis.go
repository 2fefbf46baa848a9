package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Each record is a redis hash with "status" and "value" fields. The
// compare-and-swap runs server-side as a Lua script so concurrent writers
// in separate processes cannot interleave between the read and the write.
var putIfStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
local expected = ARGV[1]
if (cur == false and expected == '') or cur == expected then
	redis.call('HSET', KEYS[1], 'status', ARGV[2], 'value', ARGV[3])
	return 1
end
return 0
`)

type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.HGet(ctx, key, "value").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) PutIfStatus(ctx context.Context, key, expectedStatus, newStatus string, value []byte) (bool, []byte, error) {
	res, err := putIfStatusScript.Run(ctx, s.client, []string{key}, expectedStatus, newStatus, value).Int64()
	if err != nil {
		return false, nil, fmt.Errorf("ledger conditional write %s: %w", key, err)
	}
	if res == 1 {
		return true, nil, nil
	}

	current, _, err := s.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

func (s *RedisStore) ListByPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.HGet(ctx, key, "value").Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ledger list %s: %w", prefix, err)
		}
		out = append(out, KV{Key: key, Value: val})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ledger scan %s: %w", prefix, err)
	}
	return out, nil
}
