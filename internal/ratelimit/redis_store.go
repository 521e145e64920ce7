package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

// RedisStore evaluates the fixed window inside Redis so several bot
// replicas share one quota per user and command.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store on top of an existing client. Keys are
// stored as "<prefix>:<userID>:<command>".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	keys := []string{fmt.Sprintf("%s:%s", s.prefix, key)}
	windowMs := limit.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	result, err := fixedWindowScript.Run(ctx, s.client, keys, limit.Quota, windowMs).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit script failed for key %s: %w", key, err)
	}

	return parseScriptResult(key, result)
}

func parseScriptResult(key string, result interface{}) (Decision, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result for key %s: %v", key, result)
	}

	admitted, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected admission flag for key %s: %T", key, values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected ttl for key %s: %T", key, values[1])
	}

	if admitted == 1 {
		return allowed(), nil
	}
	return exceeded(time.Duration(ttl) * time.Millisecond), nil
}
