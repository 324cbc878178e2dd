package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptScript атомарно инкрементирует счётчик попыток и выставляет TTL
// при первой попытке в окне. Две отдельные команды INCR+EXPIRE оставили бы
// окно без истечения при сбое между ними.
var attemptScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter — распределённый счётчик попыток поверх Redis.
// Счётчик общий для всех инстансов сервиса, ключи истекают сами.
type RedisLimiter struct {
	client      redis.Scripter
	maxAttempts int64
	window      time.Duration
}

// NewRedisLimiter создаёт лимитер: не более maxAttempts попыток на ключ
// в скользящем окне window.
func NewRedisLimiter(client redis.Scripter, maxAttempts int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow регистрирует попытку и сообщает, не превышен ли лимит.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := attemptScript.Run(ctx, l.client, []string{"attempts:" + key}, l.window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("run attempt counter script: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from attempt counter script: %T", result)
	}
	return count <= l.maxAttempts, nil
}
