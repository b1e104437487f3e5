package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter and sets its expiry on first hit, atomically.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

type Limiter struct {
	client *redis.Client
	prefix string
}

func NewLimiter(s *Store, prefix string) *Limiter {
	return &Limiter{client: s.Client, prefix: prefix}
}

// Allow reports whether key may make another request in the current window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	n, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, limit, secs).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
